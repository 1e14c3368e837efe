package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/blush-labs/socialauth/internal/registry"
	"github.com/blush-labs/socialauth/internal/store"
)

// HandleCallback completes the authorization flow: it consumes the pending
// state entry (single use, defending against replayed callbacks), exchanges
// the authorization code for tokens, normalizes the vendor response, and
// persists the result as the platform's active token.
func (m *Manager) HandleCallback(ctx context.Context, platform, callbackURL, state string) (*store.TokenRecord, error) {
	p, err := m.platform(platform)
	if err != nil {
		return nil, err
	}

	entry, err := m.states.Take(ctx, p.ID, state)
	if err != nil {
		return nil, fmt.Errorf("failed to consume authorization state: %w", err)
	}
	if entry == nil {
		return nil, &StateError{Platform: p.ID, Reason: "invalid or expired state"}
	}

	code, err := parseCallbackCode(p.ID, callbackURL)
	if err != nil {
		return nil, err
	}

	params := map[string]string{
		"grant_type":   "authorization_code",
		"code":         code,
		"redirect_uri": p.RedirectURI,
	}
	if entry.CodeVerifier != "" {
		params["code_verifier"] = entry.CodeVerifier
	}

	body, status, err := m.doTokenRequest(ctx, p, p.TokenEndpoint, params)
	if err != nil {
		return nil, fmt.Errorf("token exchange request failed: %w", err)
	}
	if status != http.StatusOK {
		return nil, &ExchangeError{Platform: p.ID, StatusCode: status, Body: string(body)}
	}

	update, err := normalizeTokenResponse(p, body)
	if err != nil {
		return nil, &ExchangeError{Platform: p.ID, StatusCode: status, Body: err.Error()}
	}

	rec, err := m.tokens.Save(ctx, p.ID, update)
	if err != nil {
		return nil, fmt.Errorf("failed to persist token: %w", err)
	}
	m.remember(rec)
	log.Infof("platform %s authorized, token expires %s", p.ID, expiryString(rec.ExpiresAt))
	return rec, nil
}

// parseCallbackCode extracts the authorization code from the callback URL,
// surfacing any vendor-reported error parameter instead.
func parseCallbackCode(platform, callbackURL string) (string, error) {
	parsed, err := url.Parse(callbackURL)
	if err != nil {
		return "", &ExchangeError{Platform: platform, Body: fmt.Sprintf("invalid callback url: %v", err)}
	}
	query := parsed.Query()
	if vendorErr := query.Get("error"); vendorErr != "" {
		detail := vendorErr
		if desc := query.Get("error_description"); desc != "" {
			detail = vendorErr + ": " + desc
		}
		return "", &ExchangeError{Platform: platform, Body: detail}
	}
	code := query.Get("code")
	if code == "" {
		return "", &ExchangeError{Platform: platform, Body: "callback missing authorization code"}
	}
	return code, nil
}

// doTokenRequest sends a token-endpoint request shaped by the platform's
// quirks: form- or JSON-encoded body, quirk parameter names for client
// credentials, and optional HTTP Basic authentication.
func (m *Manager) doTokenRequest(ctx context.Context, p *registry.PlatformConfig, endpoint string, params map[string]string) ([]byte, int, error) {
	params[p.IDParam()] = p.ClientID
	if p.ClientSecret != "" && !p.Quirks.BasicAuthHeader {
		params[p.SecretParam()] = p.ClientSecret
	}

	var bodyReader io.Reader
	contentType := "application/x-www-form-urlencoded"
	if p.RequestFormat() == registry.RequestFormatJSON {
		jsonBody := ""
		for key, value := range params {
			jsonBody, _ = sjson.Set(jsonBody, key, value)
		}
		bodyReader = strings.NewReader(jsonBody)
		contentType = "application/json"
	} else {
		form := url.Values{}
		for key, value := range params {
			form.Set(key, value)
		}
		bodyReader = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if p.Quirks.BasicAuthHeader {
		basic := base64.StdEncoding.EncodeToString([]byte(p.ClientID + ":" + p.ClientSecret))
		req.Header.Set("Authorization", "Basic "+basic)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("failed to close response body: %v", errClose)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read token response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// metadataKeys are auxiliary identifiers worth keeping from token responses.
// They feed later API calls (e.g. TikTok requires open_id on uploads).
var metadataKeys = [...]string{"open_id", "scope", "token_type", "account_id", "user_id"}

// normalizeTokenResponse converts a vendor token payload into the canonical
// token update. Vendors disagree on shape: fields may sit at the top level or
// under a "data" object, expiry may arrive as expires_in seconds or an
// absolute expires_at, or be missing entirely, in which case the platform's
// fallback window applies.
func normalizeTokenResponse(p *registry.PlatformConfig, body []byte) (store.TokenUpdate, error) {
	root := gjson.ParseBytes(body)
	obj := root
	if !root.Get("access_token").Exists() && root.Get("data").IsObject() {
		obj = root.Get("data")
	}

	accessToken := obj.Get("access_token").String()
	if accessToken == "" {
		return store.TokenUpdate{}, fmt.Errorf("response missing access_token")
	}

	update := store.TokenUpdate{
		AccessToken:  accessToken,
		RefreshToken: obj.Get("refresh_token").String(),
		ExpiresAt:    deriveExpiry(p, obj),
	}

	for _, key := range metadataKeys {
		if value := obj.Get(key); value.Exists() && value.String() != "" {
			if update.Metadata == nil {
				update.Metadata = make(map[string]any)
			}
			update.Metadata[key] = value.String()
		}
	}
	return update, nil
}

// deriveExpiry resolves the access-token expiry from whichever field the
// vendor populated, falling back to the platform's assumed lifetime.
func deriveExpiry(p *registry.PlatformConfig, obj gjson.Result) *time.Time {
	now := time.Now().UTC()
	if v := obj.Get("expires_in"); v.Exists() && v.Int() > 0 {
		t := now.Add(time.Duration(v.Int()) * time.Second)
		return &t
	}
	if v := obj.Get("expires_at"); v.Exists() {
		if v.Type == gjson.Number && v.Int() > 0 {
			t := time.Unix(v.Int(), 0).UTC()
			return &t
		}
		if ts, err := time.Parse(time.RFC3339, v.String()); err == nil {
			t := ts.UTC()
			return &t
		}
	}
	if p.FallbackTokenTTL > 0 {
		t := now.Add(p.FallbackTokenTTL)
		return &t
	}
	return nil
}

func expiryString(t *time.Time) string {
	if t == nil {
		return "never (no expiry reported)"
	}
	return t.Format(time.RFC3339)
}
