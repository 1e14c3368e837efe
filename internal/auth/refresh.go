package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/blush-labs/socialauth/internal/registry"
	"github.com/blush-labs/socialauth/internal/store"
)

// Refresh renews the platform's active token and persists the result in
// place. Concurrent calls for the same platform collapse into one outbound
// refresh request; every caller receives the same outcome.
func (m *Manager) Refresh(ctx context.Context, platform string) (*store.TokenRecord, error) {
	result, err, _ := m.refreshGroup.Do(platform, func() (any, error) {
		return m.refresh(ctx, platform)
	})
	if err != nil {
		return nil, err
	}
	return result.(*store.TokenRecord), nil
}

func (m *Manager) refresh(ctx context.Context, platform string) (*store.TokenRecord, error) {
	p, err := m.platform(platform)
	if err != nil {
		return nil, err
	}

	rec, err := m.tokens.GetActive(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active token: %w", err)
	}
	if rec == nil {
		return nil, &AuthenticationError{Platform: p.ID, Reason: "not authenticated"}
	}
	if rec.RefreshToken == "" {
		return nil, &RefreshError{
			Platform:    p.ID,
			Recoverable: false,
			Err:         errors.New("no refresh token; full authorization flow required"),
		}
	}

	var update store.TokenUpdate
	if p.Quirks.ManualRefresh {
		update, err = m.manualRefresh(ctx, p, rec.RefreshToken)
	} else {
		update, err = m.standardRefresh(ctx, p, rec.RefreshToken)
	}
	if err != nil {
		m.invalidate(p.ID)
		return nil, err
	}

	refreshed, err := m.tokens.Refresh(ctx, p.ID, update)
	if err != nil {
		return nil, fmt.Errorf("failed to persist refreshed token: %w", err)
	}
	m.remember(refreshed)
	log.Debugf("platform %s token refreshed, expires %s", p.ID, expiryString(refreshed.ExpiresAt))
	return refreshed, nil
}

// standardRefresh runs the generic refresh-token grant for standards-
// compliant platforms.
func (m *Manager) standardRefresh(ctx context.Context, p *registry.PlatformConfig, refreshToken string) (store.TokenUpdate, error) {
	authStyle := oauth2.AuthStyleInParams
	if p.Quirks.BasicAuthHeader {
		authStyle = oauth2.AuthStyleInHeader
	}
	conf := &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  p.RefreshURL(),
			AuthStyle: authStyle,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	token, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return store.TokenUpdate{}, classifyRefreshFailure(p.ID, retrieveErr.Response.StatusCode, string(retrieveErr.Body))
		}
		return store.TokenUpdate{}, &RefreshError{Platform: p.ID, Recoverable: true, Err: err}
	}

	update := store.TokenUpdate{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry.UTC()
		update.ExpiresAt = &expiry
	} else if p.FallbackTokenTTL > 0 {
		expiry := time.Now().UTC().Add(p.FallbackTokenTTL)
		update.ExpiresAt = &expiry
	}
	return update, nil
}

// manualRefresh runs the quirk-driven refresh adapter for platforms whose
// refresh request diverges from the standard grant: quirk parameter names,
// form-encoded body, and a vendor-specific refresh endpoint.
func (m *Manager) manualRefresh(ctx context.Context, p *registry.PlatformConfig, refreshToken string) (store.TokenUpdate, error) {
	params := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	}

	body, status, err := m.doTokenRequest(ctx, p, p.RefreshURL(), params)
	if err != nil {
		return store.TokenUpdate{}, &RefreshError{Platform: p.ID, Recoverable: true, Err: err}
	}
	if status != http.StatusOK {
		return store.TokenUpdate{}, classifyRefreshFailure(p.ID, status, string(body))
	}

	update, err := normalizeTokenResponse(p, body)
	if err != nil {
		return store.TokenUpdate{}, &RefreshError{Platform: p.ID, StatusCode: status, Body: err.Error(), Recoverable: false}
	}
	return update, nil
}

// classifyRefreshFailure decides whether a refresh failure is worth retrying.
// Rejected or expired refresh tokens are permanent; rate limits and server
// errors are not.
func classifyRefreshFailure(platform string, status int, body string) *RefreshError {
	recoverable := status == 0 || status >= http.StatusInternalServerError || status == http.StatusTooManyRequests
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
		recoverable = false
	}
	lowered := strings.ToLower(body)
	if strings.Contains(lowered, "invalid_grant") || strings.Contains(lowered, "expired") {
		recoverable = false
	}
	return &RefreshError{Platform: platform, StatusCode: status, Body: body, Recoverable: recoverable}
}
