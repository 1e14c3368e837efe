package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"time"
)

// Authorization is the result of starting an authorization flow: the URL to
// send the user to and the opaque state the callback must round-trip.
type Authorization struct {
	AuthorizationURL string `json:"authorization_url"`
	State            string `json:"state"`
}

// AuthorizationURL builds the authorization redirect URL for a platform,
// generating CSRF state (and a PKCE verifier/challenge pair when the platform
// requires PKCE) and recording both in the state store for the callback.
// scopes overrides the platform's default scope set when non-empty.
func (m *Manager) AuthorizationURL(ctx context.Context, platform string, scopes []string) (*Authorization, error) {
	p, err := m.platform(platform)
	if err != nil {
		return nil, err
	}

	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}

	entry := &OAuthState{
		State:     state,
		Platform:  p.ID,
		CreatedAt: time.Now().UTC(),
	}

	params := url.Values{}
	params.Set(p.IDParam(), p.ClientID)
	params.Set("redirect_uri", p.RedirectURI)
	params.Set("response_type", "code")
	params.Set("scope", p.ScopeString(scopes))
	params.Set("state", state)

	if p.UsesPKCE {
		codes, errPKCE := GeneratePKCECodes(p.ChallengeEncoding())
		if errPKCE != nil {
			return nil, errPKCE
		}
		entry.CodeVerifier = codes.CodeVerifier
		params.Set("code_challenge", codes.CodeChallenge)
		params.Set("code_challenge_method", "S256")
	}

	for key, value := range p.Quirks.ExtraAuthParams {
		params.Set(key, value)
	}

	if err = m.states.Put(ctx, p.ID, state, entry); err != nil {
		return nil, fmt.Errorf("failed to store authorization state: %w", err)
	}

	return &Authorization{
		AuthorizationURL: fmt.Sprintf("%s?%s", p.AuthorizationEndpoint, params.Encode()),
		State:            state,
	}, nil
}

// generateState returns an unguessable random token: 32 bytes (256 bits) of
// entropy, URL-safe base64 without padding.
func generateState() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(bytes), nil
}
