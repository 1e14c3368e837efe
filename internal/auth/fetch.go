package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/blush-labs/socialauth/internal/store"
)

// refreshHorizon is how close to expiry a token may get before Fetch renews
// it ahead of the request.
const refreshHorizon = 5 * time.Minute

// RequestOptions customizes an authenticated outbound request. The body is a
// byte slice rather than a reader so the single transparent retry after a 401
// can replay it.
type RequestOptions struct {
	Method string
	Header http.Header
	Body   []byte
}

// Fetch performs an authenticated request to a platform API. It injects the
// bearer token, refreshes proactively when the token is near expiry (or has
// no known expiry) and a refresh token exists, and transparently refreshes
// and retries exactly once on 401. An unrecoverable auth failure surfaces as
// an AuthenticationError and drops cached platform state.
func (m *Manager) Fetch(ctx context.Context, platform, rawURL string, opts *RequestOptions) (*http.Response, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}

	rec, err := m.activeRecord(ctx, platform)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if rec.ExpiresAt == nil || now.Add(refreshHorizon).After(*rec.ExpiresAt) {
		if rec.RefreshToken != "" {
			if rec, err = m.Refresh(ctx, platform); err != nil {
				return nil, m.surfaceRefreshFailure(platform, err)
			}
		} else if rec.Expired(now) {
			// Expired with no way to renew: fail before touching the network.
			m.invalidate(platform)
			return nil, &AuthenticationError{Platform: platform, Reason: "token expired and no refresh token available"}
		}
	}

	resp, err := m.send(ctx, rawURL, opts, rec.AccessToken)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	_ = resp.Body.Close()

	if rec.RefreshToken == "" {
		m.invalidate(platform)
		return nil, &AuthenticationError{Platform: platform, Reason: "request unauthorized and no refresh token available"}
	}

	log.Debugf("platform %s returned 401, refreshing and retrying once", platform)
	if rec, err = m.Refresh(ctx, platform); err != nil {
		return nil, m.surfaceRefreshFailure(platform, err)
	}

	retry, err := m.send(ctx, rawURL, opts, rec.AccessToken)
	if err != nil {
		return nil, err
	}
	if retry.StatusCode == http.StatusUnauthorized {
		// One retry only; a platform that keeps rejecting the token needs
		// re-authorization, not a retry loop.
		_ = retry.Body.Close()
		m.invalidate(platform)
		return nil, &AuthenticationError{Platform: platform, Reason: "request unauthorized after token refresh"}
	}
	return retry, nil
}

// activeRecord loads the platform's active token, preferring the cached
// last-known-good record when it is not near expiry.
func (m *Manager) activeRecord(ctx context.Context, platform string) (*store.TokenRecord, error) {
	if cached := m.cachedRecord(platform); cached != nil &&
		cached.ExpiresAt != nil && time.Now().Add(refreshHorizon).Before(*cached.ExpiresAt) {
		return cached, nil
	}

	rec, err := m.tokens.GetActive(ctx, platform)
	if err != nil {
		return nil, fmt.Errorf("failed to load active token: %w", err)
	}
	if rec == nil {
		return nil, &AuthenticationError{Platform: platform, Reason: "not authenticated"}
	}
	m.remember(rec)
	return rec, nil
}

// send issues one bearer-authenticated request.
func (m *Manager) send(ctx context.Context, rawURL string, opts *RequestOptions, accessToken string) (*http.Response, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	var body *bytes.Reader
	if len(opts.Body) > 0 {
		body = bytes.NewReader(opts.Body)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, values := range opts.Header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	return m.httpClient.Do(req)
}

// surfaceRefreshFailure converts a non-recoverable refresh failure into the
// AuthenticationError the caller acts on; recoverable failures pass through
// for caller-level retry.
func (m *Manager) surfaceRefreshFailure(platform string, err error) error {
	var refreshErr *RefreshError
	if errors.As(err, &refreshErr) && !refreshErr.Recoverable {
		m.invalidate(platform)
		return &AuthenticationError{Platform: platform, Reason: "refresh rejected; full authorization flow required"}
	}
	return err
}
