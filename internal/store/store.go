// Package store persists OAuth token records. The TokenStore contract keeps
// at most one active record per platform: Save deactivates any prior active
// record, Refresh mutates the active record in place, and Revoke permanently
// retires it. Backends: in-memory, file, PostgreSQL, and S3-compatible object
// storage.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNoActiveToken indicates a refresh or revoke was attempted for a platform
// that has no active token record.
var ErrNoActiveToken = errors.New("store: no active token")

// TokenRecord is one persisted credential for a platform.
type TokenRecord struct {
	// ID uniquely identifies the record across restarts.
	ID string `json:"id"`
	// Platform is the owning platform id (e.g. "youtube").
	Platform string `json:"platform"`
	// AccessToken is the bearer token presented on API calls.
	AccessToken string `json:"access_token"`
	// RefreshToken is the long-lived credential used to renew the access
	// token. Empty when the grant never returned one.
	RefreshToken string `json:"refresh_token,omitempty"`
	// ExpiresAt is the access-token expiry. Nil when the vendor omitted it
	// and no fallback window was applied.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	// IsActive marks the single record used for outbound calls.
	IsActive bool `json:"is_active"`
	// Metadata stores platform-specific auxiliary identifiers discovered
	// after auth (e.g. a downstream account id).
	Metadata map[string]any `json:"metadata,omitempty"`
	// LastRefreshedAt records the last successful refresh time in UTC.
	LastRefreshedAt time.Time `json:"last_refreshed_at"`
	// CreatedAt is the creation timestamp in UTC.
	CreatedAt time.Time `json:"created_at"`
	// RevokedAt is set once when the record is revoked; revocation is permanent.
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// Clone returns a copy of the record with its metadata map duplicated so
// callers cannot mutate stored state.
func (r *TokenRecord) Clone() *TokenRecord {
	if r == nil {
		return nil
	}
	copied := *r
	if len(r.Metadata) > 0 {
		copied.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			copied.Metadata[k] = v
		}
	}
	return &copied
}

// Expired reports whether the record's access token is past its expiry at
// the given instant. Records without an expiry never report expired.
func (r *TokenRecord) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// TokenUpdate carries the fields written by an exchange or refresh.
type TokenUpdate struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Metadata     map[string]any
}

// TokenStore is the token persistence contract consumed by the auth manager.
type TokenStore interface {
	// GetActive returns the active token record for a platform, or nil when
	// the platform has never authenticated or its token was revoked.
	GetActive(ctx context.Context, platform string) (*TokenRecord, error)
	// Save persists a freshly exchanged token as the platform's active
	// record, deactivating any prior active record.
	Save(ctx context.Context, platform string, update TokenUpdate) (*TokenRecord, error)
	// Refresh mutates the platform's active record in place, preserving its
	// identity, metadata, and active flag. A missing refresh token in the
	// update keeps the previous one. Fails with ErrNoActiveToken when the
	// platform has no active record.
	Refresh(ctx context.Context, platform string, update TokenUpdate) (*TokenRecord, error)
	// Revoke permanently deactivates the platform's active record and stamps
	// its revocation time. Fails with ErrNoActiveToken when there is none.
	Revoke(ctx context.Context, platform string) error
}

// applyRefresh applies a refresh update to an active record in place.
// Shared by all backends so the preserve-identity semantics stay uniform.
func applyRefresh(rec *TokenRecord, update TokenUpdate, now time.Time) {
	rec.AccessToken = update.AccessToken
	if update.RefreshToken != "" {
		rec.RefreshToken = update.RefreshToken
	}
	rec.ExpiresAt = update.ExpiresAt
	for k, v := range update.Metadata {
		if rec.Metadata == nil {
			rec.Metadata = make(map[string]any)
		}
		rec.Metadata[k] = v
	}
	rec.LastRefreshedAt = now
}
