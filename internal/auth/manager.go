// Package auth implements the unified OAuth2 authorization and token
// lifecycle manager: authorization URL construction with PKCE and CSRF state,
// code-for-token exchange, automatic refresh, and the authenticated request
// wrapper used for all outbound platform calls. Platform differences are
// driven entirely by the registry's quirks table; no component here branches
// on a platform name.
package auth

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/blush-labs/socialauth/internal/registry"
	"github.com/blush-labs/socialauth/internal/store"
)

const defaultHTTPTimeout = 30 * time.Second

// Manager coordinates the authorization flow and token lifecycle for every
// configured platform. Construct one per process and share it; all methods
// are safe for concurrent use.
type Manager struct {
	registry   *registry.Registry
	states     StateStore
	tokens     store.TokenStore
	httpClient *http.Client

	// refreshGroup collapses concurrent refreshes for the same platform into
	// a single in-flight request. Some vendors invalidate a refresh token on
	// first use, so a duplicate concurrent refresh is destructive, not just
	// wasteful.
	refreshGroup singleflight.Group

	// cached last-known-good records, dropped on any auth failure.
	cacheMu sync.Mutex
	cache   map[string]*store.TokenRecord
}

// Options carries optional Manager construction knobs.
type Options struct {
	// HTTPClient overrides the outbound HTTP client (proxy, timeouts).
	HTTPClient *http.Client
}

// NewManager constructs a manager with the provided collaborators.
func NewManager(reg *registry.Registry, states StateStore, tokens store.TokenStore, opts *Options) *Manager {
	client := &http.Client{Timeout: defaultHTTPTimeout}
	if opts != nil && opts.HTTPClient != nil {
		client = opts.HTTPClient
	}
	return &Manager{
		registry:   reg,
		states:     states,
		tokens:     tokens,
		httpClient: client,
		cache:      make(map[string]*store.TokenRecord),
	}
}

// platform resolves a platform id, wrapping registry failures into the
// configuration error callers are expected to match on.
func (m *Manager) platform(id string) (*registry.PlatformConfig, error) {
	p, err := m.registry.Get(id)
	if err != nil {
		return nil, &ConfigurationError{Platform: id, Err: err}
	}
	return p, nil
}

// IsAuthenticated reports whether a platform has a usable credential: an
// active token that is either unexpired or renewable without user
// interaction.
func (m *Manager) IsAuthenticated(ctx context.Context, platform string) bool {
	rec, err := m.tokens.GetActive(ctx, platform)
	if err != nil {
		log.Errorf("load active token for %s failed: %v", platform, err)
		return false
	}
	if rec == nil {
		return false
	}
	return rec.RefreshToken != "" || !rec.Expired(time.Now())
}

// ActiveToken returns the platform's active token record, or nil when the
// platform has never authorized or has been revoked.
func (m *Manager) ActiveToken(ctx context.Context, platform string) (*store.TokenRecord, error) {
	return m.tokens.GetActive(ctx, platform)
}

// Revoke permanently deactivates the platform's active token. The platform
// must complete a fresh authorization flow to become usable again.
func (m *Manager) Revoke(ctx context.Context, platform string) error {
	m.invalidate(platform)
	err := m.tokens.Revoke(ctx, platform)
	if errors.Is(err, store.ErrNoActiveToken) {
		return &AuthenticationError{Platform: platform, Reason: "not authenticated"}
	}
	return err
}

// cachedRecord returns the cached record for a platform, if any.
func (m *Manager) cachedRecord(platform string) *store.TokenRecord {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	return m.cache[platform]
}

// remember stores the last-known-good record for a platform.
func (m *Manager) remember(rec *store.TokenRecord) {
	if rec == nil {
		return
	}
	m.cacheMu.Lock()
	m.cache[rec.Platform] = rec
	m.cacheMu.Unlock()
}

// invalidate drops cached state so the next call starts from a clean store
// lookup.
func (m *Manager) invalidate(platform string) {
	m.cacheMu.Lock()
	delete(m.cache, platform)
	m.cacheMu.Unlock()
}

// Close releases the state store's background resources.
func (m *Manager) Close() {
	m.states.Close()
}
