package auth

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// OAuthState is one pending authorization attempt: a CSRF state token bound
// to its platform and, for PKCE platforms, the code verifier the callback
// will need for the token exchange.
type OAuthState struct {
	State        string    `json:"state"`
	Platform     string    `json:"platform"`
	CodeVerifier string    `json:"code_verifier,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// StateStore holds pending authorization state for the window between issuing
// an authorization URL and handling its callback. Entries are single use:
// Take removes atomically, so two callbacks racing on the same state cannot
// both succeed. Entries evaporate after the store's TTL even if never taken.
type StateStore interface {
	// Put stores a pending entry keyed by (platform, state).
	Put(ctx context.Context, platform, state string, entry *OAuthState) error
	// Take looks up and removes the entry atomically. Returns nil when the
	// entry is absent, expired, or already consumed.
	Take(ctx context.Context, platform, state string) (*OAuthState, error)
	// Close releases background resources held by the store.
	Close()
}

func stateKey(platform, state string) string {
	return platform + ":" + state
}

// MemoryStateStore is the in-process StateStore used for single-instance
// deployments. Backed by a TTL cache; expired entries are evicted by a
// background loop and never returned.
type MemoryStateStore struct {
	cache *ttlcache.Cache[string, *OAuthState]
}

// NewMemoryStateStore creates an in-memory state store whose entries live for
// at most ttl.
func NewMemoryStateStore(ttl time.Duration) *MemoryStateStore {
	cache := ttlcache.New[string, *OAuthState](
		ttlcache.WithTTL[string, *OAuthState](ttl),
		ttlcache.WithDisableTouchOnHit[string, *OAuthState](),
	)
	go cache.Start()
	return &MemoryStateStore{cache: cache}
}

// Put stores a pending entry under the store's TTL.
func (s *MemoryStateStore) Put(_ context.Context, platform, state string, entry *OAuthState) error {
	s.cache.Set(stateKey(platform, state), entry, ttlcache.DefaultTTL)
	return nil
}

// Take removes and returns the entry, or nil when absent or expired.
func (s *MemoryStateStore) Take(_ context.Context, platform, state string) (*OAuthState, error) {
	item, ok := s.cache.GetAndDelete(stateKey(platform, state))
	if !ok || item == nil || item.IsExpired() {
		return nil, nil
	}
	return item.Value(), nil
}

// Close stops the eviction loop.
func (s *MemoryStateStore) Close() {
	s.cache.Stop()
}
