package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryTokenStore keeps token records in process memory. It backs tests and
// throwaway deployments; everything is lost on restart.
type MemoryTokenStore struct {
	mu      sync.Mutex
	records map[string][]*TokenRecord
}

// NewMemoryTokenStore constructs an empty in-memory token store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{records: make(map[string][]*TokenRecord)}
}

// GetActive returns the active record for a platform, or nil when none exists.
func (s *MemoryTokenStore) GetActive(_ context.Context, platform string) (*TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked(platform).Clone(), nil
}

func (s *MemoryTokenStore) activeLocked(platform string) *TokenRecord {
	for _, rec := range s.records[platform] {
		if rec.IsActive {
			return rec
		}
	}
	return nil
}

// Save appends a new active record, deactivating any prior active one.
func (s *MemoryTokenStore) Save(_ context.Context, platform string, update TokenUpdate) (*TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev := s.activeLocked(platform); prev != nil {
		prev.IsActive = false
	}

	now := time.Now().UTC()
	rec := &TokenRecord{
		ID:              uuid.NewString(),
		Platform:        platform,
		AccessToken:     update.AccessToken,
		RefreshToken:    update.RefreshToken,
		ExpiresAt:       update.ExpiresAt,
		IsActive:        true,
		Metadata:        update.Metadata,
		LastRefreshedAt: now,
		CreatedAt:       now,
	}
	s.records[platform] = append(s.records[platform], rec)
	return rec.Clone(), nil
}

// Refresh mutates the active record in place.
func (s *MemoryTokenStore) Refresh(_ context.Context, platform string, update TokenUpdate) (*TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.activeLocked(platform)
	if rec == nil {
		return nil, ErrNoActiveToken
	}
	applyRefresh(rec, update, time.Now().UTC())
	return rec.Clone(), nil
}

// Revoke permanently deactivates the active record.
func (s *MemoryTokenStore) Revoke(_ context.Context, platform string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.activeLocked(platform)
	if rec == nil {
		return ErrNoActiveToken
	}
	now := time.Now().UTC()
	rec.IsActive = false
	rec.RevokedAt = &now
	return nil
}

// Records returns every stored record for a platform, newest last. Test helper.
func (s *MemoryTokenStore) Records(platform string) []*TokenRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*TokenRecord, 0, len(s.records[platform]))
	for _, rec := range s.records[platform] {
		out = append(out, rec.Clone())
	}
	return out
}
