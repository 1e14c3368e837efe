package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileTokenStore persists token records as one JSON document per platform
// under a base directory. Suitable for single-instance deployments; writes go
// through a temp file and rename so a crash never leaves a truncated document.
type FileTokenStore struct {
	mu      sync.Mutex
	baseDir string
}

// platformDocument is the on-disk shape for one platform's token history.
type platformDocument struct {
	Records []*TokenRecord `json:"records"`
}

// NewFileTokenStore creates a token store rooted at baseDir.
func NewFileTokenStore(baseDir string) *FileTokenStore {
	return &FileTokenStore{baseDir: strings.TrimSpace(baseDir)}
}

func (s *FileTokenStore) path(platform string) string {
	return filepath.Join(s.baseDir, platform+".json")
}

func (s *FileTokenStore) load(platform string) (*platformDocument, error) {
	doc := &platformDocument{}
	data, err := os.ReadFile(s.path(platform))
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return nil, fmt.Errorf("token filestore: read %s failed: %w", platform, err)
	}
	if err = json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("token filestore: parse %s failed: %w", platform, err)
	}
	return doc, nil
}

func (s *FileTokenStore) write(platform string, doc *platformDocument) error {
	if err := os.MkdirAll(s.baseDir, 0o700); err != nil {
		return fmt.Errorf("token filestore: create dir failed: %w", err)
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("token filestore: marshal %s failed: %w", platform, err)
	}
	tmp := s.path(platform) + ".tmp"
	if err = os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("token filestore: write %s failed: %w", platform, err)
	}
	if err = os.Rename(tmp, s.path(platform)); err != nil {
		return fmt.Errorf("token filestore: rename %s failed: %w", platform, err)
	}
	return nil
}

func (d *platformDocument) active() *TokenRecord {
	for _, rec := range d.Records {
		if rec.IsActive {
			return rec
		}
	}
	return nil
}

// GetActive returns the active record for a platform, or nil when none exists.
func (s *FileTokenStore) GetActive(_ context.Context, platform string) (*TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(platform)
	if err != nil {
		return nil, err
	}
	return doc.active().Clone(), nil
}

// Save appends a new active record, deactivating any prior active one.
func (s *FileTokenStore) Save(_ context.Context, platform string, update TokenUpdate) (*TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(platform)
	if err != nil {
		return nil, err
	}
	if prev := doc.active(); prev != nil {
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
	doc.Records = append(doc.Records, rec)
	if err = s.write(platform, doc); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Refresh mutates the active record in place.
func (s *FileTokenStore) Refresh(_ context.Context, platform string, update TokenUpdate) (*TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(platform)
	if err != nil {
		return nil, err
	}
	rec := doc.active()
	if rec == nil {
		return nil, ErrNoActiveToken
	}
	applyRefresh(rec, update, time.Now().UTC())
	if err = s.write(platform, doc); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Revoke permanently deactivates the active record.
func (s *FileTokenStore) Revoke(_ context.Context, platform string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(platform)
	if err != nil {
		return err
	}
	rec := doc.active()
	if rec == nil {
		return ErrNoActiveToken
	}
	now := time.Now().UTC()
	rec.IsActive = false
	rec.RevokedAt = &now
	return s.write(platform, doc)
}
