package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStoreConfig captures configuration for the object-storage token store.
type ObjectStoreConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Prefix    string
	UseSSL    bool
}

// ObjectTokenStore persists token records in an S3-compatible bucket, one JSON
// document per platform. Mutations are read-modify-write guarded by a local
// mutex; this backend assumes a single writer instance.
type ObjectTokenStore struct {
	client *minio.Client
	cfg    ObjectStoreConfig
	mu     sync.Mutex
}

// NewObjectTokenStore connects to the object storage endpoint and ensures the
// bucket exists.
func NewObjectTokenStore(ctx context.Context, cfg ObjectStoreConfig) (*ObjectTokenStore, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Bucket = strings.TrimSpace(cfg.Bucket)
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("object token store: endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object token store: bucket is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("object token store: create client: %w", err)
	}

	s := &ObjectTokenStore{client: client, cfg: cfg}
	if err = s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ObjectTokenStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("object token store: check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err = s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("object token store: create bucket: %w", err)
	}
	return nil
}

func (s *ObjectTokenStore) key(platform string) string {
	if s.cfg.Prefix != "" {
		return s.cfg.Prefix + "/tokens/" + platform + ".json"
	}
	return "tokens/" + platform + ".json"
}

func (s *ObjectTokenStore) load(ctx context.Context, platform string) (*platformDocument, error) {
	doc := &platformDocument{}
	object, err := s.client.GetObject(ctx, s.cfg.Bucket, s.key(platform), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("object token store: get %s: %w", platform, err)
	}
	defer func() { _ = object.Close() }()

	data, err := io.ReadAll(object)
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.StatusCode == http.StatusNotFound {
			return doc, nil
		}
		return nil, fmt.Errorf("object token store: read %s: %w", platform, err)
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err = json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("object token store: parse %s: %w", platform, err)
	}
	return doc, nil
}

func (s *ObjectTokenStore) write(ctx context.Context, platform string, doc *platformDocument) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("object token store: marshal %s: %w", platform, err)
	}
	_, err = s.client.PutObject(ctx, s.cfg.Bucket, s.key(platform),
		bytes.NewReader(raw), int64(len(raw)), minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("object token store: put %s: %w", platform, err)
	}
	return nil
}

// GetActive returns the active record for a platform, or nil when none exists.
func (s *ObjectTokenStore) GetActive(ctx context.Context, platform string) (*TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(ctx, platform)
	if err != nil {
		return nil, err
	}
	return doc.active().Clone(), nil
}

// Save appends a new active record, deactivating any prior active one.
func (s *ObjectTokenStore) Save(ctx context.Context, platform string, update TokenUpdate) (*TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx, platform)
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
	if err = s.write(ctx, platform, doc); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Refresh mutates the active record in place.
func (s *ObjectTokenStore) Refresh(ctx context.Context, platform string, update TokenUpdate) (*TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx, platform)
	if err != nil {
		return nil, err
	}
	rec := doc.active()
	if rec == nil {
		return nil, ErrNoActiveToken
	}
	applyRefresh(rec, update, time.Now().UTC())
	if err = s.write(ctx, platform, doc); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Revoke permanently deactivates the active record.
func (s *ObjectTokenStore) Revoke(ctx context.Context, platform string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx, platform)
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
	return s.write(ctx, platform, doc)
}
