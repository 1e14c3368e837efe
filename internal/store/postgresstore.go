package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const defaultTokenTable = "auth_tokens"

// PostgresTokenStore persists token records in PostgreSQL. The single
// active-record invariant is enforced transactionally so concurrent saves for
// the same platform cannot leave two active rows.
type PostgresTokenStore struct {
	db    *sql.DB
	table string
}

// NewPostgresTokenStore connects to PostgreSQL and prepares the token table.
func NewPostgresTokenStore(ctx context.Context, dsn, table string) (*PostgresTokenStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres token store: DSN is required")
	}
	if table = strings.TrimSpace(table); table == "" {
		table = defaultTokenTable
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres token store: open database connection: %w", err)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres token store: ping database: %w", err)
	}

	s := &PostgresTokenStore{db: db, table: table}
	if err = s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database connection.
func (s *PostgresTokenStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresTokenStore) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			platform TEXT NOT NULL,
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL DEFAULT '',
			expires_at TIMESTAMPTZ,
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			metadata JSONB,
			last_refreshed_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			revoked_at TIMESTAMPTZ
		)
	`, s.table)); err != nil {
		return fmt.Errorf("postgres token store: create table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE UNIQUE INDEX IF NOT EXISTS %s_one_active
		ON %s (platform) WHERE is_active
	`, s.table, s.table)); err != nil {
		return fmt.Errorf("postgres token store: create active index: %w", err)
	}
	return nil
}

func (s *PostgresTokenStore) scanActive(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, platform string) (*TokenRecord, error) {
	row := q.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, platform, access_token, refresh_token, expires_at, is_active,
		       metadata, last_refreshed_at, created_at, revoked_at
		FROM %s WHERE platform = $1 AND is_active
	`, s.table), platform)

	var rec TokenRecord
	var expiresAt, revokedAt sql.NullTime
	var metadata []byte
	err := row.Scan(&rec.ID, &rec.Platform, &rec.AccessToken, &rec.RefreshToken,
		&expiresAt, &rec.IsActive, &metadata, &rec.LastRefreshedAt, &rec.CreatedAt, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres token store: query active: %w", err)
	}
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		rec.ExpiresAt = &t
	}
	if revokedAt.Valid {
		t := revokedAt.Time.UTC()
		rec.RevokedAt = &t
	}
	if len(metadata) > 0 {
		if errJSON := json.Unmarshal(metadata, &rec.Metadata); errJSON != nil {
			return nil, fmt.Errorf("postgres token store: decode metadata: %w", errJSON)
		}
	}
	return &rec, nil
}

// GetActive returns the active record for a platform, or nil when none exists.
func (s *PostgresTokenStore) GetActive(ctx context.Context, platform string) (*TokenRecord, error) {
	return s.scanActive(ctx, s.db, platform)
}

// Save inserts a new active record and deactivates any prior one in the same
// transaction.
func (s *PostgresTokenStore) Save(ctx context.Context, platform string, update TokenUpdate) (*TokenRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("postgres token store: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err = tx.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET is_active = FALSE WHERE platform = $1 AND is_active`, s.table), platform); err != nil {
		return nil, fmt.Errorf("postgres token store: deactivate prior: %w", err)
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
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return nil, fmt.Errorf("postgres token store: encode metadata: %w", err)
	}
	if _, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, platform, access_token, refresh_token, expires_at, is_active,
		                metadata, last_refreshed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6, $7, $8)
	`, s.table), rec.ID, rec.Platform, rec.AccessToken, rec.RefreshToken,
		nullableTime(rec.ExpiresAt), metadata, rec.LastRefreshedAt, rec.CreatedAt); err != nil {
		return nil, fmt.Errorf("postgres token store: insert: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("postgres token store: commit: %w", err)
	}
	return rec, nil
}

// Refresh mutates the active record in place.
func (s *PostgresTokenStore) Refresh(ctx context.Context, platform string, update TokenUpdate) (*TokenRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("postgres token store: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := s.scanActive(ctx, tx, platform)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNoActiveToken
	}
	applyRefresh(rec, update, time.Now().UTC())

	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return nil, fmt.Errorf("postgres token store: encode metadata: %w", err)
	}
	if _, err = tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET access_token = $1, refresh_token = $2, expires_at = $3,
		              metadata = $4, last_refreshed_at = $5
		WHERE id = $6
	`, s.table), rec.AccessToken, rec.RefreshToken, nullableTime(rec.ExpiresAt),
		metadata, rec.LastRefreshedAt, rec.ID); err != nil {
		return nil, fmt.Errorf("postgres token store: update: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("postgres token store: commit: %w", err)
	}
	return rec, nil
}

// Revoke permanently deactivates the active record.
func (s *PostgresTokenStore) Revoke(ctx context.Context, platform string) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET is_active = FALSE, revoked_at = $1
		WHERE platform = $2 AND is_active
	`, s.table), time.Now().UTC(), platform)
	if err != nil {
		return fmt.Errorf("postgres token store: revoke: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres token store: revoke result: %w", err)
	}
	if affected == 0 {
		return ErrNoActiveToken
	}
	return nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
