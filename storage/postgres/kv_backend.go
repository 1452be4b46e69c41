package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/evidentia/syncplatform/infrastructure/state"
)

// KVBackend is a Postgres-backed state.PersistenceBackend for the
// platform's short-TTL key-value namespace (rate-limit buckets, the
// ecosystem status cache, error summaries, soft-mint entries). Entries
// past their expiry are treated as absent and swept lazily.
type KVBackend struct {
	db  *sql.DB
	ttl time.Duration
}

// NewKVBackend builds a KVBackend. defaultTTL is applied to Save calls;
// zero means entries never expire.
func NewKVBackend(db *sql.DB, defaultTTL time.Duration) *KVBackend {
	return &KVBackend{db: db, ttl: defaultTTL}
}

var _ state.PersistenceBackend = (*KVBackend)(nil)

// SaveWithTTL stores data under key with an explicit expiry, overriding the
// backend's default TTL.
func (b *KVBackend) SaveWithTTL(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	var expiresAt sql.NullTime
	if ttl > 0 {
		expiresAt = sql.NullTime{Time: time.Now().UTC().Add(ttl), Valid: true}
	}
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO kv_store (key, value, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
	`, key, data, expiresAt)
	if err != nil {
		return fmt.Errorf("kv save: %w", err)
	}
	return nil
}

func (b *KVBackend) Save(ctx context.Context, key string, data []byte) error {
	return b.SaveWithTTL(ctx, key, data, b.ttl)
}

func (b *KVBackend) Load(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	var expiresAt sql.NullTime
	row := b.db.QueryRowContext(ctx, `SELECT value, expires_at FROM kv_store WHERE key = $1`, key)
	if err := row.Scan(&data, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, state.ErrNotFound
		}
		return nil, fmt.Errorf("kv load: %w", err)
	}
	if expiresAt.Valid && expiresAt.Time.Before(time.Now().UTC()) {
		_, _ = b.db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = $1`, key)
		return nil, state.ErrNotFound
	}
	return data, nil
}

func (b *KVBackend) Delete(ctx context.Context, key string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("kv delete: %w", err)
	}
	return nil
}

func (b *KVBackend) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT key FROM kv_store
		WHERE key LIKE $1 AND (expires_at IS NULL OR expires_at > now())
	`, prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("kv list: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Close sweeps expired entries; the underlying *sql.DB is owned by the
// caller and is not closed here.
func (b *KVBackend) Close(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM kv_store WHERE expires_at IS NOT NULL AND expires_at <= now()`)
	return err
}
