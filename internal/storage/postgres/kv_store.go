package postgres

import (
	"context"
	"time"

	"solana-backtest-lab/internal/storage"
)

// KVStore implements storage.KVStore using PostgreSQL.
// Expired rows are invisible to reads and removed by Purge.
type KVStore struct {
	pool  *Pool
	clock func() time.Time
}

// NewKVStore creates a new KVStore.
func NewKVStore(pool *Pool) *KVStore {
	return &KVStore{pool: pool, clock: time.Now}
}

// Compile-time interface check.
var _ storage.KVStore = (*KVStore)(nil)

// Get returns the value for key. Returns ErrNotFound if missing or expired.
func (s *KVStore) Get(ctx context.Context, key string) (value []byte, err error) {
	defer func(start time.Time) { observe("kv_get", start, err) }(time.Now())

	query := `
		SELECT value
		FROM kv_store
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)
	`
	err = s.pool.QueryRow(ctx, query, key, s.clock().UTC()).Scan(&value)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, wrapErr("get kv", err)
	}
	return value, nil
}

// Put stores value under key, replacing any previous value.
func (s *KVStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) (err error) {
	if key == "" || ttl < 0 {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("kv_put", start, err) }(time.Now())

	var expiresAt *time.Time
	if ttl > 0 {
		t := s.clock().UTC().Add(ttl)
		expiresAt = &t
	}
	if value == nil {
		value = []byte{}
	}

	query := `
		INSERT INTO kv_store (key, value, expires_at, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = now()
	`
	if _, err = s.pool.Exec(ctx, query, key, value, expiresAt); err != nil {
		return wrapErr("put kv", err)
	}
	return nil
}

// Exists reports whether an unexpired value is stored under key.
func (s *KVStore) Exists(ctx context.Context, key string) (ok bool, err error) {
	defer func(start time.Time) { observe("kv_exists", start, err) }(time.Now())

	query := `
		SELECT EXISTS (
			SELECT 1 FROM kv_store
			WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)
		)
	`
	if err = s.pool.QueryRow(ctx, query, key, s.clock().UTC()).Scan(&ok); err != nil {
		return false, wrapErr("exists kv", err)
	}
	return ok, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *KVStore) Delete(ctx context.Context, key string) (err error) {
	defer func(start time.Time) { observe("kv_delete", start, err) }(time.Now())

	if _, err = s.pool.Exec(ctx, `DELETE FROM kv_store WHERE key = $1`, key); err != nil {
		return wrapErr("delete kv", err)
	}
	return nil
}

// Purge deletes expired rows and returns how many were removed.
func (s *KVStore) Purge(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM kv_store WHERE expires_at IS NOT NULL AND expires_at <= $1`, s.clock().UTC())
	if err != nil {
		return 0, wrapErr("purge kv", err)
	}
	return tag.RowsAffected(), nil
}
