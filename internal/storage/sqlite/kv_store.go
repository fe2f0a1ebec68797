// Package sqlite implements storage.KVStore on a single SQLite file for
// single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"solana-backtest-lab/internal/observability"
	"solana-backtest-lab/internal/storage"
)

// KVStore implements storage.KVStore backed by a SQLite database.
type KVStore struct {
	db    *sql.DB
	clock func() time.Time
}

// Compile-time interface check.
var _ storage.KVStore = (*KVStore)(nil)

// Open opens (or creates) the database at path and ensures the schema.
// The special path ":memory:" keeps everything in memory.
func Open(path string) (*KVStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path must not be empty")
	}
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &KVStore{db: db, clock: time.Now}, nil
}

// WithClock sets the clock used for TTL evaluation.
func (s *KVStore) WithClock(clock func() time.Time) *KVStore {
	s.clock = clock
	return s
}

// Close closes the underlying database connection.
func (s *KVStore) Close() error {
	return s.db.Close()
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv_store (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_kv_store_expires_at ON kv_store(expires_at)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure sqlite schema: %w", err)
		}
	}
	return nil
}

// Get returns the value for key. Returns ErrNotFound if missing or expired.
func (s *KVStore) Get(ctx context.Context, key string) (value []byte, err error) {
	defer func(start time.Time) { observe("kv_get", start, err) }(time.Now())

	err = s.db.QueryRowContext(ctx,
		`SELECT value FROM kv_store WHERE key = ? AND (expires_at = 0 OR expires_at > ?)`,
		key, s.clock().UnixMilli(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get kv: %w: %w", storage.ErrUnavailable, err)
	}
	return value, nil
}

// Put stores value under key, replacing any previous value. A zero ttl never expires.
func (s *KVStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) (err error) {
	if key == "" || ttl < 0 {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("kv_put", start, err) }(time.Now())

	now := s.clock()
	var expiresAt int64
	if ttl > 0 {
		expiresAt = now.Add(ttl).UnixMilli()
	}
	if value == nil {
		value = []byte{}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kv_store (key, value, expires_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at, updated_at = excluded.updated_at`,
		key, value, expiresAt, now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put kv: %w: %w", storage.ErrUnavailable, err)
	}
	return nil
}

// Exists reports whether an unexpired value is stored under key.
func (s *KVStore) Exists(ctx context.Context, key string) (ok bool, err error) {
	defer func(start time.Time) { observe("kv_exists", start, err) }(time.Now())

	var n int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM kv_store WHERE key = ? AND (expires_at = 0 OR expires_at > ?)`,
		key, s.clock().UnixMilli(),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("exists kv: %w: %w", storage.ErrUnavailable, err)
	}
	return n > 0, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *KVStore) Delete(ctx context.Context, key string) (err error) {
	defer func(start time.Time) { observe("kv_delete", start, err) }(time.Now())

	if _, err = s.db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete kv: %w: %w", storage.ErrUnavailable, err)
	}
	return nil
}

// Purge deletes expired rows and returns how many were removed.
func (s *KVStore) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kv_store WHERE expires_at > 0 AND expires_at <= ?`, s.clock().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge kv: %w: %w", storage.ErrUnavailable, err)
	}
	return res.RowsAffected()
}

func observe(op string, start time.Time, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		err = nil
	}
	observability.RecordDBQuery("sqlite", op, time.Since(start).Seconds(), err)
}
