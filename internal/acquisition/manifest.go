package acquisition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"solana-backtest-lab/internal/domain"
	"solana-backtest-lab/internal/storage"
)

// LoadManifest reads a cached manifest. Returns ErrManifestNotFound if the
// key is missing or expired, and ErrManifestMismatch if the stored value is
// not a manifest of family under key.
func LoadManifest(ctx context.Context, store storage.KVStore, key string, family domain.Family) (*Manifest, error) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrManifestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get manifest %s: %w", key, err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", key, err)
	}
	if m.Key != key || m.Family != family {
		return nil, fmt.Errorf("%w: %s holds key %q family %q", ErrManifestMismatch, key, m.Key, m.Family)
	}
	return &m, nil
}

// saveManifest persists m under its key. Writing the same manifest twice
// leaves the store unchanged apart from the TTL.
func saveManifest(ctx context.Context, store storage.KVStore, m *Manifest, ttl time.Duration) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest %s: %w", m.Key, err)
	}
	if err := store.Put(ctx, m.Key, raw, ttl); err != nil {
		return fmt.Errorf("put manifest %s: %w", m.Key, err)
	}
	return nil
}
