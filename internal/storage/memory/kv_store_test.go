package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"solana-backtest-lab/internal/storage"
)

func TestKVStore_PutGetExistsDelete(t *testing.T) {
	store := NewKVStore()
	ctx := context.Background()

	if err := store.Put(ctx, "manifest:abc", []byte(`{"n":1}`), 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	ok, err := store.Exists(ctx, "manifest:abc")
	if err != nil || !ok {
		t.Fatalf("expected key to exist, got %v, %v", ok, err)
	}

	got, err := store.Get(ctx, "manifest:abc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != `{"n":1}` {
		t.Errorf("unexpected value %q", got)
	}

	got[0] = 'X'
	again, _ := store.Get(ctx, "manifest:abc")
	if again[0] != '{' {
		t.Error("Get must return a copy")
	}

	if err := store.Delete(ctx, "manifest:abc"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "manifest:abc"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, "manifest:abc"); err != nil {
		t.Errorf("deleting a missing key should succeed, got %v", err)
	}
}

func TestKVStore_TTL(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewKVStore().WithClock(func() time.Time { return now })
	ctx := context.Background()

	if err := store.Put(ctx, "run:1", []byte("x"), time.Minute); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	now = now.Add(59 * time.Second)
	if ok, _ := store.Exists(ctx, "run:1"); !ok {
		t.Error("entry expired too early")
	}

	now = now.Add(time.Second)
	if ok, _ := store.Exists(ctx, "run:1"); ok {
		t.Error("entry should be expired at its deadline")
	}
	if _, err := store.Get(ctx, "run:1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestKVStore_InvalidInput(t *testing.T) {
	store := NewKVStore()
	ctx := context.Background()

	if err := store.Put(ctx, "", []byte("x"), 0); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for empty key, got %v", err)
	}
	if err := store.Put(ctx, "k", []byte("x"), -time.Second); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for negative ttl, got %v", err)
	}
}
