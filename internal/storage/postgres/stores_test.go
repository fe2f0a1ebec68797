package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-backtest-lab/internal/domain"
	"solana-backtest-lab/internal/storage"
)

var base = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func TestKVStore_PutGetExistsDelete(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewKVStore(pool)

	_, err := store.Get(ctx, "run:missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.Put(ctx, "run:1", []byte(`{"state":"running"}`), 0))
	require.NoError(t, store.Put(ctx, "run:1", []byte(`{"state":"completed"}`), 0))

	got, err := store.Get(ctx, "run:1")
	require.NoError(t, err)
	assert.Equal(t, `{"state":"completed"}`, string(got))

	ok, err := store.Exists(ctx, "run:1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Delete(ctx, "run:1"))
	require.NoError(t, store.Delete(ctx, "run:1"))
	ok, err = store.Exists(ctx, "run:1")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, store.Put(ctx, "", []byte("x"), 0), storage.ErrInvalidInput)
}

func TestKVStore_TTL(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC()
	store := NewKVStore(pool)
	store.clock = func() time.Time { return now }

	require.NoError(t, store.Put(ctx, "manifest:abc", []byte("m"), time.Hour))
	ok, err := store.Exists(ctx, "manifest:abc")
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(2 * time.Hour)
	_, err = store.Get(ctx, "manifest:abc")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	n, err := store.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func ledgerTrade(id, strategyID string, entryOffset time.Duration) domain.Trade {
	return domain.Trade{
		TradeID:    id,
		StrategyID: strategyID,
		DatasetID:  "ds-1",
		EntryTime:  base.Add(entryOffset),
		ExitTime:   base.Add(entryOffset + 2*time.Hour),
		EntryPrice: 1.01,
		ExitPrice:  0.95,
		PnLPct:     -5.9,
		PnLNet:     -6.4,
		ExitReason: domain.ExitStopLoss,

		HoldCandles:    2,
		LowWaterMark:   -5.9,
		MaxDrawdownPct: 5.9,
	}
}

func TestTradeLedgerStore(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeLedgerStore(pool)

	trades := []domain.Trade{
		ledgerTrade("t-b", "s1", time.Hour),
		ledgerTrade("t-a", "s1", time.Hour),
		ledgerTrade("t-c", "s2", 0),
	}
	require.NoError(t, store.InsertBulk(ctx, "run-1", trades))

	got, err := store.GetByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"t-c", "t-a", "t-b"}, []string{got[0].TradeID, got[1].TradeID, got[2].TradeID})
	assert.Equal(t, domain.ExitStopLoss, got[0].ExitReason)
	assert.True(t, got[0].EntryTime.Equal(base))

	s1, err := store.GetByStrategy(ctx, "run-1", "s1")
	require.NoError(t, err)
	assert.Len(t, s1, 2)

	// Duplicate in batch rolls back the whole batch
	err = store.InsertBulk(ctx, "run-1", []domain.Trade{ledgerTrade("t-d", "s1", 0), ledgerTrade("t-a", "s1", 0)})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
	all, err := store.GetByRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	empty, err := store.GetByRun(ctx, "run-2")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
