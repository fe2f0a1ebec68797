package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"solana-backtest-lab/internal/domain"
	"solana-backtest-lab/internal/storage"
)

func makeTrade(id, strategyID string, entry time.Time) domain.Trade {
	return domain.Trade{
		TradeID:    id,
		StrategyID: strategyID,
		DatasetID:  "ds-1",
		EntryTime:  entry,
		ExitTime:   entry.Add(time.Hour),
		EntryPrice: 1,
		ExitPrice:  1.1,
		PnLPct:     10,
		PnLNet:     9.5,
		ExitReason: domain.ExitTakeProfit,
	}
}

func TestTradeLedgerStore_OrderAndFilter(t *testing.T) {
	store := NewTradeLedgerStore()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	trades := []domain.Trade{
		makeTrade("t3", "a", base.Add(2*time.Hour)),
		makeTrade("t2", "b", base),
		makeTrade("t1", "a", base),
	}
	if err := store.InsertBulk(ctx, "run-1", trades); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	all, err := store.GetByRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetByRun failed: %v", err)
	}
	want := []string{"t1", "t2", "t3"}
	for i, id := range want {
		if all[i].TradeID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, all[i].TradeID)
		}
	}

	onlyA, _ := store.GetByStrategy(ctx, "run-1", "a")
	if len(onlyA) != 2 {
		t.Errorf("expected 2 trades for strategy a, got %d", len(onlyA))
	}

	empty, _ := store.GetByRun(ctx, "missing")
	if empty == nil || len(empty) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", empty)
	}
}

func TestTradeLedgerStore_DuplicateFailsWholeBatch(t *testing.T) {
	store := NewTradeLedgerStore()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := store.InsertBulk(ctx, "run-1", []domain.Trade{makeTrade("t1", "a", base)}); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	err := store.InsertBulk(ctx, "run-1", []domain.Trade{
		makeTrade("t2", "a", base),
		makeTrade("t1", "a", base),
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("Expected ErrDuplicateKey, got %v", err)
	}

	all, _ := store.GetByRun(ctx, "run-1")
	if len(all) != 1 {
		t.Errorf("batch must be atomic, found %d trades", len(all))
	}

	// same trade id is fine in another run
	if err := store.InsertBulk(ctx, "run-2", []domain.Trade{makeTrade("t1", "a", base)}); err != nil {
		t.Errorf("insert into other run failed: %v", err)
	}
}
