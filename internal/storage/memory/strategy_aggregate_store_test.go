package memory

import (
	"context"
	"errors"
	"testing"

	"solana-backtest-lab/internal/domain"
	"solana-backtest-lab/internal/storage"
)

func TestStrategyAggregateStore_InsertAndGet(t *testing.T) {
	store := NewStrategyAggregateStore()
	ctx := context.Background()

	agg := &domain.StrategyAggregate{
		RunID:        "run-1",
		StrategyID:   "memecoin-breakout",
		Family:       domain.FamilyMemecoin,
		DatasetCount: 12,
		TradeStats: domain.TradeStats{
			TradeCount:  100,
			Wins:        60,
			Losses:      40,
			WinRate:     0.6,
			EquityCurve: []float64{100, 101},
		},
	}

	if err := store.Insert(ctx, agg); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.Get(ctx, "run-1", "memecoin-breakout")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.WinRate != 0.6 {
		t.Errorf("WinRate mismatch: got %f, want %f", got.WinRate, 0.6)
	}

	got.EquityCurve[0] = 0
	again, _ := store.Get(ctx, "run-1", "memecoin-breakout")
	if again.EquityCurve[0] != 100 {
		t.Error("returned aggregate shares memory with the store")
	}
}

func TestStrategyAggregateStore_DuplicateKey(t *testing.T) {
	store := NewStrategyAggregateStore()
	ctx := context.Background()

	agg := &domain.StrategyAggregate{RunID: "run-1", StrategyID: "s"}
	if err := store.Insert(ctx, agg); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	err := store.Insert(ctx, agg)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestStrategyAggregateStore_NotFound(t *testing.T) {
	store := NewStrategyAggregateStore()

	_, err := store.Get(context.Background(), "run-x", "nonexistent")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestStrategyAggregateStore_InvalidInput(t *testing.T) {
	store := NewStrategyAggregateStore()

	err := store.Insert(context.Background(), &domain.StrategyAggregate{StrategyID: "s"})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestStrategyAggregateStore_GetByRunSorted(t *testing.T) {
	store := NewStrategyAggregateStore()
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		if err := store.Insert(ctx, &domain.StrategyAggregate{RunID: "run-1", StrategyID: id}); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}
	_ = store.Insert(ctx, &domain.StrategyAggregate{RunID: "run-2", StrategyID: "z"})

	got, err := store.GetByRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetByRun failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 aggregates, got %d", len(got))
	}
	for i, want := range []string{"a", "b", "c"} {
		if got[i].StrategyID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, got[i].StrategyID)
		}
	}
}
