package storage

import (
	"context"
	"time"

	"solana-backtest-lab/internal/domain"
)

// KVStore is the injected key-value store behind manifests, run snapshots and
// artifacts. Reads after writes are consistent within one process.
type KVStore interface {
	// Get returns the value for key. Returns ErrNotFound if missing or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, replacing any previous value.
	// A zero ttl never expires.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Exists reports whether an unexpired value is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// TradeLedgerStore provides access to the simulated trade ledger.
type TradeLedgerStore interface {
	// InsertBulk adds the trades of one run atomically.
	// Fails entire batch on any duplicate (run_id, trade_id).
	InsertBulk(ctx context.Context, runID string, trades []domain.Trade) error

	// GetByRun retrieves all trades of a run, ordered by entry time ASC, trade id ASC.
	GetByRun(ctx context.Context, runID string) ([]domain.Trade, error)

	// GetByStrategy retrieves the trades of one strategy within a run, same order.
	GetByStrategy(ctx context.Context, runID, strategyID string) ([]domain.Trade, error)
}

// StrategyAggregateStore provides access to pooled per-strategy results.
type StrategyAggregateStore interface {
	// Insert adds an aggregate. Returns ErrDuplicateKey if (run_id, strategy_id) exists.
	Insert(ctx context.Context, a *domain.StrategyAggregate) error

	// Get retrieves one aggregate. Returns ErrNotFound if not exists.
	Get(ctx context.Context, runID, strategyID string) (*domain.StrategyAggregate, error)

	// GetByRun retrieves every aggregate of a run, ordered by strategy id.
	GetByRun(ctx context.Context, runID string) ([]*domain.StrategyAggregate, error)
}
