package memory

import (
	"context"
	"sort"
	"sync"

	"solana-backtest-lab/internal/domain"
	"solana-backtest-lab/internal/storage"
)

// TradeLedgerStore is an in-memory implementation of storage.TradeLedgerStore.
type TradeLedgerStore struct {
	mu   sync.RWMutex
	data map[string]map[string]domain.Trade // run_id -> trade_id -> trade
}

// NewTradeLedgerStore creates a new in-memory trade ledger.
func NewTradeLedgerStore() *TradeLedgerStore {
	return &TradeLedgerStore{
		data: make(map[string]map[string]domain.Trade),
	}
}

// InsertBulk adds trades atomically. Fails entire batch on any duplicate.
func (s *TradeLedgerStore) InsertBulk(_ context.Context, runID string, trades []domain.Trade) error {
	if runID == "" {
		return storage.ErrInvalidInput
	}
	if len(trades) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	run := s.data[runID]

	// First pass: check for duplicates (existing + intra-batch)
	batchKeys := make(map[string]struct{}, len(trades))
	for _, t := range trades {
		if t.TradeID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := run[t.TradeID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[t.TradeID]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[t.TradeID] = struct{}{}
	}

	// Second pass: insert all
	if run == nil {
		run = make(map[string]domain.Trade, len(trades))
		s.data[runID] = run
	}
	for _, t := range trades {
		run[t.TradeID] = t
	}
	return nil
}

// GetByRun retrieves all trades of a run.
func (s *TradeLedgerStore) GetByRun(_ context.Context, runID string) ([]domain.Trade, error) {
	return s.collect(runID, func(domain.Trade) bool { return true }), nil
}

// GetByStrategy retrieves the trades of one strategy within a run.
func (s *TradeLedgerStore) GetByStrategy(_ context.Context, runID, strategyID string) ([]domain.Trade, error) {
	return s.collect(runID, func(t domain.Trade) bool { return t.StrategyID == strategyID }), nil
}

func (s *TradeLedgerStore) collect(runID string, keep func(domain.Trade) bool) []domain.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []domain.Trade{}
	for _, t := range s.data[runID] {
		if keep(t) {
			result = append(result, t)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].EntryTime.Equal(result[j].EntryTime) {
			return result[i].EntryTime.Before(result[j].EntryTime)
		}
		return result[i].TradeID < result[j].TradeID
	})
	return result
}

var _ storage.TradeLedgerStore = (*TradeLedgerStore)(nil)
