package memory

import (
	"context"
	"sort"
	"sync"

	"solana-backtest-lab/internal/domain"
	"solana-backtest-lab/internal/storage"
)

// StrategyAggregateStore is an in-memory implementation of storage.StrategyAggregateStore.
type StrategyAggregateStore struct {
	mu   sync.RWMutex
	data map[string]*domain.StrategyAggregate // keyed by composite key
}

// NewStrategyAggregateStore creates a new in-memory strategy aggregate store.
func NewStrategyAggregateStore() *StrategyAggregateStore {
	return &StrategyAggregateStore{
		data: make(map[string]*domain.StrategyAggregate),
	}
}

// aggregateKey generates a unique key for an aggregate.
func aggregateKey(runID, strategyID string) string {
	return runID + "|" + strategyID
}

// Insert adds a new aggregate. Returns ErrDuplicateKey if key exists.
func (s *StrategyAggregateStore) Insert(_ context.Context, a *domain.StrategyAggregate) error {
	if a == nil || a.RunID == "" || a.StrategyID == "" {
		return storage.ErrInvalidInput
	}

	key := aggregateKey(a.RunID, a.StrategyID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[key] = cloneAggregate(a)
	return nil
}

// Get retrieves an aggregate by its composite key. Returns ErrNotFound if not exists.
func (s *StrategyAggregateStore) Get(_ context.Context, runID, strategyID string) (*domain.StrategyAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, exists := s.data[aggregateKey(runID, strategyID)]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneAggregate(a), nil
}

// GetByRun retrieves all aggregates for a run.
func (s *StrategyAggregateStore) GetByRun(_ context.Context, runID string) ([]*domain.StrategyAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.StrategyAggregate
	for _, a := range s.data {
		if a.RunID == runID {
			result = append(result, cloneAggregate(a))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].StrategyID < result[j].StrategyID
	})

	return result, nil
}

func cloneAggregate(a *domain.StrategyAggregate) *domain.StrategyAggregate {
	c := *a
	c.EquityCurve = append([]float64(nil), a.EquityCurve...)
	return &c
}

var _ storage.StrategyAggregateStore = (*StrategyAggregateStore)(nil)
