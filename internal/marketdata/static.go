package marketdata

import (
	"context"

	"solana-backtest-lab/internal/domain"
)

// Static is a discoverer over a fixed asset list, used by families whose
// universe is declared in the strategy catalog.
type Static struct {
	name   string
	assets []domain.Asset
}

// NewStatic creates a fixed-list discoverer.
func NewStatic(name string, assets []domain.Asset) *Static {
	return &Static{name: name, assets: append([]domain.Asset(nil), assets...)}
}

// Name returns the source identifier.
func (s *Static) Name() string { return s.name }

// Discover returns the list, truncated to q.Limit when set.
func (s *Static) Discover(ctx context.Context, q DiscoveryQuery) ([]domain.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := append([]domain.Asset(nil), s.assets...)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}
