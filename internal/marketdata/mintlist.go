package marketdata

import (
	"context"
	"fmt"
	"time"

	"solana-backtest-lab/internal/domain"
)

// JupiterBaseURL is the public token-list API root.
const JupiterBaseURL = "https://lite-api.jup.ag"

// MintList is the tertiary discoverer. It returns mints without pools; every
// asset needs a PoolResolver lookup before a pool-keyed source can use it.
type MintList struct {
	client *HTTPClient
	path   string
}

// NewMintList creates a discoverer reading the verified token list.
func NewMintList(client *HTTPClient) *MintList {
	return &MintList{client: client, path: "/tokens/v1/tagged/verified"}
}

// Name returns the source identifier.
func (m *MintList) Name() string { return "jupiter" }

// Discover returns up to q.Limit mints in list order. Pool age is unknown at
// this point, so q.MinPoolAge is applied after pool resolution by the caller.
func (m *MintList) Discover(ctx context.Context, q DiscoveryQuery) ([]domain.Asset, error) {
	res, err := m.client.GetJSON(ctx, m.path, nil)
	if err != nil {
		return nil, fmt.Errorf("jupiter token list: %w", err)
	}

	seen := make(map[string]bool)
	var assets []domain.Asset
	for _, t := range res.Array() {
		mint := t.Get("address").String()
		if mint == "" {
			mint = t.Get("id").String()
		}
		if mint == "" || seen[mint] {
			continue
		}
		seen[mint] = true
		createdAt, _ := time.Parse(time.RFC3339, t.Get("created_at").String())
		assets = append(assets, domain.Asset{
			Symbol:    t.Get("symbol").String(),
			Address:   mint,
			CreatedAt: createdAt,
		})
		if q.Limit > 0 && len(assets) == q.Limit {
			break
		}
	}
	return assets, nil
}
