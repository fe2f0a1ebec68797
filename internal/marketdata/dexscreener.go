package marketdata

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/tidwall/gjson"

	"solana-backtest-lab/internal/domain"
)

// DexScreenerBaseURL is the public API root.
const DexScreenerBaseURL = "https://api.dexscreener.com"

// DexScreener is the secondary discoverer. It also resolves mints to their
// most liquid pool, which the tertiary discoverer depends on.
type DexScreener struct {
	client *HTTPClient
	chain  string
	query  string
}

// NewDexScreener creates a DexScreener source searching pairs that match query.
func NewDexScreener(client *HTTPClient, query string) *DexScreener {
	if query == "" {
		query = "SOL"
	}
	return &DexScreener{client: client, chain: "solana", query: query}
}

// Name returns the source identifier.
func (d *DexScreener) Name() string { return "dexscreener" }

// Discover searches pairs and keeps the most liquid pair per base mint.
func (d *DexScreener) Discover(ctx context.Context, q DiscoveryQuery) ([]domain.Asset, error) {
	now := q.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	res, err := d.client.GetJSON(ctx, "/latest/dex/search", url.Values{"q": {d.query}})
	if err != nil {
		return nil, fmt.Errorf("dexscreener search: %w", err)
	}

	best := make(map[string]domain.Asset)
	for _, p := range res.Get("pairs").Array() {
		asset, ok := d.pairAsset(p)
		if !ok || !oldEnough(asset.CreatedAt, q.MinPoolAge, now) {
			continue
		}
		if cur, exists := best[asset.Address]; !exists || asset.LiquidityUSD > cur.LiquidityUSD {
			best[asset.Address] = asset
		}
	}

	assets := make([]domain.Asset, 0, len(best))
	for _, a := range best {
		assets = append(assets, a)
	}
	sort.Slice(assets, func(i, j int) bool {
		if assets[i].LiquidityUSD != assets[j].LiquidityUSD {
			return assets[i].LiquidityUSD > assets[j].LiquidityUSD
		}
		return assets[i].Address < assets[j].Address
	})
	if q.Limit > 0 && len(assets) > q.Limit {
		assets = assets[:q.Limit]
	}
	return assets, nil
}

// ResolvePool returns asset with the pool of its most liquid pair filled in.
func (d *DexScreener) ResolvePool(ctx context.Context, asset domain.Asset) (domain.Asset, error) {
	res, err := d.client.GetJSON(ctx, "/token-pairs/v1/"+d.chain+"/"+asset.Address, nil)
	if err != nil {
		return asset, fmt.Errorf("dexscreener pairs %s: %w", asset.Address, err)
	}

	var found bool
	var best domain.Asset
	for _, p := range res.Array() {
		cand, ok := d.pairAsset(p)
		if !ok || cand.Address != asset.Address {
			continue
		}
		if !found || cand.LiquidityUSD > best.LiquidityUSD {
			best, found = cand, true
		}
	}
	if !found {
		return asset, fmt.Errorf("%s: %w", asset.Address, ErrNotFound)
	}

	asset.PoolAddress = best.PoolAddress
	asset.LiquidityUSD = best.LiquidityUSD
	asset.CreatedAt = best.CreatedAt
	if asset.Symbol == "" {
		asset.Symbol = best.Symbol
	}
	return asset, nil
}

func (d *DexScreener) pairAsset(p gjson.Result) (domain.Asset, bool) {
	if p.Get("chainId").String() != d.chain {
		return domain.Asset{}, false
	}
	mint := p.Get("baseToken.address").String()
	pool := p.Get("pairAddress").String()
	if mint == "" || pool == "" {
		return domain.Asset{}, false
	}
	var createdAt time.Time
	if ms := p.Get("pairCreatedAt").Int(); ms > 0 {
		createdAt = time.UnixMilli(ms).UTC()
	}
	return domain.Asset{
		Symbol:       p.Get("baseToken.symbol").String(),
		Address:      mint,
		PoolAddress:  pool,
		LiquidityUSD: number(p.Get("liquidity.usd")),
		CreatedAt:    createdAt,
	}, true
}
