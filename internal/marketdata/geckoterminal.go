package marketdata

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"solana-backtest-lab/internal/domain"
)

// GeckoTerminalBaseURL is the public API root.
const GeckoTerminalBaseURL = "https://api.geckoterminal.com/api/v2"

const (
	geckoMaxOHLCVPage  = 1000
	geckoMaxPoolPages  = 10
	geckoDefaultLimit  = 100
	geckoNetworkSolana = "solana"
)

// GeckoTerminal is the primary pool discoverer and tier-A candle source.
// Candles are keyed by pool address.
type GeckoTerminal struct {
	client  *HTTPClient
	network string
}

// NewGeckoTerminal creates a GeckoTerminal source for Solana pools.
func NewGeckoTerminal(client *HTTPClient) *GeckoTerminal {
	return &GeckoTerminal{client: client, network: geckoNetworkSolana}
}

// Name returns the source identifier.
func (g *GeckoTerminal) Name() string { return "geckoterminal" }

// Tier returns the source tier.
func (g *GeckoTerminal) Tier() domain.SourceTier { return domain.TierA }

// Discover pages through pools sorted by 24h volume and keeps the first pool
// per base mint that passes the age filter.
func (g *GeckoTerminal) Discover(ctx context.Context, q DiscoveryQuery) ([]domain.Asset, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = geckoDefaultLimit
	}
	now := q.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	seen := make(map[string]bool)
	var assets []domain.Asset

	for page := 1; page <= geckoMaxPoolPages && len(assets) < limit; page++ {
		query := url.Values{}
		query.Set("page", strconv.Itoa(page))
		query.Set("sort", "h24_volume_usd_desc")
		query.Set("include", "base_token")

		res, err := g.client.GetJSON(ctx, "/networks/"+g.network+"/pools", query)
		if err != nil {
			return nil, fmt.Errorf("geckoterminal pools page %d: %w", page, err)
		}

		pools := res.Get("data").Array()
		if len(pools) == 0 {
			break
		}
		for _, p := range pools {
			mint := strings.TrimPrefix(p.Get("relationships.base_token.data.id").String(), g.network+"_")
			pool := p.Get("attributes.address").String()
			if mint == "" || pool == "" || seen[mint] {
				continue
			}
			createdAt, _ := time.Parse(time.RFC3339, p.Get("attributes.pool_created_at").String())
			if !oldEnough(createdAt, q.MinPoolAge, now) {
				continue
			}
			seen[mint] = true
			assets = append(assets, domain.Asset{
				Symbol:       poolBaseSymbol(p.Get("attributes.name").String()),
				Address:      mint,
				PoolAddress:  pool,
				LiquidityUSD: number(p.Get("attributes.reserve_in_usd")),
				CreatedAt:    createdAt,
			})
			if len(assets) == limit {
				break
			}
		}
	}
	return assets, nil
}

// FetchCandles walks hourly OHLCV pages backwards from q.End until q.Limit
// candles are collected or the pool history runs out.
func (g *GeckoTerminal) FetchCandles(ctx context.Context, asset domain.Asset, q CandleQuery) ([]domain.Candle, error) {
	if asset.PoolAddress == "" {
		return nil, fmt.Errorf("%s: %w", asset.Symbol, ErrPoolRequired)
	}

	path := fmt.Sprintf("/networks/%s/pools/%s/ohlcv/hour", g.network, asset.PoolAddress)
	cursor := q.End.Unix()
	remaining := q.Limit
	var candles []domain.Candle

	for remaining > 0 {
		pageSize := min(remaining, geckoMaxOHLCVPage)
		query := url.Values{}
		query.Set("aggregate", "1")
		query.Set("limit", strconv.Itoa(pageSize))
		query.Set("before_timestamp", strconv.FormatInt(cursor, 10))
		query.Set("currency", "usd")

		res, err := g.client.GetJSON(ctx, path, query)
		if err != nil {
			return nil, fmt.Errorf("geckoterminal ohlcv %s: %w", asset.PoolAddress, err)
		}

		rows := res.Get("data.attributes.ohlcv_list").Array()
		if len(rows) == 0 {
			break
		}
		oldest := cursor
		for _, row := range rows {
			v := row.Array()
			if len(v) < 6 {
				continue
			}
			ts := v[0].Int()
			if ts < oldest {
				oldest = ts
			}
			candles = append(candles, domain.Candle{
				Timestamp: time.Unix(ts, 0).UTC(),
				Open:      number(v[1]),
				High:      number(v[2]),
				Low:       number(v[3]),
				Close:     number(v[4]),
				Volume:    number(v[5]),
			})
		}
		remaining -= len(rows)
		if len(rows) < pageSize || oldest >= cursor {
			break
		}
		cursor = oldest
	}

	candles = trimToLimit(normalizeCandles(candles), q.Limit)
	if len(candles) == 0 {
		return nil, fmt.Errorf("%s: %w", asset.PoolAddress, ErrNoCandles)
	}
	return candles, nil
}

// poolBaseSymbol turns "BONK / SOL 0.25%" into "BONK".
func poolBaseSymbol(name string) string {
	base, _, _ := strings.Cut(name, " / ")
	return strings.TrimSpace(base)
}
