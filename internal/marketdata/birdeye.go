package marketdata

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"solana-backtest-lab/internal/domain"
)

// BirdeyeBaseURL is the public API root.
const BirdeyeBaseURL = "https://public-api.birdeye.so"

// Birdeye is the tier-B fallback candle source. It is keyed by mint, so it
// serves assets whose pool could not be resolved.
type Birdeye struct {
	client *HTTPClient
}

// NewBirdeye creates a Birdeye source. The client should carry the
// X-API-KEY and x-chain headers.
func NewBirdeye(client *HTTPClient) *Birdeye {
	return &Birdeye{client: client}
}

// Name returns the source identifier.
func (b *Birdeye) Name() string { return "birdeye" }

// Tier returns the source tier.
func (b *Birdeye) Tier() domain.SourceTier { return domain.TierB }

// FetchCandles fetches hourly candles in one window request.
func (b *Birdeye) FetchCandles(ctx context.Context, asset domain.Asset, q CandleQuery) ([]domain.Candle, error) {
	query := url.Values{}
	query.Set("address", asset.Address)
	query.Set("type", "1H")
	query.Set("time_from", strconv.FormatInt(q.Start().Unix(), 10))
	query.Set("time_to", strconv.FormatInt(q.End.Unix(), 10))

	res, err := b.client.GetJSON(ctx, "/defi/ohlcv", query)
	if err != nil {
		return nil, fmt.Errorf("birdeye ohlcv %s: %w", asset.Address, err)
	}
	if s := res.Get("success"); s.Exists() && !s.Bool() {
		return nil, fmt.Errorf("birdeye ohlcv %s: %w", asset.Address, ErrNotFound)
	}

	items := res.Get("data.items").Array()
	candles := make([]domain.Candle, 0, len(items))
	for _, it := range items {
		candles = append(candles, domain.Candle{
			Timestamp: time.Unix(it.Get("unixTime").Int(), 0).UTC(),
			Open:      number(it.Get("o")),
			High:      number(it.Get("h")),
			Low:       number(it.Get("l")),
			Close:     number(it.Get("c")),
			Volume:    number(it.Get("v")),
		})
	}

	candles = trimToLimit(normalizeCandles(candles), q.Limit)
	if len(candles) == 0 {
		return nil, fmt.Errorf("%s: %w", asset.Address, ErrNoCandles)
	}
	return candles, nil
}
