// Package marketdata discovers asset universes and fetches hourly OHLCV series
// from upstream providers.
package marketdata

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"solana-backtest-lab/internal/domain"
)

// Source errors
var (
	ErrPoolRequired = errors.New("source requires a pool address")
	ErrNoCandles    = errors.New("source returned no usable candles")
	ErrNotFound     = errors.New("asset not found at source")
)

// CandleInterval is the bar width every source returns.
const CandleInterval = time.Hour

// DiscoveryQuery narrows a discovery call.
type DiscoveryQuery struct {
	Limit      int           // max assets returned, 0 = source default
	MinPoolAge time.Duration // pools younger than this are dropped
	Now        time.Time     // reference time for pool age
}

// CandleQuery describes the wanted window: Limit hourly candles ending at End.
type CandleQuery struct {
	Limit int
	End   time.Time
}

// Start returns the beginning of the requested window.
func (q CandleQuery) Start() time.Time {
	return q.End.Add(-time.Duration(q.Limit) * CandleInterval)
}

// Discoverer lists candidate assets.
type Discoverer interface {
	Name() string
	Discover(ctx context.Context, q DiscoveryQuery) ([]domain.Asset, error)
}

// PoolResolver finds the most liquid pool of a mint.
type PoolResolver interface {
	ResolvePool(ctx context.Context, asset domain.Asset) (domain.Asset, error)
}

// CandleSource fetches candles for one asset.
type CandleSource interface {
	Name() string
	Tier() domain.SourceTier
	FetchCandles(ctx context.Context, asset domain.Asset, q CandleQuery) ([]domain.Candle, error)
}

// normalizeCandles sorts by time, keeps the first candle per timestamp and
// drops candles that violate the OHLC invariant.
func normalizeCandles(in []domain.Candle) []domain.Candle {
	sort.SliceStable(in, func(i, j int) bool {
		return in[i].Timestamp.Before(in[j].Timestamp)
	})
	out := make([]domain.Candle, 0, len(in))
	for _, c := range in {
		if c.Validate() != nil {
			continue
		}
		if len(out) > 0 && !c.Timestamp.After(out[len(out)-1].Timestamp) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// trimToLimit keeps the newest limit candles.
func trimToLimit(candles []domain.Candle, limit int) []domain.Candle {
	if limit > 0 && len(candles) > limit {
		return candles[len(candles)-limit:]
	}
	return candles
}

// oldEnough reports whether a pool created at createdAt passes the age filter.
// Unknown creation times fail any positive minimum.
func oldEnough(createdAt time.Time, minAge time.Duration, now time.Time) bool {
	if minAge <= 0 {
		return true
	}
	if createdAt.IsZero() {
		return false
	}
	return now.Sub(createdAt) >= minAge
}

// number reads a JSON value that upstreams send either as a number or a string.
func number(r gjson.Result) float64 {
	if r.Type == gjson.String {
		f, err := strconv.ParseFloat(r.Str, 64)
		if err != nil {
			return 0
		}
		return f
	}
	return r.Float()
}
