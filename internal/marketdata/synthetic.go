package marketdata

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"solana-backtest-lab/internal/domain"
)

// Synthetic generates a deterministic random-walk series per asset. Its
// datasets are tagged TierSynthetic and only used when the caller allows it.
type Synthetic struct {
	startPrice float64
	volatility float64 // per-candle stdev of log returns
}

// NewSynthetic creates a synthetic source with 2% hourly volatility.
func NewSynthetic() *Synthetic {
	return &Synthetic{startPrice: 1.0, volatility: 0.02}
}

// Name returns the source identifier.
func (s *Synthetic) Name() string { return "synthetic" }

// Tier returns the source tier.
func (s *Synthetic) Tier() domain.SourceTier { return domain.TierSynthetic }

// FetchCandles returns q.Limit candles ending at q.End truncated to the hour.
// The same asset and window always produce the same series.
func (s *Synthetic) FetchCandles(ctx context.Context, asset domain.Asset, q CandleQuery) ([]domain.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.Limit <= 0 {
		return nil, ErrNoCandles
	}

	h := fnv.New64a()
	h.Write([]byte(asset.Address))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	end := q.End.UTC().Truncate(CandleInterval)
	start := end.Add(-CandleInterval * time.Duration(q.Limit-1))

	candles := make([]domain.Candle, q.Limit)
	price := s.startPrice
	for i := range candles {
		open := price
		closePrice := open * math.Exp(rng.NormFloat64()*s.volatility)
		wick := math.Abs(rng.NormFloat64()) * s.volatility / 2
		candles[i] = domain.Candle{
			Timestamp: start.Add(CandleInterval * time.Duration(i)),
			Open:      open,
			High:      math.Max(open, closePrice) * (1 + wick),
			Low:       math.Min(open, closePrice) * (1 - wick),
			Close:     closePrice,
			Volume:    1000 + rng.Float64()*9000,
		}
		price = closePrice
	}
	return candles, nil
}
