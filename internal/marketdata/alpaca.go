package marketdata

import (
	"context"
	"fmt"
	"strings"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"solana-backtest-lab/internal/domain"
)

// barsClient is the part of the Alpaca market-data client this source uses.
type barsClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// Alpaca is the tier-A candle source of the equity family. Asset.Address is
// the ticker.
type Alpaca struct {
	client barsClient
}

// NewAlpaca creates an Alpaca source. An empty dataURL uses the SDK default.
func NewAlpaca(apiKey, apiSecret, dataURL string) *Alpaca {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return &Alpaca{client: marketdata.NewClient(opts)}
}

// Name returns the source identifier.
func (a *Alpaca) Name() string { return "alpaca" }

// Tier returns the source tier.
func (a *Alpaca) Tier() domain.SourceTier { return domain.TierA }

// FetchCandles fetches hourly bars over the requested window. The SDK call
// takes no context; callers bound it with deadline.Run.
func (a *Alpaca) FetchCandles(ctx context.Context, asset domain.Asset, q CandleQuery) ([]domain.Candle, error) {
	symbol := strings.ToUpper(asset.Address)
	if symbol == "" {
		symbol = strings.ToUpper(asset.Symbol)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	bars, err := a.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneHour,
		Start:      q.Start(),
		End:        q.End,
		TotalLimit: q.Limit,
		Feed:       "iex",
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca bars %s: %w", symbol, err)
	}

	candles := make([]domain.Candle, 0, len(bars))
	for _, b := range bars {
		candles = append(candles, domain.Candle{
			Timestamp: b.Timestamp.UTC(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    float64(b.Volume),
		})
	}

	candles = trimToLimit(normalizeCandles(candles), q.Limit)
	if len(candles) == 0 {
		return nil, fmt.Errorf("%s: %w", symbol, ErrNoCandles)
	}
	return candles, nil
}
