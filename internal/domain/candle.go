package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Candle validation errors.
var (
	ErrNonFinitePrice   = errors.New("candle has non-finite price")
	ErrInvalidOHLC      = errors.New("candle violates low <= open,close <= high")
	ErrNonMonotonicTime = errors.New("candle timestamps are not strictly increasing")
	ErrNegativeVolume   = errors.New("candle has negative volume")
)

// Candle is one fixed-duration OHLCV bar.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Validate checks price finiteness and the OHLC ordering invariant.
func (c Candle) Validate() error {
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrNonFinitePrice
		}
	}
	if c.Volume < 0 {
		return ErrNegativeVolume
	}
	lo := math.Min(c.Open, c.Close)
	hi := math.Max(c.Open, c.Close)
	if c.Low > lo || hi > c.High {
		return ErrInvalidOHLC
	}
	return nil
}

// ValidateSeries validates every candle and checks that timestamps strictly increase.
// The returned error names the offending index.
func ValidateSeries(candles []Candle) error {
	for i, c := range candles {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("candle %d: %w", i, err)
		}
		if i > 0 && !c.Timestamp.After(candles[i-1].Timestamp) {
			return fmt.Errorf("candle %d: %w", i, ErrNonMonotonicTime)
		}
	}
	return nil
}

// Closes extracts close prices.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Volumes extracts volumes.
func Volumes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}
