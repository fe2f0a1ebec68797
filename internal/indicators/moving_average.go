// Package indicators computes technical indicators over price series.
//
// Every indicator returns a slice with the same length as its input. The first
// period-1 entries are NaN; the remaining entries are finite. Inputs shorter
// than the period produce an all-NaN slice.
package indicators

import (
	"math"

	"github.com/markcheno/go-talib"
)

// EMA returns the exponential moving average. The first defined value is the
// simple average of the first period inputs.
func EMA(values []float64, period int) []float64 {
	if !defined(values, period) {
		return nanSlice(len(values))
	}
	out := talib.Ema(values, period)
	maskLookback(out, period)
	return out
}

// SMA returns the simple moving average.
func SMA(values []float64, period int) []float64 {
	if !defined(values, period) {
		return nanSlice(len(values))
	}
	out := talib.Sma(values, period)
	maskLookback(out, period)
	return out
}

// defined reports whether at least one output value exists.
func defined(values []float64, period int) bool {
	return period >= 1 && len(values) >= period
}

// maskLookback overwrites the talib zero padding with NaN.
func maskLookback(out []float64, period int) {
	for i := 0; i < period-1 && i < len(out); i++ {
		out[i] = math.NaN()
	}
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
