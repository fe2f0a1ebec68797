package metrics

import (
	"math"

	"solana-backtest-lab/internal/domain"
)

// Wilson returns the Wilson score interval for wins out of n trials.
// Bounds stay inside [0, 1] and bracket wins/n. With no trials the interval is [0, 1].
func Wilson(wins, n int, z float64) domain.ConfidenceInterval {
	level := confidenceLevel(z)
	if n <= 0 {
		return domain.ConfidenceInterval{Lower: 0, Upper: 1, Level: level}
	}

	nf := float64(n)
	p := float64(wins) / nf
	z2 := z * z
	denom := 1 + z2/nf
	center := (p + z2/(2*nf)) / denom
	half := z * math.Sqrt(p*(1-p)/nf+z2/(4*nf*nf)) / denom

	return domain.ConfidenceInterval{
		Lower: math.Max(0, math.Min(p, center-half)),
		Upper: math.Min(1, math.Max(p, center+half)),
		Level: level,
	}
}

// confidenceLevel maps a two-sided z-score to its coverage.
func confidenceLevel(z float64) float64 {
	return math.Round(math.Erf(z/math.Sqrt2)*1000) / 1000
}

// EWMAVolatility returns the square root of the exponentially weighted variance
// of per-trade log returns, in percent. The variance is seeded with the first
// squared return and decays by lambda per trade.
func EWMAVolatility(pnlPcts []float64, lambda float64) float64 {
	if len(pnlPcts) == 0 {
		return 0
	}
	variance := 0.0
	for i, pct := range pnlPcts {
		r := logReturn(pct)
		if i == 0 {
			variance = r * r
			continue
		}
		variance = lambda*variance + (1-lambda)*r*r
	}
	return math.Sqrt(variance) * 100
}

// logReturn converts a percent P&L to a log return. A total loss is floored
// just above -100% so the log stays finite.
func logReturn(pct float64) float64 {
	return math.Log1p(math.Max(pct, -99.99) / 100)
}
