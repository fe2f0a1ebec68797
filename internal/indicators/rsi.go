package indicators

import "math"

// RSI returns the relative strength index in [0, 100].
//
// The value at index i uses the period-1 price changes ending at i, so the first
// defined value sits at index period-1 like the other indicators. Averages are
// seeded with a simple mean and then Wilder-smoothed. A window with no movement
// reads 50.
func RSI(closes []float64, period int) []float64 {
	out := nanSlice(len(closes))
	if period < 2 || len(closes) < period {
		return out
	}

	n := float64(period - 1)
	var avgGain, avgLoss float64
	for i := 1; i < period; i++ {
		gain, loss := change(closes[i-1], closes[i])
		avgGain += gain
		avgLoss += loss
	}
	avgGain /= n
	avgLoss /= n
	out[period-1] = rsiValue(avgGain, avgLoss)

	for i := period; i < len(closes); i++ {
		gain, loss := change(closes[i-1], closes[i])
		avgGain = (avgGain*(n-1) + gain) / n
		avgLoss = (avgLoss*(n-1) + loss) / n
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func change(prev, cur float64) (gain, loss float64) {
	d := cur - prev
	if d > 0 {
		return d, 0
	}
	return 0, -d
}

func rsiValue(avgGain, avgLoss float64) float64 {
	switch {
	case avgGain == 0 && avgLoss == 0:
		return 50
	case avgLoss == 0:
		return 100
	}
	rs := avgGain / avgLoss
	v := 100 - 100/(1+rs)
	return math.Max(0, math.Min(100, v))
}
