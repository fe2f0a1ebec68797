package metrics

import (
	"math"
	"sort"

	"solana-backtest-lab/internal/domain"
)

// Statistical constants
const (
	// SharpeClamp bounds sharpe and sortino against small-sample blowup.
	SharpeClamp = 10.0
	// EquitySeed is the starting value of every equity curve.
	EquitySeed = 100.0
	// CLTMinTrades is the sample size below which sharpe and intervals are directional only.
	CLTMinTrades = 50
	// WilsonZ is the z-score of the 95% win-rate interval.
	WilsonZ = 1.96
	// EWMALambda is the decay factor of the log-return variance estimate.
	EWMALambda = 0.9
)

// Summarize computes every statistic of an ordered trade list.
// Order-dependent metrics (equity curve, drawdown, loss streaks) follow the
// order of trades; callers pooling several datasets sort first.
func Summarize(trades []domain.Trade) domain.TradeStats {
	n := len(trades)
	stats := domain.TradeStats{
		EquityCurve: []float64{EquitySeed},
		WinRateCI:   Wilson(0, 0, WilsonZ),
	}
	if n == 0 {
		return stats
	}

	outcomes := make([]float64, n)
	var grossWin, grossLoss float64
	var winCount, lossCount int
	largestWin, largestLoss := 0.0, 0.0
	for i, t := range trades {
		o := t.PnLNet
		outcomes[i] = o
		if t.IsWin() {
			winCount++
			grossWin += o
			largestWin = math.Max(largestWin, o)
		} else {
			lossCount++
			grossLoss += -o
			largestLoss = math.Min(largestLoss, o)
		}
	}

	mean := computeMean(outcomes)
	stddev := computeStddev(outcomes, mean)
	curve := computeEquityCurve(outcomes)
	maxDD, ddDuration := computeMaxDrawdown(curve)
	totalReturn := curve[len(curve)-1] - EquitySeed

	stats.TradeCount = n
	stats.Wins = winCount
	stats.Losses = lossCount
	stats.WinRate = computeWinRate(winCount, n)
	stats.DatasetWinRate = computeDatasetWinRate(trades)

	stats.ProfitFactor = computeProfitFactor(grossWin, grossLoss)
	stats.Expectancy = mean
	stats.Sharpe = computeSharpe(mean, stddev, n)
	stats.Sortino = computeSortino(outcomes, mean)

	stats.EquityCurve = curve
	stats.MaxDrawdownPct = maxDD
	stats.MaxDrawdownDuration = ddDuration
	stats.TotalReturnPct = totalReturn
	if maxDD > 0 {
		stats.RecoveryFactor = sum(outcomes) / maxDD
		stats.Calmar = totalReturn / maxDD
	}

	stats.Volatility = stddev
	if winCount > 0 {
		stats.AvgWin = grossWin / float64(winCount)
	}
	if lossCount > 0 {
		stats.AvgLoss = -grossLoss / float64(lossCount)
	}
	stats.LargestWin = largestWin
	stats.LargestLoss = largestLoss
	stats.MaxConsecutiveLosses = computeMaxConsecutiveLosses(trades)

	stats.WinRateCI = Wilson(winCount, n, WilsonZ)
	stats.EWMAVolatility = EWMAVolatility(outcomes, EWMALambda)
	stats.CLTReliable = n >= CLTMinTrades
	return stats
}

// computeDatasetWinRate groups trades by DatasetID; a dataset is winning if at
// least one of its trades is a win.
func computeDatasetWinRate(trades []domain.Trade) float64 {
	if len(trades) == 0 {
		return 0
	}
	winning := make(map[string]bool)
	for _, t := range trades {
		winning[t.DatasetID] = winning[t.DatasetID] || t.IsWin()
	}
	count := 0
	for _, w := range winning {
		if w {
			count++
		}
	}
	return float64(count) / float64(len(winning))
}

// computeWinRate calculates win rate as wins / total.
func computeWinRate(wins, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(wins) / float64(total)
}

// computeProfitFactor divides gross profit by gross loss. Without losses the
// factor is ProfitFactorCap when anything was won and 0 otherwise.
func computeProfitFactor(grossWin, grossLoss float64) float64 {
	if grossLoss == 0 {
		if grossWin > 0 {
			return domain.ProfitFactorCap
		}
		return 0
	}
	return math.Min(grossWin/grossLoss, domain.ProfitFactorCap)
}

func computeSharpe(mean, stddev float64, n int) float64 {
	if stddev == 0 {
		return 0
	}
	return clamp(mean/stddev*math.Sqrt(float64(n)), SharpeClamp)
}

// computeSortino uses downside deviation over all trades. With no losing trade
// it saturates at the clamp when the mean is positive.
func computeSortino(outcomes []float64, mean float64) float64 {
	var downSq float64
	for _, o := range outcomes {
		if o < 0 {
			downSq += o * o
		}
	}
	if downSq == 0 {
		if mean > 0 {
			return SharpeClamp
		}
		return 0
	}
	dd := math.Sqrt(downSq / float64(len(outcomes)))
	return clamp(mean/dd*math.Sqrt(float64(len(outcomes))), SharpeClamp)
}

// computeMean calculates arithmetic mean of outcomes.
func computeMean(outcomes []float64) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	return sum(outcomes) / float64(len(outcomes))
}

// computeStddev calculates sample standard deviation (n-1 denominator).
func computeStddev(outcomes []float64, mean float64) float64 {
	n := len(outcomes)
	if n < 2 {
		return 0
	}
	sumSq := 0.0
	for _, o := range outcomes {
		diff := o - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(n-1))
}

// computePercentile uses linear interpolation.
// sorted must be pre-sorted ASC; p is a fraction (0.10 = 10th percentile).
func computePercentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	idx := p * float64(n-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// computeEquityCurve compounds percent outcomes onto EquitySeed.
// The curve has len(outcomes)+1 points.
func computeEquityCurve(outcomes []float64) []float64 {
	curve := make([]float64, len(outcomes)+1)
	curve[0] = EquitySeed
	for i, o := range outcomes {
		curve[i+1] = math.Max(0, curve[i]*(1+o/100))
	}
	return curve
}

// computeMaxDrawdown returns the worst peak-to-trough decline of the curve in
// percent of the peak, and the longest run of points spent below a prior peak.
func computeMaxDrawdown(curve []float64) (float64, int) {
	if len(curve) == 0 {
		return 0, 0
	}
	peak := curve[0]
	maxDD := 0.0
	longest, current := 0, 0
	for _, v := range curve {
		if v >= peak {
			peak = v
			current = 0
			continue
		}
		current++
		if current > longest {
			longest = current
		}
		if dd := (peak - v) / peak * 100; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD, longest
}

// computeMaxConsecutiveLosses finds longest streak of non-winning trades.
// Trades must be in chronological order.
func computeMaxConsecutiveLosses(trades []domain.Trade) int {
	maxStreak := 0
	currentStreak := 0

	for _, t := range trades {
		if !t.IsWin() {
			currentStreak++
			if currentStreak > maxStreak {
				maxStreak = currentStreak
			}
		} else {
			currentStreak = 0
		}
	}
	return maxStreak
}

// sortTrades orders trades by EntryTime ASC, TradeID ASC.
func sortTrades(trades []domain.Trade) {
	sort.SliceStable(trades, func(i, j int) bool {
		if !trades[i].EntryTime.Equal(trades[j].EntryTime) {
			return trades[i].EntryTime.Before(trades[j].EntryTime)
		}
		return trades[i].TradeID < trades[j].TradeID
	})
}

func sum(values []float64) float64 {
	s := 0.0
	for _, v := range values {
		s += v
	}
	return s
}

func clamp(v, limit float64) float64 {
	return math.Max(-limit, math.Min(limit, v))
}
