package metrics

import (
	"math/rand"
	"sort"
)

// MonteCarloResult summarizes bootstrap resamples of a trade sequence.
type MonteCarloResult struct {
	Runs            int     `json:"runs"`
	FinalEquityP5   float64 `json:"finalEquityP5"`
	FinalEquityP25  float64 `json:"finalEquityP25"`
	FinalEquityP50  float64 `json:"finalEquityP50"`
	FinalEquityP75  float64 `json:"finalEquityP75"`
	FinalEquityP95  float64 `json:"finalEquityP95"`
	ProbabilityLoss float64 `json:"probabilityLoss"` // share of runs ending below EquitySeed
	VaR95Pct        float64 `json:"var95Pct"`        // 5th percentile final return, percent
	MedianMaxDDPct  float64 `json:"medianMaxDdPct"`
}

// MonteCarlo resamples pnlPcts with replacement runs times and compounds each
// resample from EquitySeed. The same seed gives the same result.
func MonteCarlo(pnlPcts []float64, runs int, seed int64) MonteCarloResult {
	res := MonteCarloResult{Runs: runs}
	if len(pnlPcts) == 0 || runs <= 0 {
		return res
	}

	rng := rand.New(rand.NewSource(seed))
	finals := make([]float64, runs)
	drawdowns := make([]float64, runs)
	sample := make([]float64, len(pnlPcts))
	losses := 0

	for r := 0; r < runs; r++ {
		for i := range sample {
			sample[i] = pnlPcts[rng.Intn(len(pnlPcts))]
		}
		curve := computeEquityCurve(sample)
		finals[r] = curve[len(curve)-1]
		drawdowns[r], _ = computeMaxDrawdown(curve)
		if finals[r] < EquitySeed {
			losses++
		}
	}

	sort.Float64s(finals)
	sort.Float64s(drawdowns)

	res.FinalEquityP5 = computePercentile(finals, 0.05)
	res.FinalEquityP25 = computePercentile(finals, 0.25)
	res.FinalEquityP50 = computePercentile(finals, 0.50)
	res.FinalEquityP75 = computePercentile(finals, 0.75)
	res.FinalEquityP95 = computePercentile(finals, 0.95)
	res.ProbabilityLoss = float64(losses) / float64(runs)
	res.VaR95Pct = res.FinalEquityP5 - EquitySeed
	res.MedianMaxDDPct = computePercentile(drawdowns, 0.50)
	return res
}
