package acquisition

import (
	"fmt"
	"strings"

	"solana-backtest-lab/internal/domain"
)

// CoverageCheck represents one coverage criterion.
type CoverageCheck struct {
	Name      string `json:"name"`
	Threshold string `json:"threshold"`
	Actual    string `json:"actual"`
	Pass      bool   `json:"pass"`
}

// CoverageStats are the counters reported with a coverage-gate failure.
type CoverageStats struct {
	Family        domain.Family `json:"family"`
	Required      int           `json:"required"`
	Succeeded     int           `json:"succeeded"`
	Attempted     int           `json:"attempted"`
	Failed        int           `json:"failed"`
	DiscoveryTier string        `json:"discoveryTier,omitempty"`
	Recovered     bool          `json:"recovered"`
}

// CoverageError is returned when a family cannot reach its minimum real
// dataset count after the fallback and recovery ladder. Callers must widen the
// source policy or lower requirements before retrying.
type CoverageError struct {
	Family            domain.Family   `json:"family"`
	Stats             CoverageStats   `json:"coverageStats"`
	DisallowedSources []string        `json:"disallowedSources,omitempty"`
	Checks            []CoverageCheck `json:"checks"`
}

func (e *CoverageError) Error() string {
	msg := fmt.Sprintf("coverage gate failed for %s: %d/%d real datasets (%d attempted)",
		e.Family, e.Stats.Succeeded, e.Stats.Required, e.Stats.Attempted)
	if len(e.DisallowedSources) > 0 {
		msg += "; disallowed sources: " + strings.Join(e.DisallowedSources, ",")
	}
	return msg
}

// Unwrap lets errors.Is(err, ErrCoverageGate) match.
func (e *CoverageError) Unwrap() error {
	return ErrCoverageGate
}

// checkCoverage runs the post-fetch gate.
func checkCoverage(succeeded, required int) []CoverageCheck {
	return []CoverageCheck{checkDatasetCount("Real datasets", succeeded, required)}
}

// checkManifestHealth decides whether a cached manifest may be served.
func checkManifestHealth(m *Manifest, required int, minHitRate float64) []CoverageCheck {
	return []CoverageCheck{
		checkDatasetCount("Cached datasets", len(m.Datasets), required),
		{
			Name:      "Cache hit rate",
			Threshold: fmt.Sprintf(">= %.0f%%", minHitRate*100),
			Actual:    fmt.Sprintf("%.1f%%", m.HitRate()*100),
			Pass:      m.HitRate() >= minHitRate,
		},
	}
}

func checkDatasetCount(name string, actual, required int) CoverageCheck {
	return CoverageCheck{
		Name:      name,
		Threshold: fmt.Sprintf(">= %d", required),
		Actual:    fmt.Sprintf("%d", actual),
		Pass:      actual >= required,
	}
}

func allPass(checks []CoverageCheck) bool {
	for _, c := range checks {
		if !c.Pass {
			return false
		}
	}
	return true
}
