package domain

import "time"

// SummaryRow is one strategy's pooled result in both human and machine form.
type SummaryRow struct {
	StrategyID string     `json:"strategyId"`
	Family     Family     `json:"family"`
	Status     ChunkState `json:"status"`
	Error      string     `json:"error,omitempty"`

	Datasets int `json:"datasets"`
	Trades   int `json:"trades"`

	// Human-formatted
	WinRate      string `json:"winRate"`      // "63.4%"
	ProfitFactor string `json:"profitFactor"` // "1.85"
	Expectancy   string `json:"expectancy"`   // "+1.20%"
	MaxDrawdown  string `json:"maxDrawdown"`  // "12.3%"
	Sharpe       string `json:"sharpe"`       // "0.84"
	WinRateCI    string `json:"winRateCi"`    // "51.2% - 74.1%"

	// Machine
	WinRatePct      float64 `json:"winRatePct"`
	ProfitFactorNum float64 `json:"profitFactorNum"`
	ExpectancyPct   float64 `json:"expectancyPct"`
	MaxDrawdownPct  float64 `json:"maxDrawdownPct"`
	SharpeNum       float64 `json:"sharpeNum"`
	WinRateLowerPct float64 `json:"winRateLowerPct"`
	WinRateUpperPct float64 `json:"winRateUpperPct"`
	EWMAVolatility  float64 `json:"ewmaVolatility"`
	CLTReliable     bool    `json:"cltReliable"`
}

// EvidenceBundle is the immutable audit record of one run.
type EvidenceBundle struct {
	RunID          string              `json:"runId"`
	GeneratedAt    time.Time           `json:"generatedAt"`
	Hash           string              `json:"hash"` // over sorted dataset fingerprints
	Datasets       []DatasetProvenance `json:"datasets"`
	Trades         []Trade             `json:"trades"`
	ResultsSummary []SummaryRow        `json:"resultsSummary"`
	ReportText     string              `json:"reportText"`
}
