package domain

// DataScale trades acquisition depth for latency.
type DataScale string

// Data scales
const (
	ScaleFast     DataScale = "fast"
	ScaleThorough DataScale = "thorough"
)

// IsValid checks if the scale is a known value.
func (s DataScale) IsValid() bool {
	return s == ScaleFast || s == ScaleThorough
}

// SourcePolicy controls whether fallback candle sources may be used.
type SourcePolicy string

// Source policies
const (
	PolicyPrimaryOnly   SourcePolicy = "primary_only"
	PolicyAllowFallback SourcePolicy = "allow_fallback"
)

// IsValid checks if the policy is a known value.
func (p SourcePolicy) IsValid() bool {
	return p == PolicyPrimaryOnly || p == PolicyAllowFallback
}

// AllowsFallback reports whether tier-B candle sources may serve the request.
func (p SourcePolicy) AllowsFallback() bool {
	return p == PolicyAllowFallback
}

// Lookback bounds in hours.
const (
	MinLookbackHours = 720
	MaxLookbackHours = 4320
)

// ClampLookbackHours forces h into [MinLookbackHours, MaxLookbackHours].
func ClampLookbackHours(h int) int {
	if h < MinLookbackHours {
		return MinLookbackHours
	}
	if h > MaxLookbackHours {
		return MaxLookbackHours
	}
	return h
}

// BacktestRequest is one invocation. Exactly one of StrategyID, StrategyIDs or
// Family selects the strategies.
type BacktestRequest struct {
	StrategyID        string       `json:"strategyId,omitempty"`
	StrategyIDs       []string     `json:"strategyIds,omitempty"`
	Family            Family       `json:"family,omitempty"`
	TokenSymbol       string       `json:"tokenSymbol,omitempty"`
	Mode              string       `json:"mode"`
	DataScale         DataScale    `json:"dataScale"`
	SourcePolicy      SourcePolicy `json:"sourcePolicy"`
	LookbackHours     int          `json:"lookbackHours"`
	StrictNoSynthetic bool         `json:"strictNoSynthetic"`
	RunID             string       `json:"runId,omitempty"`
	ManifestID        string       `json:"manifestId,omitempty"`
}

// Progress is the response-side view of run counters.
type Progress struct {
	Phase             RunPhase `json:"phase"`
	ChunksTotal       int      `json:"chunksTotal"`
	ChunksDone        int      `json:"chunksDone"`
	ChunksFailed      int      `json:"chunksFailed"`
	DatasetsAttempted int64    `json:"datasetsAttempted"`
	DatasetsSucceeded int64    `json:"datasetsSucceeded"`
	DatasetsFailed    int64    `json:"datasetsFailed"`
}

// EvidenceRef summarizes the persisted evidence bundle.
type EvidenceRef struct {
	RunID        string `json:"runId"`
	DatasetCount int    `json:"datasetCount"`
	TradeCount   int    `json:"tradeCount"`
	Hash         string `json:"hash"`
}

// BacktestResponse is returned for a finished invocation.
type BacktestResponse struct {
	RunID      string       `json:"runId"`
	ManifestID string       `json:"manifestId"`
	State      RunState     `json:"state"`
	Progress   Progress     `json:"progress"`
	Results    []SummaryRow `json:"results"`
	Report     string       `json:"report"`
	Evidence   *EvidenceRef `json:"evidence"`
}
