package domain

import "time"

// RunState is the lifecycle state of one backtest invocation.
type RunState string

// Run states
const (
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
	RunPartial   RunState = "partial"
)

// IsTerminal reports whether no further transition is allowed.
func (s RunState) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunPartial
}

// RunPhase is the coarse step a run is executing.
type RunPhase string

// Run phases
const (
	PhaseUniverseDiscovery RunPhase = "universe_discovery"
	PhaseDatasetFetch      RunPhase = "dataset_fetch"
	PhaseStrategyRun       RunPhase = "strategy_run"
	PhaseArtifactPersist   RunPhase = "artifact_persist"
)

// ChunkState is the state of one strategy chunk.
type ChunkState string

// Chunk states
const (
	ChunkPending ChunkState = "pending"
	ChunkRunning ChunkState = "running"
	ChunkDone    ChunkState = "done"
	ChunkFailed  ChunkState = "failed"
)

// ChunkStatus is the per-strategy progress record.
type ChunkStatus struct {
	State     ChunkState `json:"state"`
	Error     string     `json:"error,omitempty"`
	Trades    int        `json:"trades"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// RunStatus is the pollable projection of a run.
type RunStatus struct {
	RunID     string   `json:"runId"`
	State     RunState `json:"state"`
	Phase     RunPhase `json:"phase"`
	Mode      string   `json:"mode"`
	DataScale string   `json:"dataScale"`

	Chunks     map[string]ChunkStatus `json:"chunks"`
	ChunkOrder []string               `json:"chunkOrder"`

	DatasetsAttempted int64 `json:"datasetsAttempted"`
	DatasetsSucceeded int64 `json:"datasetsSucceeded"`
	DatasetsFailed    int64 `json:"datasetsFailed"`

	StartedAt      time.Time  `json:"startedAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	HeartbeatAt    time.Time  `json:"heartbeatAt"`
	LastBatchAt    time.Time  `json:"lastBatchAt"`
	LastMovementAt time.Time  `json:"lastMovementAt"`
	FinishedAt     *time.Time `json:"finishedAt,omitempty"`

	Stale       bool   `json:"stale"`
	StaleReason string `json:"staleReason,omitempty"`
	Error       string `json:"error,omitempty"`
}
