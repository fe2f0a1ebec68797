// Package acquisition assembles coverage-gated dataset sets for a strategy
// family: manifest cache, tiered discovery, batched fetches with per-candidate
// deadlines, one relaxed recovery pass, and an explicit coverage gate.
package acquisition

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"solana-backtest-lab/internal/domain"
	"solana-backtest-lab/internal/marketdata"
)

// Acquisition errors
var (
	ErrUnknownFamily    = errors.New("no sources configured for family")
	ErrNoCandleSource   = errors.New("family has no candle source")
	ErrTooFewCandles    = errors.New("series shorter than minimum candle depth")
	ErrInvalidRequest   = errors.New("invalid acquisition request")
	ErrCoverageGate     = errors.New("coverage gate failed")
	ErrManifestNotFound = errors.New("manifest not found")
	ErrManifestMismatch = errors.New("manifest does not match request")
)

const manifestPrefix = "manifest:"

var manifestIDPattern = regexp.MustCompile(`^manifest:[A-Za-z0-9_.-]{1,96}$`)

// ValidateManifestID checks a caller-supplied manifest id. Ids share the KV
// key space with run snapshots and artifacts, so only the manifest namespace
// is accepted.
func ValidateManifestID(id string) error {
	if !manifestIDPattern.MatchString(id) {
		return fmt.Errorf("%w: manifest id %q must match %s<letters, digits, _ . ->", ErrInvalidRequest, id, manifestPrefix)
	}
	return nil
}

// Constraints bound one fetch pass.
type Constraints struct {
	MinCandles          int  // shorter series count as failed
	MaxCandles          int  // requested depth, defaults to the lookback in hours
	AllowFallbackSource bool // tier-B candle source may serve candidates
	FetchBatchSize      int  // candidates fetched concurrently
}

// Policy holds the orchestrator-wide thresholds.
type Policy struct {
	MinCoverageRatio   float64       // min datasets = ceil(ratio * universe target)
	MinCacheHitRate    float64       // cached manifest health: succeeded/attempted
	CacheTTL           time.Duration // manifest retention
	HeartbeatInterval  time.Duration // "still waiting" cadence inside a batch
	DiscoveryTimeout   time.Duration // per discovery tier
	BaseTimeout        time.Duration // per-candidate timeout floor
	PerCandleTimeout   time.Duration // added per requested candle
	RelaxedDepthFactor float64       // recovery pass min-candle multiplier
	ResolveConcurrency int           // parallel pool lookups
	FastMaxCandles     int           // depth cap for fast scale
	DefaultMinCandles  int
	DefaultBatchSize   int
	DefaultUniverse    int // universe target when the request sets none
}

// DefaultPolicy returns the production thresholds.
func DefaultPolicy() Policy {
	return Policy{
		MinCoverageRatio:   0.5,
		MinCacheHitRate:    0.5,
		CacheTTL:           6 * time.Hour,
		HeartbeatInterval:  5 * time.Second,
		DiscoveryTimeout:   60 * time.Second,
		BaseTimeout:        10 * time.Second,
		PerCandleTimeout:   20 * time.Millisecond,
		RelaxedDepthFactor: 0.5,
		ResolveConcurrency: 4,
		FastMaxCandles:     720,
		DefaultMinCandles:  168,
		DefaultBatchSize:   8,
		DefaultUniverse:    50,
	}
}

// Sources are the upstreams serving one family. Primary is required unless
// the request declares its assets; Candles is always required.
type Sources struct {
	Primary   marketdata.Discoverer
	Secondary marketdata.Discoverer
	Tertiary  marketdata.Discoverer
	Resolver  marketdata.PoolResolver
	Candles   marketdata.CandleSource
	Fallback  marketdata.CandleSource
	Synthetic marketdata.CandleSource
}

// Observer receives progress from inside Acquire. runtracker.Run satisfies it.
type Observer interface {
	// BatchSettled reports the deltas of one settled batch.
	BatchSettled(attempted, succeeded, failed int)
	// Heartbeat is called on a fixed cadence while a batch is in flight.
	Heartbeat()
}

// FamilyRequest asks for the datasets of one family.
type FamilyRequest struct {
	Family      domain.Family
	Cohort      string         // stable universe identity, part of the manifest key
	Assets      []domain.Asset // declared universe; empty means discover
	TokenSymbol string         // optional case-insensitive filter

	UniverseSize  int
	MinPoolAge    time.Duration
	LookbackHours int
	Scale         domain.DataScale
	Policy        domain.SourcePolicy

	StrictNoSynthetic bool
	ManifestID        string // overrides the derived manifest key
	MinDatasets       int    // overrides the policy coverage ratio
	Constraints       Constraints

	Observer Observer
}

// Outcome is the result of one Acquire call.
type Outcome struct {
	ManifestKey   string
	Datasets      []domain.Dataset
	Attempted     int
	Succeeded     int
	Failed        int
	FromCache     bool
	DiscoveryTier string // source that produced the universe
	Recovered     bool   // relaxed pass ran
	Synthetic     int    // synthetic datasets topped up
	Checks        []CoverageCheck
	Failures      []string // per-candidate diagnostics
}

// Manifest is the cached form of a successful acquisition.
type Manifest struct {
	Key           string           `json:"key"`
	Family        domain.Family    `json:"family"`
	Cohort        string           `json:"cohort"`
	LookbackHours int              `json:"lookbackHours"`
	Scale         domain.DataScale `json:"scale"`
	Policy        string           `json:"policy"`
	Attempted     int              `json:"attempted"`
	Succeeded     int              `json:"succeeded"`
	DiscoveryTier string           `json:"discoveryTier"`
	Datasets      []domain.Dataset `json:"datasets"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// HitRate is succeeded over attempted, 0 when nothing was attempted.
func (m *Manifest) HitRate() float64 {
	if m.Attempted == 0 {
		return 0
	}
	return float64(m.Succeeded) / float64(m.Attempted)
}
