// Package runtracker is the persisted state machine of backtest runs:
// running -> completed | failed | partial, per-strategy chunks, atomic
// progress counters and a staleness watchdog.
package runtracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"solana-backtest-lab/internal/domain"
	"solana-backtest-lab/internal/observability"
	"solana-backtest-lab/internal/storage"
)

// Tracker errors
var (
	ErrRunNotFound        = errors.New("run not found")
	ErrMonitorUnavailable = errors.New("run monitor unavailable")
	ErrTerminal           = errors.New("run already terminal")
	ErrDuplicateRun       = errors.New("run already exists")
	ErrInvalidRunID       = errors.New("invalid run id")
	ErrUnknownChunk       = errors.New("unknown chunk")
	ErrInvalidTransition  = errors.New("invalid chunk transition")
)

// Defaults
const (
	DefaultRetention      = 24 * time.Hour
	DefaultFastBudget     = 3 * time.Minute
	DefaultThoroughBudget = 15 * time.Minute
	persistTimeout        = 2 * time.Second
	snapshotPrefix        = "run:"
)

var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// ValidateRunID checks the run id format.
func ValidateRunID(id string) error {
	if !runIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidRunID, id)
	}
	return nil
}

// SnapshotKey is the KV key of a run's persisted status.
func SnapshotKey(runID string) string {
	return snapshotPrefix + runID
}

// Budgets are the liveness budgets per data scale.
type Budgets struct {
	Fast     time.Duration
	Thorough time.Duration
}

// For returns the budget of scale.
func (b Budgets) For(scale domain.DataScale) time.Duration {
	if scale == domain.ScaleThorough {
		return b.Thorough
	}
	return b.Fast
}

// Options for creating Tracker.
type Options struct {
	Store     storage.KVStore // snapshots; nil keeps runs in memory only
	Retention time.Duration
	Budgets   Budgets
	Logger    zerolog.Logger
	Clock     func() time.Time
}

// Tracker owns every run started in this process.
type Tracker struct {
	mu   sync.RWMutex
	runs map[string]*Run

	store     storage.KVStore
	retention time.Duration
	budgets   Budgets
	logger    zerolog.Logger
	clock     func() time.Time
}

// New creates a new Tracker.
func New(opts Options) *Tracker {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Budgets.Fast <= 0 {
		opts.Budgets.Fast = DefaultFastBudget
	}
	if opts.Budgets.Thorough <= 0 {
		opts.Budgets.Thorough = DefaultThoroughBudget
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Tracker{
		runs:      make(map[string]*Run),
		store:     opts.Store,
		retention: opts.Retention,
		budgets:   opts.Budgets,
		logger:    opts.Logger.With().Str("component", "runtracker").Logger(),
		clock:     opts.Clock,
	}
}

// Start registers a running run with one pending chunk per id, in order.
func (t *Tracker) Start(runID, mode string, scale domain.DataScale, chunkIDs []string) (*Run, error) {
	if err := ValidateRunID(runID); err != nil {
		return nil, err
	}
	now := t.clock()
	r := &Run{
		id:        runID,
		mode:      mode,
		scale:     scale,
		startedAt: now,
		tracker:   t,
		state:     domain.RunRunning,
		phase:     domain.PhaseUniverseDiscovery,
		chunks:    make(map[string]domain.ChunkStatus, len(chunkIDs)),
	}
	for _, id := range chunkIDs {
		if _, dup := r.chunks[id]; dup {
			continue
		}
		r.chunks[id] = domain.ChunkStatus{State: domain.ChunkPending, UpdatedAt: now}
		r.order = append(r.order, id)
	}
	r.updatedAt.Store(now.UnixNano())

	t.mu.Lock()
	if _, exists := t.runs[runID]; exists {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRun, runID)
	}
	t.runs[runID] = r
	t.mu.Unlock()

	observability.RecordRunStarted(mode)
	t.logger.Info().Str("run_id", runID).Str("mode", mode).Str("scale", string(scale)).Int("chunks", len(r.order)).Msg("run started")
	t.persist(r)
	return r, nil
}

// Get returns an in-process run.
func (t *Tracker) Get(runID string) (*Run, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.runs[runID]
	return r, ok
}

// Lookup returns the status of runID from memory or, for runs owned by other
// processes, from the snapshot store. A persisted running snapshot that has
// outlived its liveness budget is reported as stale and failed.
func (t *Tracker) Lookup(ctx context.Context, runID string) (domain.RunStatus, error) {
	if err := ValidateRunID(runID); err != nil {
		return domain.RunStatus{}, err
	}
	if r, ok := t.Get(runID); ok {
		return r.Status(), nil
	}
	if t.store == nil {
		return domain.RunStatus{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	raw, err := t.store.Get(ctx, SnapshotKey(runID))
	if errors.Is(err, storage.ErrNotFound) {
		return domain.RunStatus{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return domain.RunStatus{}, fmt.Errorf("%w: %w", ErrMonitorUnavailable, err)
	}

	var st domain.RunStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return domain.RunStatus{}, fmt.Errorf("%w: decode snapshot: %w", ErrMonitorUnavailable, err)
	}
	return t.projectStale(st, t.clock()), nil
}

func (t *Tracker) projectStale(st domain.RunStatus, now time.Time) domain.RunStatus {
	if st.State != domain.RunRunning {
		return st
	}
	budget := t.budgets.For(domain.DataScale(st.DataScale))
	if idle := now.Sub(st.LastMovementAt); idle > budget {
		st.State = domain.RunFailed
		st.Stale = true
		st.StaleReason = staleReason(idle, budget)
	}
	return st
}

func staleReason(idle, budget time.Duration) string {
	return fmt.Sprintf("no progress for %s (liveness budget %s)", idle.Round(time.Second), budget)
}

// Sweep fails running runs whose last movement is older than their budget
// and evicts terminal runs past retention. Returns the ids failed as stale.
func (t *Tracker) Sweep(now time.Time) []string {
	t.mu.RLock()
	runs := make([]*Run, 0, len(t.runs))
	for _, r := range t.runs {
		runs = append(runs, r)
	}
	t.mu.RUnlock()

	var staleIDs []string
	for _, r := range runs {
		if !r.isRunning() {
			continue
		}
		budget := t.budgets.For(r.scale)
		idle := now.Sub(r.lastMovement())
		if idle <= budget {
			continue
		}
		if err := r.failWith(staleReason(idle, budget), true); err != nil {
			continue // finished concurrently
		}
		observability.RecordStaleRun()
		t.logger.Warn().Str("run_id", r.id).Dur("idle", idle).Dur("budget", budget).Msg("run failed by staleness watchdog")
		staleIDs = append(staleIDs, r.id)
	}

	cutoff := now.Add(-t.retention)
	t.mu.Lock()
	for id, r := range t.runs {
		if r.finishedBefore(cutoff) {
			delete(t.runs, id)
		}
	}
	t.mu.Unlock()
	return staleIDs
}

// StartWatchdog runs Sweep every interval until ctx is done. The returned
// channel is closed when the watchdog exits.
func (t *Tracker) StartWatchdog(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.Sweep(t.clock())
			}
		}
	}()
	return done
}

// Len returns the number of runs held in memory.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.runs)
}

// persist writes the run snapshot. Snapshots are serialized per run so an
// older projection never overwrites a newer one.
func (t *Tracker) persist(r *Run) {
	if t.store == nil {
		return
	}
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	raw, err := json.Marshal(r.Status())
	if err != nil {
		t.logger.Error().Err(err).Str("run_id", r.id).Msg("encode run snapshot")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := t.store.Put(ctx, SnapshotKey(r.id), raw, t.retention); err != nil {
		t.logger.Warn().Err(err).Str("run_id", r.id).Msg("persist run snapshot")
	}
}

func (t *Tracker) recordPhase(r *Run, prev, next domain.RunPhase) {
	if prev == next {
		return
	}
	t.logger.Info().Str("run_id", r.id).Str("from", string(prev)).Str("to", string(next)).Msg("phase changed")
}

func (t *Tracker) recordChunk(state domain.ChunkState) {
	observability.RecordChunk(string(state))
}

func (t *Tracker) recordFinish(r *Run, state domain.RunState) {
	observability.RecordRunFinished(string(state), float64(t.clock().Unix()))
	t.logger.Info().Str("run_id", r.id).Str("state", string(state)).Msg("run finished")
}
