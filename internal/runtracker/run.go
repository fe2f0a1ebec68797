package runtracker

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"solana-backtest-lab/internal/domain"
)

// Run is the live state of one backtest invocation. Counters and activity
// timestamps are atomics; state, phase and chunk fields change one at a time
// under mu.
type Run struct {
	id        string
	mode      string
	scale     domain.DataScale
	startedAt time.Time
	tracker   *Tracker

	attempted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64

	// unix nanos
	updatedAt   atomic.Int64
	heartbeatAt atomic.Int64
	lastBatchAt atomic.Int64

	mu          sync.Mutex
	state       domain.RunState
	phase       domain.RunPhase
	chunks      map[string]domain.ChunkStatus
	order       []string
	finishedAt  time.Time
	stale       bool
	staleReason string
	errMsg      string

	persistMu sync.Mutex
}

// ID returns the run id.
func (r *Run) ID() string { return r.id }

// Scale returns the data scale that sets the liveness budget.
func (r *Run) Scale() domain.DataScale { return r.scale }

func (r *Run) now() time.Time { return r.tracker.clock() }

func (r *Run) touch(field *atomic.Int64) {
	n := r.now().UnixNano()
	field.Store(n)
	if field != &r.updatedAt {
		r.updatedAt.Store(n)
	}
}

// SetPhase moves the run to phase.
func (r *Run) SetPhase(phase domain.RunPhase) error {
	r.mu.Lock()
	if r.state.IsTerminal() {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTerminal, r.id)
	}
	prev := r.phase
	r.phase = phase
	r.mu.Unlock()

	r.touch(&r.updatedAt)
	r.tracker.recordPhase(r, prev, phase)
	r.tracker.persist(r)
	return nil
}

// StartChunk moves a pending chunk to running.
func (r *Run) StartChunk(chunkID string) error {
	return r.transitionChunk(chunkID, domain.ChunkPending, domain.ChunkStatus{State: domain.ChunkRunning})
}

// FinishChunk moves a running chunk to done.
func (r *Run) FinishChunk(chunkID string, trades int) error {
	return r.transitionChunk(chunkID, domain.ChunkRunning, domain.ChunkStatus{State: domain.ChunkDone, Trades: trades})
}

// FailChunk moves a pending or running chunk to failed.
func (r *Run) FailChunk(chunkID string, cause error) error {
	msg := "failed"
	if cause != nil {
		msg = cause.Error()
	}
	return r.transitionChunk(chunkID, "", domain.ChunkStatus{State: domain.ChunkFailed, Error: msg})
}

// transitionChunk applies next when the chunk is in from; an empty from
// accepts any non-final state.
func (r *Run) transitionChunk(chunkID string, from domain.ChunkState, next domain.ChunkStatus) error {
	r.mu.Lock()
	if r.state.IsTerminal() {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTerminal, r.id)
	}
	cur, ok := r.chunks[chunkID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownChunk, chunkID)
	}
	final := cur.State == domain.ChunkDone || cur.State == domain.ChunkFailed
	if (from != "" && cur.State != from) || (from == "" && final) {
		r.mu.Unlock()
		return fmt.Errorf("%w: chunk %s %s -> %s", ErrInvalidTransition, chunkID, cur.State, next.State)
	}
	next.UpdatedAt = r.now()
	r.chunks[chunkID] = next
	r.mu.Unlock()

	r.touch(&r.updatedAt)
	if next.State == domain.ChunkDone || next.State == domain.ChunkFailed {
		r.tracker.recordChunk(next.State)
	}
	r.tracker.persist(r)
	return nil
}

// BatchSettled adds the deltas of one dataset batch.
func (r *Run) BatchSettled(attempted, succeeded, failed int) {
	r.attempted.Add(int64(attempted))
	r.succeeded.Add(int64(succeeded))
	r.failed.Add(int64(failed))
	r.touch(&r.lastBatchAt)
	r.tracker.persist(r)
}

// Heartbeat records liveness without progress.
func (r *Run) Heartbeat() {
	r.touch(&r.heartbeatAt)
	r.tracker.persist(r)
}

// Finish derives the terminal state from the chunks: all done is completed,
// none done is failed, anything else is partial. Chunks never finished count
// as failed.
func (r *Run) Finish() (domain.RunState, error) {
	r.mu.Lock()
	if r.state.IsTerminal() {
		state := r.state
		r.mu.Unlock()
		return state, fmt.Errorf("%w: %s is %s", ErrTerminal, r.id, state)
	}
	done, failed := 0, 0
	now := r.now()
	for id, c := range r.chunks {
		switch c.State {
		case domain.ChunkDone:
			done++
		case domain.ChunkFailed:
			failed++
		default:
			r.chunks[id] = domain.ChunkStatus{State: domain.ChunkFailed, Error: "not finished", UpdatedAt: now}
			failed++
		}
	}
	switch {
	case failed == 0:
		r.state = domain.RunCompleted
	case done == 0:
		r.state = domain.RunFailed
		r.errMsg = fmt.Sprintf("all %d chunks failed", failed)
	default:
		r.state = domain.RunPartial
	}
	r.finishedAt = now
	state := r.state
	r.mu.Unlock()

	r.touch(&r.updatedAt)
	r.tracker.recordFinish(r, state)
	r.tracker.persist(r)
	return state, nil
}

// Fail moves the run to failed with cause.
func (r *Run) Fail(cause error) error {
	msg := "failed"
	if cause != nil {
		msg = cause.Error()
	}
	return r.failWith(msg, false)
}

func (r *Run) failWith(msg string, stale bool) error {
	r.mu.Lock()
	if r.state.IsTerminal() {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrTerminal, r.id, state)
	}
	r.state = domain.RunFailed
	r.finishedAt = r.now()
	if stale {
		r.stale = true
		r.staleReason = msg
	} else {
		r.errMsg = msg
	}
	r.mu.Unlock()

	r.touch(&r.updatedAt)
	r.tracker.recordFinish(r, domain.RunFailed)
	r.tracker.persist(r)
	return nil
}

// lastMovement is the latest of the update, heartbeat and batch times.
func (r *Run) lastMovement() time.Time {
	n := max(r.updatedAt.Load(), r.heartbeatAt.Load(), r.lastBatchAt.Load())
	return time.Unix(0, n).UTC()
}

func unixOrZero(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// Status returns a consistent copy of the run's projection.
func (r *Run) Status() domain.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	chunks := make(map[string]domain.ChunkStatus, len(r.chunks))
	for id, c := range r.chunks {
		chunks[id] = c
	}
	st := domain.RunStatus{
		RunID:             r.id,
		State:             r.state,
		Phase:             r.phase,
		Mode:              r.mode,
		DataScale:         string(r.scale),
		Chunks:            chunks,
		ChunkOrder:        append([]string(nil), r.order...),
		DatasetsAttempted: r.attempted.Load(),
		DatasetsSucceeded: r.succeeded.Load(),
		DatasetsFailed:    r.failed.Load(),
		StartedAt:         r.startedAt,
		UpdatedAt:         unixOrZero(r.updatedAt.Load()),
		HeartbeatAt:       unixOrZero(r.heartbeatAt.Load()),
		LastBatchAt:       unixOrZero(r.lastBatchAt.Load()),
		LastMovementAt:    r.lastMovement(),
		Stale:             r.stale,
		StaleReason:       r.staleReason,
		Error:             r.errMsg,
	}
	if !r.finishedAt.IsZero() {
		f := r.finishedAt
		st.FinishedAt = &f
	}
	return st
}

// Progress summarizes chunk and dataset counters.
func (r *Run) Progress() domain.Progress {
	st := r.Status()
	return ProgressOf(st)
}

// ProgressOf summarizes a status projection.
func ProgressOf(st domain.RunStatus) domain.Progress {
	p := domain.Progress{
		Phase:             st.Phase,
		ChunksTotal:       len(st.Chunks),
		DatasetsAttempted: st.DatasetsAttempted,
		DatasetsSucceeded: st.DatasetsSucceeded,
		DatasetsFailed:    st.DatasetsFailed,
	}
	for _, c := range st.Chunks {
		switch c.State {
		case domain.ChunkDone:
			p.ChunksDone++
		case domain.ChunkFailed:
			p.ChunksFailed++
		}
	}
	return p
}

func (r *Run) isRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == domain.RunRunning
}

func (r *Run) finishedBefore(t time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.IsTerminal() && r.finishedAt.Before(t)
}
