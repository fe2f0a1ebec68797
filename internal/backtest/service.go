// Package backtest accepts backtest invocations, runs them synchronously or
// as background jobs, and keeps finished responses for pickup.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"solana-backtest-lab/internal/domain"
	"solana-backtest-lab/internal/orchestrator"
	"solana-backtest-lab/internal/runtracker"
)

// Service errors
var (
	ErrJobNotFound = errors.New("job not found")
	ErrClosed      = errors.New("service is shutting down")
)

// Job statuses
const (
	JobQueued  = "queued"
	JobRunning = "running"
	JobDone    = "done"
	JobFailed  = "failed"
)

// Job is one background invocation.
type Job struct {
	RunID       string                   `json:"runId"`
	Status      string                   `json:"status"`
	Request     domain.BacktestRequest   `json:"request"`
	Response    *domain.BacktestResponse `json:"response,omitempty"`
	Error       string                   `json:"error,omitempty"`
	SubmittedAt time.Time                `json:"submittedAt"`
	FinishedAt  *time.Time               `json:"finishedAt,omitempty"`

	err error
}

// Err returns the error the job finished with, if any.
func (j Job) Err() error { return j.err }

func (j *Job) copy() Job {
	cp := *j
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		cp.FinishedAt = &t
	}
	return cp
}

// ServiceConfig configures Service.
type ServiceConfig struct {
	Orchestrator   *orchestrator.Orchestrator
	MaxConcurrent  int           // runs executing at once, default 2
	JobRetention   time.Duration // finished jobs kept this long, default runtracker.DefaultRetention
	QueueHeartbeat time.Duration // liveness signal while a job waits for a slot, default 10s
	Logger         zerolog.Logger
	Clock          func() time.Time
}

// Service manages invocations and bounds how many run at once.
type Service struct {
	orch      *orchestrator.Orchestrator
	sem       chan struct{}
	retention time.Duration
	heartbeat time.Duration
	logger    zerolog.Logger
	clock     func() time.Time

	mu     sync.RWMutex
	jobs   map[string]*Job
	closed bool
	wg     sync.WaitGroup

	baseCtx context.Context
}

// NewService creates a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	retention := cfg.JobRetention
	if retention <= 0 {
		retention = runtracker.DefaultRetention
	}
	heartbeat := cfg.QueueHeartbeat
	if heartbeat <= 0 {
		heartbeat = 10 * time.Second
	}
	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		orch:      cfg.Orchestrator,
		sem:       make(chan struct{}, maxConcurrent),
		retention: retention,
		heartbeat: heartbeat,
		logger:    cfg.Logger.With().Str("component", "backtest").Logger(),
		clock:     clock,
		jobs:      make(map[string]*Job),
		baseCtx:   context.Background(),
	}, nil
}

// SetContext injects the host context; cancelling it stops queued jobs.
func (s *Service) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Service) ctx() context.Context {
	if s.baseCtx == nil {
		return context.Background()
	}
	return s.baseCtx
}

// withRunID assigns a fresh run id when the caller gave none.
func withRunID(req domain.BacktestRequest) domain.BacktestRequest {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	return req
}

// Run executes req and blocks until it reaches a terminal state.
// Validation errors wrap orchestrator.ErrInvalidRequest; a run whose every
// chunk missed the coverage gate returns the response with the
// *acquisition.CoverageError.
func (s *Service) Run(ctx context.Context, req domain.BacktestRequest) (*domain.BacktestResponse, error) {
	req = withRunID(req)
	plan, err := s.orch.Prepare(req)
	if err != nil {
		return nil, err
	}
	if err := s.acquireSlot(ctx, nil); err != nil {
		return nil, err
	}
	defer s.releaseSlot()

	run, err := s.orch.Begin(plan)
	if err != nil {
		return nil, err
	}

	// Once registered the run finishes even if the caller goes away; only
	// host shutdown cancels it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(s.ctx(), cancel)
	defer stop()
	return s.orch.Execute(runCtx, plan, run)
}

// Submit validates req, registers its run and executes it in the background.
// The returned job is a snapshot; poll the run tracker or Job for progress.
func (s *Service) Submit(req domain.BacktestRequest) (Job, error) {
	req = withRunID(req)
	plan, err := s.orch.Prepare(req)
	if err != nil {
		return Job{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Job{}, ErrClosed
	}
	s.pruneLocked()
	run, err := s.orch.Begin(plan)
	if err != nil {
		s.mu.Unlock()
		return Job{}, err
	}
	job := &Job{
		RunID:       plan.Request.RunID,
		Status:      JobQueued,
		Request:     plan.Request,
		SubmittedAt: s.clock(),
	}
	s.jobs[job.RunID] = job
	s.wg.Add(1)
	snapshot := job.copy()
	s.mu.Unlock()

	s.logger.Info().
		Str("run_id", job.RunID).
		Str("mode", string(plan.Mode)).
		Strs("strategies", plan.ChunkIDs()).
		Msg("job submitted")

	go s.runJob(plan, run)
	return snapshot, nil
}

func (s *Service) runJob(plan *orchestrator.Plan, run *runtracker.Run) {
	defer s.wg.Done()
	id := plan.Request.RunID
	ctx := s.ctx()

	if err := s.acquireSlot(ctx, run); err != nil {
		if ferr := run.Fail(err); ferr != nil {
			s.logger.Warn().Err(ferr).Str("run_id", id).Msg("fail queued run")
		}
		s.finishJob(id, nil, err)
		return
	}
	defer s.releaseSlot()

	s.updateJob(id, func(j *Job) { j.Status = JobRunning })
	resp, err := s.orch.Execute(ctx, plan, run)
	s.finishJob(id, resp, err)
}

// acquireSlot waits for a run slot. While queued, run (if any) gets
// heartbeats so the watchdog does not mistake waiting for a hang.
func (s *Service) acquireSlot(ctx context.Context, run *runtracker.Run) error {
	tick := time.NewTicker(s.heartbeat)
	defer tick.Stop()
	for {
		select {
		case s.sem <- struct{}{}:
			return nil
		case <-tick.C:
			if run != nil {
				run.Heartbeat()
			}
		case <-ctx.Done():
			return fmt.Errorf("waiting for a run slot: %w", ctx.Err())
		}
	}
}

func (s *Service) releaseSlot() { <-s.sem }

func (s *Service) finishJob(id string, resp *domain.BacktestResponse, err error) {
	now := s.clock()
	s.updateJob(id, func(j *Job) {
		j.Response = resp
		j.FinishedAt = &now
		j.err = err
		j.Status = JobDone
		if err != nil {
			j.Status = JobFailed
			j.Error = err.Error()
		}
	})
	ev := s.logger.Info()
	if err != nil {
		ev = s.logger.Warn().Err(err)
	}
	ev.Str("run_id", id).Msg("job finished")
}

func (s *Service) updateJob(id string, fn func(*Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok && fn != nil {
		fn(job)
	}
}

// pruneLocked drops finished jobs past retention. Caller holds s.mu.
func (s *Service) pruneLocked() {
	cutoff := s.clock().Add(-s.retention)
	for id, j := range s.jobs {
		if j.FinishedAt != nil && j.FinishedAt.Before(cutoff) {
			delete(s.jobs, id)
		}
	}
}

// Job returns a snapshot of a background job.
func (s *Service) Job(runID string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[runID]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, runID)
	}
	return job.copy(), nil
}

// Jobs returns snapshots of every retained job.
func (s *Service) Jobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.copy())
	}
	return out
}

// Close stops accepting jobs and waits for running ones, or for ctx.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
