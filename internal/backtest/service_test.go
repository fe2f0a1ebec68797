package backtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"solana-backtest-lab/internal/acquisition"
	"solana-backtest-lab/internal/domain"
	"solana-backtest-lab/internal/orchestrator"
	"solana-backtest-lab/internal/runtracker"
	"solana-backtest-lab/internal/storage/memory"
	"solana-backtest-lab/internal/strategy"
)

func trend(n int, step float64) []domain.Candle {
	candles := make([]domain.Candle, n)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := range candles {
		p := 10 + step*float64(i)
		candles[i] = domain.Candle{Timestamp: base.Add(time.Duration(i) * time.Hour), Open: p, High: p, Low: p, Close: p, Volume: 1}
	}
	return candles
}

// gatedAcquirer serves one uptrend dataset, optionally waiting on gate first.
type gatedAcquirer struct {
	gate    chan struct{}
	entered chan struct{}
}

func (g *gatedAcquirer) Acquire(_ context.Context, req acquisition.FamilyRequest) (*acquisition.Outcome, error) {
	if g.entered != nil {
		g.entered <- struct{}{}
	}
	if g.gate != nil {
		<-g.gate
	}
	return &acquisition.Outcome{
		ManifestKey: "m-" + string(req.Family),
		Datasets: []domain.Dataset{{
			TokenSymbol: "SPY", AssetAddress: "SPY", Candles: trend(30, 0.5),
			Source: "alpaca", Tier: domain.TierA,
		}},
	}, nil
}

func newTestService(t *testing.T, acq orchestrator.Acquirer, maxConcurrent int) (*Service, *runtracker.Tracker) {
	t.Helper()
	reg, err := strategy.NewRegistry([]domain.StrategyDefinition{
		domain.EquityStrategy{
			StrategyConfig: domain.StrategyConfig{
				StrategyID:  "spy-fixed",
				Family:      domain.FamilyEquity,
				ExitRules:   domain.ExitRules{StopLossPct: 10, TakeProfitPct: 20, MaxHoldCandles: 8},
				EntrySignal: domain.SignalParams{Kind: domain.SignalFixed, FixedIndexes: []int{0}},
			},
			Symbols: []string{"SPY"},
		},
	})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	tracker := runtracker.New(runtracker.Options{Store: memory.NewKVStore(), Logger: zerolog.Nop()})
	orch := orchestrator.New(orchestrator.Options{
		Registry:       reg,
		Acquirer:       acq,
		Tracker:        tracker,
		TradeStore:     memory.NewTradeLedgerStore(),
		AggregateStore: memory.NewStrategyAggregateStore(),
		MonteCarloRuns: -1,
		Logger:         zerolog.Nop(),
	})
	svc, err := NewService(ServiceConfig{
		Orchestrator:   orch,
		MaxConcurrent:  maxConcurrent,
		QueueHeartbeat: 10 * time.Millisecond,
		Logger:         zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc, tracker
}

func waitJob(t *testing.T, svc *Service, runID string) Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := svc.Job(runID)
		if err != nil {
			t.Fatalf("Job failed: %v", err)
		}
		if job.FinishedAt != nil {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", runID)
	return Job{}
}

func TestNewService_RequiresOrchestrator(t *testing.T) {
	if _, err := NewService(ServiceConfig{}); err == nil {
		t.Error("expected error without orchestrator")
	}
}

func TestService_RunAssignsRunID(t *testing.T) {
	svc, _ := newTestService(t, &gatedAcquirer{}, 1)

	resp, err := svc.Run(context.Background(), domain.BacktestRequest{StrategyID: "spy-fixed"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, err := uuid.Parse(resp.RunID); err != nil {
		t.Errorf("expected generated uuid run id, got %q", resp.RunID)
	}
	if resp.State != domain.RunCompleted {
		t.Errorf("expected completed, got %s", resp.State)
	}
}

// ctxAcquirer blocks until gate closes, then fails if its context is done.
type ctxAcquirer struct {
	gatedAcquirer
}

func (a *ctxAcquirer) Acquire(ctx context.Context, req acquisition.FamilyRequest) (*acquisition.Outcome, error) {
	out, err := a.gatedAcquirer.Acquire(ctx, req)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return out, err
}

func TestService_RunSurvivesCallerDisconnect(t *testing.T) {
	acq := &ctxAcquirer{gatedAcquirer{gate: make(chan struct{}), entered: make(chan struct{}, 1)}}
	svc, tracker := newTestService(t, acq, 1)

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		resp *domain.BacktestResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := svc.Run(ctx, domain.BacktestRequest{StrategyID: "spy-fixed", RunID: "sync-run"})
		done <- result{resp, err}
	}()

	<-acq.entered
	cancel()
	close(acq.gate)

	r := <-done
	if r.err != nil {
		t.Fatalf("Run failed: %v", r.err)
	}
	if r.resp.State != domain.RunCompleted {
		t.Errorf("expected completed after caller disconnect, got %s", r.resp.State)
	}
	st, err := tracker.Lookup(context.Background(), "sync-run")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if st.State != domain.RunCompleted {
		t.Errorf("expected tracked state completed, got %s", st.State)
	}
}

func TestService_RunCancelledByHostShutdown(t *testing.T) {
	acq := &ctxAcquirer{gatedAcquirer{gate: make(chan struct{}), entered: make(chan struct{}, 1)}}
	svc, _ := newTestService(t, acq, 1)

	host, shutdown := context.WithCancel(context.Background())
	svc.SetContext(host)

	done := make(chan *domain.BacktestResponse, 1)
	go func() {
		resp, _ := svc.Run(context.Background(), domain.BacktestRequest{StrategyID: "spy-fixed", RunID: "host-run"})
		done <- resp
	}()

	<-acq.entered
	shutdown()
	close(acq.gate)

	resp := <-done
	if resp == nil || resp.State != domain.RunFailed {
		t.Errorf("expected failed run after host shutdown, got %+v", resp)
	}
}

func TestService_SubmitRunsInBackground(t *testing.T) {
	svc, tracker := newTestService(t, &gatedAcquirer{}, 1)

	job, err := svc.Submit(domain.BacktestRequest{StrategyID: "spy-fixed", RunID: "async-1"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if job.RunID != "async-1" || job.Status != JobQueued {
		t.Errorf("unexpected job snapshot %+v", job)
	}
	if _, ok := tracker.Get("async-1"); !ok {
		t.Error("run should be registered before Submit returns")
	}

	done := waitJob(t, svc, "async-1")
	if done.Status != JobDone || done.Response == nil {
		t.Fatalf("unexpected finished job %+v", done)
	}
	if done.Response.State != domain.RunCompleted {
		t.Errorf("expected completed, got %s", done.Response.State)
	}
}

func TestService_SubmitInvalid(t *testing.T) {
	svc, tracker := newTestService(t, &gatedAcquirer{}, 1)

	_, err := svc.Submit(domain.BacktestRequest{StrategyID: "unknown"})
	if !errors.Is(err, orchestrator.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
	if len(svc.Jobs()) != 0 || tracker.Len() != 0 {
		t.Error("invalid request must leave no job or run behind")
	}
	if _, err := svc.Job("unknown"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestService_QueuedJobFailsOnShutdown(t *testing.T) {
	acq := &gatedAcquirer{gate: make(chan struct{}), entered: make(chan struct{}, 2)}
	svc, tracker := newTestService(t, acq, 1)
	ctx, cancel := context.WithCancel(context.Background())
	svc.SetContext(ctx)

	if _, err := svc.Submit(domain.BacktestRequest{StrategyID: "spy-fixed", RunID: "first"}); err != nil {
		t.Fatalf("Submit first failed: %v", err)
	}
	<-acq.entered // first holds the only slot
	if _, err := svc.Submit(domain.BacktestRequest{StrategyID: "spy-fixed", RunID: "second"}); err != nil {
		t.Fatalf("Submit second failed: %v", err)
	}

	cancel()
	second := waitJob(t, svc, "second")
	if second.Status != JobFailed || !errors.Is(second.Err(), context.Canceled) {
		t.Errorf("queued job should fail on shutdown, got %+v", second)
	}
	st, err := tracker.Lookup(context.Background(), "second")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if st.State != domain.RunFailed {
		t.Errorf("expected failed run, got %s", st.State)
	}

	close(acq.gate)
	waitJob(t, svc, "first")

	closeCtx, closeCancel := context.WithTimeout(context.Background(), time.Second)
	defer closeCancel()
	if err := svc.Close(closeCtx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := svc.Submit(domain.BacktestRequest{StrategyID: "spy-fixed"}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
}
