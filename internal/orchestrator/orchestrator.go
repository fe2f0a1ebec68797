// Package orchestrator runs one backtest invocation end to end.
// It coordinates: strategy resolution → dataset acquisition → simulation →
// aggregation → reporting → evidence.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"solana-backtest-lab/internal/acquisition"
	"solana-backtest-lab/internal/domain"
	"solana-backtest-lab/internal/evidence"
	"solana-backtest-lab/internal/metrics"
	"solana-backtest-lab/internal/observability"
	"solana-backtest-lab/internal/reporting"
	"solana-backtest-lab/internal/runtracker"
	"solana-backtest-lab/internal/simulation"
	"solana-backtest-lab/internal/storage"
	"solana-backtest-lab/internal/strategy"
)

// ErrInvalidRequest marks input validation failures. Nothing has run when it
// is returned.
var ErrInvalidRequest = errors.New("invalid backtest request")

// Acquirer fills the dataset needs of one family. *acquisition.Orchestrator
// implements it.
type Acquirer interface {
	Acquire(ctx context.Context, req acquisition.FamilyRequest) (*acquisition.Outcome, error)
}

// Orchestrator coordinates one backtest run.
// Flow: acquisition per family → simulation per strategy chunk → reporting
type Orchestrator struct {
	registry   *strategy.Registry
	acquirer   Acquirer
	tracker    *runtracker.Tracker
	tradeStore storage.TradeLedgerStore
	aggStore   storage.StrategyAggregateStore
	artifacts  *evidence.Store

	monteCarloRuns int
	logger         zerolog.Logger
	clock          func() time.Time
}

// Options for creating Orchestrator.
type Options struct {
	// Required
	Registry       *strategy.Registry
	Acquirer       Acquirer
	Tracker        *runtracker.Tracker
	TradeStore     storage.TradeLedgerStore
	AggregateStore storage.StrategyAggregateStore

	// Optional
	Artifacts      *evidence.Store // nil skips artifact persistence
	MonteCarloRuns int             // zero uses the reporting default, negative disables
	Logger         zerolog.Logger
	Clock          func() time.Time
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	runs := opts.MonteCarloRuns
	if runs == 0 {
		runs = reporting.DefaultMonteCarloRuns
	}
	return &Orchestrator{
		registry:       opts.Registry,
		acquirer:       opts.Acquirer,
		tracker:        opts.Tracker,
		tradeStore:     opts.TradeStore,
		aggStore:       opts.AggregateStore,
		artifacts:      opts.Artifacts,
		monteCarloRuns: max(runs, 0),
		logger:         opts.Logger.With().Str("component", "orchestrator").Logger(),
		clock:          clock,
	}
}

// Plan is a validated request with its strategies resolved.
type Plan struct {
	Request    domain.BacktestRequest // defaults applied, lookback clamped
	Mode       simulation.Mode
	Strategies []domain.StrategyDefinition // declared order

	runner *simulation.Runner
}

// ChunkIDs returns the strategy ids in execution order.
func (p *Plan) ChunkIDs() []string {
	ids := make([]string, len(p.Strategies))
	for i, def := range p.Strategies {
		ids[i] = def.Config().StrategyID
	}
	return ids
}

// Prepare validates req and resolves its strategies. It has no side effects.
func (o *Orchestrator) Prepare(req domain.BacktestRequest) (*Plan, error) {
	if err := runtracker.ValidateRunID(req.RunID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if req.Mode == "" {
		req.Mode = string(simulation.ModeQuick)
	}
	if req.DataScale == "" {
		req.DataScale = domain.ScaleFast
	}
	if req.SourcePolicy == "" {
		req.SourcePolicy = domain.PolicyPrimaryOnly
	}
	if !req.DataScale.IsValid() {
		return nil, fmt.Errorf("%w: unknown data scale %q", ErrInvalidRequest, req.DataScale)
	}
	if !req.SourcePolicy.IsValid() {
		return nil, fmt.Errorf("%w: unknown source policy %q", ErrInvalidRequest, req.SourcePolicy)
	}
	if req.Family != "" && !req.Family.IsValid() {
		return nil, fmt.Errorf("%w: %w: %q", ErrInvalidRequest, strategy.ErrUnknownFamily, req.Family)
	}
	if req.ManifestID != "" {
		if err := acquisition.ValidateManifestID(req.ManifestID); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
	}
	req.LookbackHours = domain.ClampLookbackHours(req.LookbackHours)

	runner, err := simulation.NewRunner(simulation.RunnerOptions{Mode: simulation.Mode(req.Mode)})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	defs, err := o.registry.Resolve(strategy.Selection{
		StrategyID:  req.StrategyID,
		StrategyIDs: req.StrategyIDs,
		Family:      req.Family,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	return &Plan{
		Request:    req,
		Mode:       runner.Mode(),
		Strategies: defs,
		runner:     runner,
	}, nil
}

// Begin registers the run with the tracker. Pollers can see it from here on.
func (o *Orchestrator) Begin(p *Plan) (*runtracker.Run, error) {
	return o.tracker.Start(p.Request.RunID, string(p.Mode), p.Request.DataScale, p.ChunkIDs())
}

// Run prepares, registers and executes req.
func (o *Orchestrator) Run(ctx context.Context, req domain.BacktestRequest) (*domain.BacktestResponse, error) {
	p, err := o.Prepare(req)
	if err != nil {
		return nil, err
	}
	run, err := o.Begin(p)
	if err != nil {
		return nil, err
	}
	return o.Execute(ctx, p, run)
}

// familyGroup is the strategies of one family with their merged universe.
type familyGroup struct {
	family     domain.Family
	strategies []domain.StrategyDefinition
}

// execution is the mutable state of one Execute call. Only the calling
// goroutine touches it.
type execution struct {
	plan     *Plan
	run      *runtracker.Run
	log      zerolog.Logger
	outcomes map[domain.Family]*acquisition.Outcome
	failures map[domain.Family]error
	keys     []string
	trades   []domain.Trade
	errors   []string
}

func (e *execution) addError(format string, args ...any) {
	e.errors = append(e.errors, fmt.Sprintf(format, args...))
}

// Execute runs a begun plan to a terminal state.
// Phases:
//  1. Acquire datasets for every family the strategies need
//  2. Simulate each strategy chunk in declared order, pooling per strategy
//  3. Generate the report, build and persist the evidence bundle
//
// Chunk failures never stop later chunks. When every chunk failed because a
// family missed its coverage gate, the *acquisition.CoverageError is returned
// together with the response.
func (o *Orchestrator) Execute(ctx context.Context, p *Plan, run *runtracker.Run) (*domain.BacktestResponse, error) {
	e := &execution{
		plan:     p,
		run:      run,
		log:      o.logger.With().Str("run_id", p.Request.RunID).Logger(),
		outcomes: make(map[domain.Family]*acquisition.Outcome),
		failures: make(map[domain.Family]error),
	}
	groups := groupByFamily(p.Strategies)

	// Phase 1: Acquisition
	e.log.Info().Int("families", len(groups)).Int("strategies", len(p.Strategies)).Msg("Phase 1: acquiring datasets")
	start := o.clock()
	o.acquire(ctx, e, groups)
	observability.RecordPhase(string(domain.PhaseDatasetFetch), o.clock().Sub(start).Seconds())

	// Phase 2: Simulation
	if err := run.SetPhase(domain.PhaseStrategyRun); err != nil {
		e.log.Warn().Err(err).Msg("set phase")
	}
	e.log.Info().Msg("Phase 2: running strategy chunks")
	start = o.clock()
	o.simulate(ctx, e)
	observability.RecordPhase(string(domain.PhaseStrategyRun), o.clock().Sub(start).Seconds())

	// Phase 3: Reporting
	if err := run.SetPhase(domain.PhaseArtifactPersist); err != nil {
		e.log.Warn().Err(err).Msg("set phase")
	}
	e.log.Info().Msg("Phase 3: building report and evidence")
	start = o.clock()
	resp := o.finalize(ctx, e)
	observability.RecordPhase(string(domain.PhaseArtifactPersist), o.clock().Sub(start).Seconds())

	if _, err := run.Finish(); err != nil {
		// The watchdog got there first; the tracker's state wins.
		e.log.Warn().Err(err).Msg("finish run")
	}
	st := run.Status()
	resp.State = st.State
	resp.Progress = runtracker.ProgressOf(st)

	e.log.Info().
		Str("state", string(st.State)).
		Int("trades", len(e.trades)).
		Int("errors", len(e.errors)).
		Msg("run finished")

	if st.State == domain.RunFailed {
		if cerr := firstCoverageError(groups, e.failures); cerr != nil {
			return resp, cerr
		}
	}
	return resp, nil
}

func (o *Orchestrator) acquire(ctx context.Context, e *execution, groups []familyGroup) {
	obs := &phaseObserver{run: e.run}
	for _, g := range groups {
		req := o.familyRequest(e.plan.Request, g, obs, len(groups))
		out, err := o.acquirer.Acquire(ctx, req)
		if err != nil {
			e.failures[g.family] = err
			e.addError("%s: %v", g.family, err)
			e.log.Warn().Err(err).Str("family", string(g.family)).Msg("acquisition failed")
			continue
		}
		e.outcomes[g.family] = out
		e.keys = append(e.keys, out.ManifestKey)
		e.log.Info().
			Str("family", string(g.family)).
			Str("manifest", out.ManifestKey).
			Int("datasets", len(out.Datasets)).
			Int("synthetic", out.Synthetic).
			Bool("from_cache", out.FromCache).
			Msg("  datasets ready")
	}
}

// familyRequest merges the universe parameters of every strategy in g.
func (o *Orchestrator) familyRequest(req domain.BacktestRequest, g familyGroup, obs acquisition.Observer, families int) acquisition.FamilyRequest {
	fr := acquisition.FamilyRequest{
		Family:            g.family,
		TokenSymbol:       req.TokenSymbol,
		LookbackHours:     req.LookbackHours,
		Scale:             req.DataScale,
		Policy:            req.SourcePolicy,
		StrictNoSynthetic: req.StrictNoSynthetic,
		Observer:          obs,
	}
	// A caller manifest id names one universe; it cannot key several families.
	if families == 1 {
		fr.ManifestID = req.ManifestID
	}

	seen := make(map[string]bool)
	addAsset := func(a domain.Asset) {
		if seen[a.Address] {
			return
		}
		seen[a.Address] = true
		fr.Assets = append(fr.Assets, a)
	}
	for _, def := range g.strategies {
		switch s := def.(type) {
		case domain.BluechipStrategy:
			for _, mint := range s.Assets {
				addAsset(domain.Asset{Address: mint})
			}
		case domain.EquityStrategy:
			for _, sym := range s.Symbols {
				addAsset(domain.Asset{Symbol: sym, Address: sym})
			}
		case domain.MemecoinStrategy:
			fr.UniverseSize = max(fr.UniverseSize, s.UniverseSize)
			age := time.Duration(s.MinPoolAgeHours * float64(time.Hour))
			fr.MinPoolAge = max(fr.MinPoolAge, age)
		}
	}
	return fr
}

func (o *Orchestrator) simulate(ctx context.Context, e *execution) {
	agg := metrics.NewAggregator(o.tradeStore, o.aggStore).WithClock(o.clock)
	for _, def := range e.plan.Strategies {
		id := def.Config().StrategyID
		if err := e.run.StartChunk(id); err != nil {
			e.log.Warn().Err(err).Str("strategy", id).Msg("start chunk")
			continue
		}
		pooled, err := o.runChunk(ctx, e, agg, def)
		if err != nil {
			e.addError("%s: %v", id, err)
			e.log.Warn().Err(err).Str("strategy", id).Msg("chunk failed")
			if ferr := e.run.FailChunk(id, err); ferr != nil {
				e.log.Warn().Err(ferr).Str("strategy", id).Msg("fail chunk")
			}
			continue
		}
		e.trades = append(e.trades, pooled.Trades...)
		if err := e.run.FinishChunk(id, pooled.TradeCount); err != nil {
			e.log.Warn().Err(err).Str("strategy", id).Msg("finish chunk")
		}
		e.log.Info().
			Str("strategy", id).
			Int("datasets", pooled.DatasetCount).
			Int("trades", pooled.TradeCount).
			Msg("  chunk done")
	}
}

// runChunk simulates one strategy over its family's datasets and stores the
// pooled result. A malformed dataset is skipped; the chunk fails only when no
// dataset could be simulated.
func (o *Orchestrator) runChunk(ctx context.Context, e *execution, agg *metrics.Aggregator, def domain.StrategyDefinition) (*domain.BacktestResult, error) {
	family := def.Family()
	if err, ok := e.failures[family]; ok {
		return nil, fmt.Errorf("datasets unavailable: %w", err)
	}
	out := e.outcomes[family]
	if out == nil || len(out.Datasets) == 0 {
		return nil, fmt.Errorf("no datasets for family %s", family)
	}

	cfg := def.Config()
	results := make([]*domain.BacktestResult, 0, len(out.Datasets))
	skipped := 0
	for _, ds := range out.Datasets {
		res, err := e.plan.runner.Run(ctx, def, ds)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			skipped++
			e.addError("%s/%s: %v", cfg.StrategyID, datasetLabel(ds), err)
			continue
		}
		results = append(results, res)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no dataset could be simulated (%d skipped)", skipped)
	}

	pooled, err := agg.ComputeAndStore(ctx, e.plan.Request.RunID, cfg, results)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	observability.RecordTradesSimulated(pooled.TradeCount)
	observability.RecordAggregateComputed()
	return pooled, nil
}

// finalize renders the report and persists the evidence bundle. Failures here
// are recorded, never fatal: the chunk results already stand.
func (o *Orchestrator) finalize(ctx context.Context, e *execution) *domain.BacktestResponse {
	req := e.plan.Request
	resp := &domain.BacktestResponse{
		RunID:      req.RunID,
		ManifestID: strings.Join(e.keys, ","),
	}

	var datasets []domain.Dataset
	var checks []reporting.CoverageCheckRow
	for _, g := range groupByFamily(e.plan.Strategies) {
		if out := e.outcomes[g.family]; out != nil {
			datasets = append(datasets, out.Datasets...)
			checks = appendChecks(checks, g.family, out.Checks)
		}
		var cerr *acquisition.CoverageError
		if errors.As(e.failures[g.family], &cerr) {
			checks = appendChecks(checks, g.family, cerr.Checks)
		}
	}
	provenance := make([]domain.DatasetProvenance, len(datasets))
	for i, d := range datasets {
		provenance[i] = evidence.Provenance(d)
	}

	st := e.run.Status()
	outcomes := make([]reporting.StrategyOutcome, 0, len(e.plan.Strategies))
	for _, def := range e.plan.Strategies {
		id := def.Config().StrategyID
		c := st.Chunks[id]
		outcomes = append(outcomes, reporting.StrategyOutcome{
			StrategyID: id,
			Family:     def.Family(),
			Status:     c.State,
			Error:      c.Error,
		})
	}

	gen := reporting.NewGenerator(o.tradeStore, o.aggStore).
		WithClock(o.clock).
		WithMonteCarloRuns(o.monteCarloRuns)
	report, err := gen.Generate(ctx, reporting.Input{
		RunID:      req.RunID,
		Mode:       string(e.plan.Mode),
		DataScale:  req.DataScale,
		Strategies: outcomes,
		Datasets:   provenance,
		Checks:     checks,
		Errors:     e.errors,
	})
	if err != nil {
		e.log.Error().Err(err).Msg("generate report")
		e.addError("report: %v", err)
		return resp
	}
	resp.Results = report.Rows
	resp.Report = reporting.RenderText(report)
	observability.RecordReportGenerated()

	bundle := evidence.Build(req.RunID, o.clock(), datasets, e.trades, report.Rows, resp.Report)
	if o.artifacts == nil {
		return resp
	}
	if err := o.artifacts.Persist(ctx, bundle, e.keys); err != nil {
		e.log.Error().Err(err).Msg("persist artifacts")
		e.addError("artifacts: %v", err)
		return resp
	}
	resp.Evidence = evidence.Ref(bundle)
	e.log.Info().Str("hash", bundle.Hash).Int("datasets", len(bundle.Datasets)).Msg("  evidence persisted")
	return resp
}

func appendChecks(rows []reporting.CoverageCheckRow, family domain.Family, checks []acquisition.CoverageCheck) []reporting.CoverageCheckRow {
	for _, c := range checks {
		rows = append(rows, reporting.CoverageCheckRow{
			Name:      fmt.Sprintf("%s: %s", family, c.Name),
			Threshold: c.Threshold,
			Actual:    c.Actual,
			Pass:      c.Pass,
		})
	}
	return rows
}

// groupByFamily keeps families in the order their first strategy appears.
func groupByFamily(defs []domain.StrategyDefinition) []familyGroup {
	var groups []familyGroup
	index := make(map[domain.Family]int)
	for _, def := range defs {
		f := def.Family()
		i, ok := index[f]
		if !ok {
			i = len(groups)
			index[f] = i
			groups = append(groups, familyGroup{family: f})
		}
		groups[i].strategies = append(groups[i].strategies, def)
	}
	return groups
}

func firstCoverageError(groups []familyGroup, failures map[domain.Family]error) *acquisition.CoverageError {
	for _, g := range groups {
		var cerr *acquisition.CoverageError
		if errors.As(failures[g.family], &cerr) {
			return cerr
		}
	}
	return nil
}

func datasetLabel(ds domain.Dataset) string {
	if ds.TokenSymbol != "" {
		return ds.TokenSymbol
	}
	return ds.AssetAddress
}

// phaseObserver forwards acquisition progress to the run and moves it to the
// dataset_fetch phase on the first signal.
type phaseObserver struct {
	run  *runtracker.Run
	once sync.Once
}

func (p *phaseObserver) fetching() {
	p.once.Do(func() { _ = p.run.SetPhase(domain.PhaseDatasetFetch) })
}

func (p *phaseObserver) BatchSettled(attempted, succeeded, failed int) {
	p.fetching()
	p.run.BatchSettled(attempted, succeeded, failed)
}

func (p *phaseObserver) Heartbeat() {
	p.fetching()
	p.run.Heartbeat()
}
