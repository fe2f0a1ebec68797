package simulation

import (
	"context"
	"errors"
	"fmt"

	"solana-backtest-lab/internal/domain"
	"solana-backtest-lab/internal/idhash"
	"solana-backtest-lab/internal/strategy"
)

// Mode selects how much work one (strategy, dataset) run does.
type Mode string

// Run modes
const (
	ModeQuick Mode = "quick" // one simulation
	ModeFull  Mode = "full"  // simulation plus walk-forward
	ModeGrid  Mode = "grid"  // grid search; the best candidate becomes the result
)

// IsValid checks if the mode is a known value.
func (m Mode) IsValid() bool {
	switch m {
	case ModeQuick, ModeFull, ModeGrid:
		return true
	}
	return false
}

// Runner errors
var (
	ErrUnknownMode = errors.New("unknown run mode")
)

// Runner executes simulations for datasets.
type Runner struct {
	mode       Mode
	grid       Grid
	topK       int
	comparator Comparator
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Mode       Mode
	Grid       Grid       // grid mode only; zero value uses DefaultGrid
	TopK       int        // grid mode only; defaults to 5
	Comparator Comparator // grid mode only; defaults to DefaultComparator
}

// NewRunner creates a simulation runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Mode == "" {
		opts.Mode = ModeQuick
	}
	if !opts.Mode.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, opts.Mode)
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.Comparator == nil {
		opts.Comparator = DefaultComparator
	}
	grid := opts.Grid
	if len(grid.StopLossPct)+len(grid.TakeProfitPct)+len(grid.TrailingStopPct)+len(grid.MaxHoldCandles) == 0 {
		grid = DefaultGrid
	}
	return &Runner{
		mode:       opts.Mode,
		grid:       grid,
		topK:       opts.TopK,
		comparator: opts.Comparator,
	}, nil
}

// Mode returns the runner's mode.
func (r *Runner) Mode() Mode {
	return r.mode
}

// Run executes one strategy against one dataset.
// Steps:
//  1. Build the entry-signal evaluator from the strategy
//  2. Fingerprint the dataset for trade ids
//  3. Evaluate signals and simulate (plus walk-forward or grid per mode)
//
// A malformed series fails this dataset only; the error wraps ErrMalformedSeries.
func (r *Runner) Run(ctx context.Context, def domain.StrategyDefinition, ds domain.Dataset) (*domain.BacktestResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 1. Build evaluator
	ev, err := strategy.Evaluator(def)
	if err != nil {
		return nil, err
	}
	cfg := def.Config()

	// 2. Fingerprint
	datasetID := idhash.DatasetFingerprint(ds)
	opts := []Option{WithDatasetID(datasetID), WithLiquidity(ds.LiquidityUSD)}

	// 3. Simulate per mode
	switch r.mode {
	case ModeGrid:
		top, err := GridSearch(ds.Candles, ev, cfg, r.grid, r.topK, r.comparator, opts...)
		if err != nil {
			return nil, err
		}
		if len(top) == 0 {
			return Simulate(ds.Candles, ev.Evaluate(ds.Candles), cfg, opts...)
		}
		best := *top[0].Result
		best.GridTop = top
		return &best, nil

	case ModeFull:
		res, err := Simulate(ds.Candles, ev.Evaluate(ds.Candles), cfg, opts...)
		if err != nil {
			return nil, err
		}
		wf, err := WalkForward(ds.Candles, ev, cfg, opts...)
		if err != nil && !errors.Is(err, ErrSeriesTooShort) {
			return nil, err
		}
		res.WalkForward = wf
		return res, nil

	default:
		return Simulate(ds.Candles, ev.Evaluate(ds.Candles), cfg, opts...)
	}
}
