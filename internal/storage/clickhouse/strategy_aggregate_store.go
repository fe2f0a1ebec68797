package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"solana-backtest-lab/internal/domain"
	"solana-backtest-lab/internal/storage"
)

// StrategyAggregateStore implements storage.StrategyAggregateStore using ClickHouse.
type StrategyAggregateStore struct {
	conn *Conn
}

// NewStrategyAggregateStore creates a new StrategyAggregateStore.
func NewStrategyAggregateStore(conn *Conn) *StrategyAggregateStore {
	return &StrategyAggregateStore{conn: conn}
}

// Compile-time interface check.
var _ storage.StrategyAggregateStore = (*StrategyAggregateStore)(nil)

const aggregateColumns = `
	run_id, strategy_id, family, dataset_count,
	trade_count, wins, losses, win_rate, dataset_win_rate,
	profit_factor, expectancy, sharpe, sortino,
	max_drawdown_pct, max_drawdown_duration, total_return_pct, recovery_factor, calmar,
	volatility, avg_win, avg_loss, largest_win, largest_loss, max_consecutive_losses,
	win_rate_ci_lower, win_rate_ci_upper, win_rate_ci_level,
	ewma_volatility, clt_reliable, equity_curve, computed_at`

// Insert adds a new aggregate. Returns ErrDuplicateKey if (run_id, strategy_id) exists.
func (s *StrategyAggregateStore) Insert(ctx context.Context, a *domain.StrategyAggregate) (err error) {
	if a == nil || a.RunID == "" || a.StrategyID == "" {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("aggregate_insert", start, err) }(time.Now())

	// ReplacingMergeTree would replace; the store is append-only
	exists, err := s.exists(ctx, a.RunID, a.StrategyID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	st := a.TradeStats
	err = s.conn.Exec(ctx, `INSERT INTO strategy_aggregates (`+aggregateColumns+`) VALUES (
			?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?, ?, ?, ?,
			?, ?, ?,
			?, ?, ?, ?
		)`,
		a.RunID, a.StrategyID, string(a.Family), uint32(a.DatasetCount),
		uint32(st.TradeCount), uint32(st.Wins), uint32(st.Losses), st.WinRate, st.DatasetWinRate,
		st.ProfitFactor, st.Expectancy, st.Sharpe, st.Sortino,
		st.MaxDrawdownPct, uint32(st.MaxDrawdownDuration), st.TotalReturnPct, st.RecoveryFactor, st.Calmar,
		st.Volatility, st.AvgWin, st.AvgLoss, st.LargestWin, st.LargestLoss, uint32(st.MaxConsecutiveLosses),
		st.WinRateCI.Lower, st.WinRateCI.Upper, st.WinRateCI.Level,
		st.EWMAVolatility, st.CLTReliable, equityOrEmpty(st.EquityCurve), a.ComputedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert strategy aggregate: %w", err)
	}
	return nil
}

// Get retrieves one aggregate. Returns ErrNotFound if not exists.
func (s *StrategyAggregateStore) Get(ctx context.Context, runID, strategyID string) (a *domain.StrategyAggregate, err error) {
	defer func(start time.Time) { observe("aggregate_get", start, err) }(time.Now())

	rows, err := s.conn.Query(ctx, `SELECT`+aggregateColumns+`
		FROM strategy_aggregates FINAL
		WHERE run_id = ? AND strategy_id = ?`, runID, strategyID)
	if err != nil {
		return nil, fmt.Errorf("query strategy aggregate: %w", err)
	}
	defer rows.Close()

	aggs, err := scanAggregates(rows)
	if err != nil {
		return nil, err
	}
	if len(aggs) == 0 {
		return nil, storage.ErrNotFound
	}
	return aggs[0], nil
}

// GetByRun retrieves every aggregate of a run, ordered by strategy id.
func (s *StrategyAggregateStore) GetByRun(ctx context.Context, runID string) (aggs []*domain.StrategyAggregate, err error) {
	defer func(start time.Time) { observe("aggregate_get_run", start, err) }(time.Now())

	rows, err := s.conn.Query(ctx, `SELECT`+aggregateColumns+`
		FROM strategy_aggregates FINAL
		WHERE run_id = ?
		ORDER BY strategy_id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query strategy aggregates: %w", err)
	}
	defer rows.Close()
	return scanAggregates(rows)
}

func (s *StrategyAggregateStore) exists(ctx context.Context, runID, strategyID string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx,
		`SELECT count() FROM strategy_aggregates WHERE run_id = ? AND strategy_id = ?`,
		runID, strategyID,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func scanAggregates(rows driver.Rows) ([]*domain.StrategyAggregate, error) {
	out := []*domain.StrategyAggregate{}
	for rows.Next() {
		var (
			a                                         domain.StrategyAggregate
			family                                    string
			datasets, trades, wins, losses, ddDur, cl uint32
		)
		st := &a.TradeStats
		err := rows.Scan(
			&a.RunID, &a.StrategyID, &family, &datasets,
			&trades, &wins, &losses, &st.WinRate, &st.DatasetWinRate,
			&st.ProfitFactor, &st.Expectancy, &st.Sharpe, &st.Sortino,
			&st.MaxDrawdownPct, &ddDur, &st.TotalReturnPct, &st.RecoveryFactor, &st.Calmar,
			&st.Volatility, &st.AvgWin, &st.AvgLoss, &st.LargestWin, &st.LargestLoss, &cl,
			&st.WinRateCI.Lower, &st.WinRateCI.Upper, &st.WinRateCI.Level,
			&st.EWMAVolatility, &st.CLTReliable, &st.EquityCurve, &a.ComputedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan strategy aggregate: %w", err)
		}
		a.Family = domain.Family(family)
		a.DatasetCount = int(datasets)
		st.TradeCount = int(trades)
		st.Wins = int(wins)
		st.Losses = int(losses)
		st.MaxDrawdownDuration = int(ddDur)
		st.MaxConsecutiveLosses = int(cl)
		a.ComputedAt = a.ComputedAt.UTC()
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate strategy aggregates: %w", err)
	}
	return out, nil
}

func equityOrEmpty(curve []float64) []float64 {
	if curve == nil {
		return []float64{}
	}
	return curve
}
