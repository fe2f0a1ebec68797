package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"solana-backtest-lab/internal/domain"
	"solana-backtest-lab/internal/storage"
)

// TradeLedgerStore implements storage.TradeLedgerStore using PostgreSQL.
type TradeLedgerStore struct {
	pool *Pool
}

// NewTradeLedgerStore creates a new TradeLedgerStore.
func NewTradeLedgerStore(pool *Pool) *TradeLedgerStore {
	return &TradeLedgerStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeLedgerStore = (*TradeLedgerStore)(nil)

const tradeColumns = `
	trade_id, strategy_id, dataset_id,
	entry_time, exit_time, entry_price, exit_price,
	pnl_pct, pnl_net, exit_reason,
	hold_candles, high_water_mark, low_water_mark, max_drawdown_pct`

// InsertBulk adds the trades of one run atomically. Fails entire batch on any duplicate.
func (s *TradeLedgerStore) InsertBulk(ctx context.Context, runID string, trades []domain.Trade) (err error) {
	if runID == "" {
		return storage.ErrInvalidInput
	}
	if len(trades) == 0 {
		return nil
	}
	defer func(start time.Time) { observe("ledger_insert", start, err) }(time.Now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapErr("begin tx", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO trade_ledger (run_id,` + tradeColumns + `
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11,
			$12, $13, $14, $15
		)
	`

	batch := &pgx.Batch{}
	for _, t := range trades {
		if t.TradeID == "" {
			return storage.ErrInvalidInput
		}
		batch.Queue(query,
			runID, t.TradeID, t.StrategyID, t.DatasetID,
			t.EntryTime.UTC(), t.ExitTime.UTC(), t.EntryPrice, t.ExitPrice,
			t.PnLPct, t.PnLNet, string(t.ExitReason),
			t.HoldCandles, t.HighWaterMark, t.LowWaterMark, t.MaxDrawdownPct,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for range trades {
		if _, err := results.Exec(); err != nil {
			results.Close()
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return wrapErr("insert trade", err)
		}
	}
	if err := results.Close(); err != nil {
		return wrapErr("close batch", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return wrapErr("commit tx", err)
	}
	return nil
}

// GetByRun retrieves all trades of a run, ordered by entry time ASC, trade id ASC.
func (s *TradeLedgerStore) GetByRun(ctx context.Context, runID string) (trades []domain.Trade, err error) {
	defer func(start time.Time) { observe("ledger_get_run", start, err) }(time.Now())

	query := `SELECT` + tradeColumns + `
		FROM trade_ledger
		WHERE run_id = $1
		ORDER BY entry_time ASC, trade_id ASC
	`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, wrapErr("get trades by run", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// GetByStrategy retrieves the trades of one strategy within a run, same order.
func (s *TradeLedgerStore) GetByStrategy(ctx context.Context, runID, strategyID string) (trades []domain.Trade, err error) {
	defer func(start time.Time) { observe("ledger_get_strategy", start, err) }(time.Now())

	query := `SELECT` + tradeColumns + `
		FROM trade_ledger
		WHERE run_id = $1 AND strategy_id = $2
		ORDER BY entry_time ASC, trade_id ASC
	`
	rows, err := s.pool.Query(ctx, query, runID, strategyID)
	if err != nil {
		return nil, wrapErr("get trades by strategy", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// scanTrades scans multiple rows into trades.
func scanTrades(rows pgx.Rows) ([]domain.Trade, error) {
	trades := []domain.Trade{}
	for rows.Next() {
		var (
			t      domain.Trade
			reason string
		)
		err := rows.Scan(
			&t.TradeID, &t.StrategyID, &t.DatasetID,
			&t.EntryTime, &t.ExitTime, &t.EntryPrice, &t.ExitPrice,
			&t.PnLPct, &t.PnLNet, &reason,
			&t.HoldCandles, &t.HighWaterMark, &t.LowWaterMark, &t.MaxDrawdownPct,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.ExitReason = domain.ExitReason(reason)
		t.EntryTime = t.EntryTime.UTC()
		t.ExitTime = t.ExitTime.UTC()
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate trades", err)
	}
	return trades, nil
}
