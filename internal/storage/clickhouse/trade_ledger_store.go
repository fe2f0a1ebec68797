package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"solana-backtest-lab/internal/domain"
	"solana-backtest-lab/internal/storage"
)

// TradeLedgerStore implements storage.TradeLedgerStore using ClickHouse.
// MergeTree does not enforce uniqueness, so duplicates are checked before insert.
type TradeLedgerStore struct {
	conn *Conn
}

// NewTradeLedgerStore creates a new TradeLedgerStore.
func NewTradeLedgerStore(conn *Conn) *TradeLedgerStore {
	return &TradeLedgerStore{conn: conn}
}

// Compile-time interface check.
var _ storage.TradeLedgerStore = (*TradeLedgerStore)(nil)

const tradeColumns = `
	trade_id, strategy_id, dataset_id,
	entry_time, exit_time, entry_price, exit_price,
	pnl_pct, pnl_net, exit_reason,
	hold_candles, high_water_mark, low_water_mark, max_drawdown_pct`

// InsertBulk adds the trades of one run as one batch. Fails entire batch on any duplicate.
func (s *TradeLedgerStore) InsertBulk(ctx context.Context, runID string, trades []domain.Trade) (err error) {
	if runID == "" {
		return storage.ErrInvalidInput
	}
	if len(trades) == 0 {
		return nil
	}
	defer func(start time.Time) { observe("ledger_insert", start, err) }(time.Now())

	// Check for intra-batch duplicates
	ids := make([]string, 0, len(trades))
	seen := make(map[string]struct{}, len(trades))
	for _, t := range trades {
		if t.TradeID == "" {
			return storage.ErrInvalidInput
		}
		if _, dup := seen[t.TradeID]; dup {
			return storage.ErrDuplicateKey
		}
		seen[t.TradeID] = struct{}{}
		ids = append(ids, t.TradeID)
	}

	// Check for duplicates against existing rows
	var existing uint64
	err = s.conn.QueryRow(ctx,
		`SELECT count() FROM trade_ledger WHERE run_id = ? AND trade_id IN ?`, runID, ids,
	).Scan(&existing)
	if err != nil {
		return fmt.Errorf("check duplicates: %w", err)
	}
	if existing > 0 {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO trade_ledger (run_id,`+tradeColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, t := range trades {
		err = batch.Append(
			runID, t.TradeID, t.StrategyID, t.DatasetID,
			t.EntryTime.UTC(), t.ExitTime.UTC(), t.EntryPrice, t.ExitPrice,
			t.PnLPct, t.PnLNet, string(t.ExitReason),
			uint32(t.HoldCandles), t.HighWaterMark, t.LowWaterMark, t.MaxDrawdownPct,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}
	if err = batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByRun retrieves all trades of a run, ordered by entry time ASC, trade id ASC.
func (s *TradeLedgerStore) GetByRun(ctx context.Context, runID string) (trades []domain.Trade, err error) {
	defer func(start time.Time) { observe("ledger_get_run", start, err) }(time.Now())

	rows, err := s.conn.Query(ctx, `SELECT`+tradeColumns+`
		FROM trade_ledger FINAL
		WHERE run_id = ?
		ORDER BY entry_time ASC, trade_id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query trades by run: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// GetByStrategy retrieves the trades of one strategy within a run, same order.
func (s *TradeLedgerStore) GetByStrategy(ctx context.Context, runID, strategyID string) (trades []domain.Trade, err error) {
	defer func(start time.Time) { observe("ledger_get_strategy", start, err) }(time.Now())

	rows, err := s.conn.Query(ctx, `SELECT`+tradeColumns+`
		FROM trade_ledger FINAL
		WHERE run_id = ? AND strategy_id = ?
		ORDER BY entry_time ASC, trade_id ASC`, runID, strategyID)
	if err != nil {
		return nil, fmt.Errorf("query trades by strategy: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

func scanTrades(rows driver.Rows) ([]domain.Trade, error) {
	trades := []domain.Trade{}
	for rows.Next() {
		var (
			t      domain.Trade
			reason string
			hold   uint32
		)
		err := rows.Scan(
			&t.TradeID, &t.StrategyID, &t.DatasetID,
			&t.EntryTime, &t.ExitTime, &t.EntryPrice, &t.ExitPrice,
			&t.PnLPct, &t.PnLNet, &reason,
			&hold, &t.HighWaterMark, &t.LowWaterMark, &t.MaxDrawdownPct,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.ExitReason = domain.ExitReason(reason)
		t.HoldCandles = int(hold)
		t.EntryTime = t.EntryTime.UTC()
		t.ExitTime = t.ExitTime.UTC()
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trades: %w", err)
	}
	return trades, nil
}
