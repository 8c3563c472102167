// Package store implements the durable Position Store (§4.1) on top of
// SQLite, in the teacher's database/sql + mattn/go-sqlite3 idiom:
// CREATE TABLE IF NOT EXISTS followed by best-effort ALTER TABLE
// migrations, and INSERT ... ON CONFLICT DO UPDATE upserts.
package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vitos/tradeexec/internal/domain"
)

// SQLiteStore implements domain.Store.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS positions_open (
			symbol TEXT PRIMARY KEY,
			position_id TEXT NOT NULL,
			direction TEXT NOT NULL,
			entry_price TEXT NOT NULL,
			quantity TEXT NOT NULL,
			leverage INTEGER NOT NULL,
			entry_ts DATETIME NOT NULL,
			contract_size TEXT NOT NULL,
			tp_pct TEXT NOT NULL DEFAULT '0',
			sl_pct TEXT NOT NULL DEFAULT '0',
			trailing_enabled BOOLEAN NOT NULL DEFAULT 0,
			trailing_distance TEXT NOT NULL DEFAULT '0',
			ladder_enabled BOOLEAN NOT NULL DEFAULT 0,
			ladder_step_pct TEXT NOT NULL DEFAULT '0',
			ladder_close_pct TEXT NOT NULL DEFAULT '0',
			high_watermark TEXT NOT NULL DEFAULT '0',
			low_watermark TEXT NOT NULL DEFAULT '0',
			ladder_tier_hit INTEGER NOT NULL DEFAULT 0,
			ladder_closed_fraction TEXT NOT NULL DEFAULT '0',
			status TEXT NOT NULL,
			open_request_id TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS positions_history (
			symbol TEXT NOT NULL,
			position_id TEXT NOT NULL,
			direction TEXT NOT NULL,
			entry_price TEXT NOT NULL,
			quantity TEXT NOT NULL,
			leverage INTEGER NOT NULL,
			entry_ts DATETIME NOT NULL,
			contract_size TEXT NOT NULL,
			exit_price TEXT NOT NULL,
			exit_ts DATETIME NOT NULL,
			realized_pnl TEXT NOT NULL,
			pnl_pct TEXT NOT NULL,
			PRIMARY KEY (symbol, position_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_history_exit_ts ON positions_history(exit_ts);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return errors.Wrap(err, "exec schema query")
		}
	}

	// Migration slots for fields added after the initial release; errors
	// are ignored when the column already exists, matching the teacher's
	// additive-migration idiom.
	_, _ = s.db.Exec(`ALTER TABLE positions_open ADD COLUMN ladder_tier_hit INTEGER NOT NULL DEFAULT 0`)
	_, _ = s.db.Exec(`ALTER TABLE positions_open ADD COLUMN open_request_id TEXT NOT NULL DEFAULT ''`)

	return nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, p *domain.Position) error {
	query := `INSERT INTO positions_open (
		symbol, position_id, direction, entry_price, quantity, leverage, entry_ts, contract_size,
		tp_pct, sl_pct, trailing_enabled, trailing_distance, ladder_enabled, ladder_step_pct, ladder_close_pct,
		high_watermark, low_watermark, ladder_tier_hit, ladder_closed_fraction, status, open_request_id
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	ON CONFLICT(symbol) DO UPDATE SET
		position_id=excluded.position_id, direction=excluded.direction, entry_price=excluded.entry_price,
		quantity=excluded.quantity, leverage=excluded.leverage, entry_ts=excluded.entry_ts,
		contract_size=excluded.contract_size, tp_pct=excluded.tp_pct, sl_pct=excluded.sl_pct,
		trailing_enabled=excluded.trailing_enabled, trailing_distance=excluded.trailing_distance,
		ladder_enabled=excluded.ladder_enabled, ladder_step_pct=excluded.ladder_step_pct,
		ladder_close_pct=excluded.ladder_close_pct, high_watermark=excluded.high_watermark,
		low_watermark=excluded.low_watermark, ladder_tier_hit=excluded.ladder_tier_hit,
		ladder_closed_fraction=excluded.ladder_closed_fraction, status=excluded.status,
		open_request_id=excluded.open_request_id`

	_, err := s.db.ExecContext(ctx, query,
		p.Symbol, p.PositionID, string(p.Direction), p.EntryPrice.String(), p.Quantity.String(),
		p.Leverage, p.EntryTS, p.ContractSize.String(),
		p.Rules.TakeProfitPct.String(), p.Rules.StopLossPct.String(), p.Rules.TrailingEnabled,
		p.Rules.TrailingDistance.String(), p.Rules.Ladder.Enabled, p.Rules.Ladder.StepPct.String(), p.Rules.Ladder.ClosePct.String(),
		p.HighWatermark.String(), p.LowWatermark.String(), p.LadderTierHit, p.LadderClosedFraction.String(),
		string(p.Status), p.OpenRequestID,
	)
	if err != nil {
		return errors.Wrapf(err, "upsert position %s", p.Symbol)
	}
	return nil
}

func (s *SQLiteStore) LoadOpen(ctx context.Context) ([]*domain.Position, error) {
	query := `SELECT symbol, position_id, direction, entry_price, quantity, leverage, entry_ts, contract_size,
		tp_pct, sl_pct, trailing_enabled, trailing_distance, ladder_enabled, ladder_step_pct, ladder_close_pct,
		high_watermark, low_watermark, ladder_tier_hit, ladder_closed_fraction, status, open_request_id
		FROM positions_open`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Position
	for rows.Next() {
		p := &domain.Position{}
		var direction, entryPrice, quantity, contractSize, tpPct, slPct, trailingDistance string
		var ladderStepPct, ladderClosePct, highWatermark, lowWatermark, ladderClosedFraction, status string

		if err := rows.Scan(&p.Symbol, &p.PositionID, &direction, &entryPrice, &quantity, &p.Leverage,
			&p.EntryTS, &contractSize, &tpPct, &slPct, &p.Rules.TrailingEnabled, &trailingDistance,
			&p.Rules.Ladder.Enabled, &ladderStepPct, &ladderClosePct, &highWatermark, &lowWatermark,
			&p.LadderTierHit, &ladderClosedFraction, &status, &p.OpenRequestID); err != nil {
			return nil, err
		}

		p.Direction = domain.Direction(direction)
		p.EntryPrice = mustDecimal(entryPrice)
		p.Quantity = mustDecimal(quantity)
		p.ContractSize = mustDecimal(contractSize)
		p.Rules.TakeProfitPct = mustDecimal(tpPct)
		p.Rules.StopLossPct = mustDecimal(slPct)
		p.Rules.TrailingDistance = mustDecimal(trailingDistance)
		p.Rules.Ladder.StepPct = mustDecimal(ladderStepPct)
		p.Rules.Ladder.ClosePct = mustDecimal(ladderClosePct)
		p.HighWatermark = mustDecimal(highWatermark)
		p.LowWatermark = mustDecimal(lowWatermark)
		p.LadderClosedFraction = mustDecimal(ladderClosedFraction)
		p.Status = domain.PositionStatus(status)

		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RecordClose(ctx context.Context, symbol, positionID string, exitPrice decimal.Decimal, exitTS time.Time, realizedPnL decimal.Decimal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var direction, entryPrice, quantity, contractSize string
	var leverage int
	var entryTS time.Time
	row := tx.QueryRowContext(ctx, `SELECT direction, entry_price, quantity, leverage, entry_ts, contract_size
		FROM positions_open WHERE symbol = ?`, symbol)
	if err := row.Scan(&direction, &entryPrice, &quantity, &leverage, &entryTS, &contractSize); err != nil {
		return errors.Wrapf(err, "record close lookup %s", symbol)
	}

	entry := mustDecimal(entryPrice)
	pnlPct := decimal.Zero
	if !entry.IsZero() {
		sign := decimal.NewFromInt(1)
		if domain.Direction(direction) == domain.DirectionShort {
			sign = decimal.NewFromInt(-1)
		}
		pnlPct = exitPrice.Sub(entry).Div(entry).Mul(sign)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO positions_history (
		symbol, position_id, direction, entry_price, quantity, leverage, entry_ts, contract_size,
		exit_price, exit_ts, realized_pnl, pnl_pct
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
	ON CONFLICT(symbol, position_id) DO UPDATE SET
		exit_price=excluded.exit_price, exit_ts=excluded.exit_ts, realized_pnl=excluded.realized_pnl, pnl_pct=excluded.pnl_pct`,
		symbol, positionID, direction, entryPrice, quantity, leverage, entryTS, contractSize,
		exitPrice.String(), exitTS, realizedPnL.String(), pnlPct.String())
	if err != nil {
		return errors.Wrapf(err, "record close insert history %s", symbol)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM positions_open WHERE symbol = ?`, symbol); err != nil {
		return errors.Wrapf(err, "record close delete open %s", symbol)
	}

	return tx.Commit()
}

func (s *SQLiteStore) QueryHistory(ctx context.Context, symbol string, start, end time.Time, limit int) ([]*domain.Position, error) {
	query := `SELECT symbol, position_id, direction, entry_price, quantity, leverage, entry_ts, contract_size,
		exit_price, exit_ts, realized_pnl, pnl_pct FROM positions_history WHERE exit_ts >= ? AND exit_ts <= ?`
	args := []any{start, end}
	if symbol != "" {
		query += ` AND symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY exit_ts DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Position
	for rows.Next() {
		p := &domain.Position{Status: domain.StatusClosed}
		var direction, entryPrice, quantity, contractSize, exitPrice, realizedPnL, pnlPct string
		if err := rows.Scan(&p.Symbol, &p.PositionID, &direction, &entryPrice, &quantity, &p.Leverage,
			&p.EntryTS, &contractSize, &exitPrice, &p.ExitTS, &realizedPnL, &pnlPct); err != nil {
			return nil, err
		}
		p.Direction = domain.Direction(direction)
		p.EntryPrice = mustDecimal(entryPrice)
		p.Quantity = mustDecimal(quantity)
		p.ContractSize = mustDecimal(contractSize)
		p.ExitPrice = mustDecimal(exitPrice)
		p.RealizedPnL = mustDecimal(realizedPnL)
		p.PnLPct = mustDecimal(pnlPct)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DailyRollup(ctx context.Context, date time.Time) (domain.Rollup, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	rows, err := s.db.QueryContext(ctx, `SELECT realized_pnl FROM positions_history WHERE exit_ts >= ? AND exit_ts < ?`, dayStart, dayEnd)
	if err != nil {
		return domain.Rollup{}, err
	}
	defer rows.Close()

	var rollup domain.Rollup
	rollup.RealizedPnL = decimal.Zero
	for rows.Next() {
		var pnlStr string
		if err := rows.Scan(&pnlStr); err != nil {
			return domain.Rollup{}, err
		}
		pnl := mustDecimal(pnlStr)
		rollup.RealizedPnL = rollup.RealizedPnL.Add(pnl)
		rollup.ClosedCount++
		if pnl.IsPositive() {
			rollup.Wins++
		} else if pnl.IsNegative() {
			rollup.Losses++
		}
	}
	return rollup, rows.Err()
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

var _ domain.Store = (*SQLiteStore)(nil)
