// internal/storage/ledger/sqlite.go
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/newthinker/barsim/internal/backtest"
	"github.com/newthinker/barsim/internal/broker"
	"github.com/newthinker/barsim/internal/core"
	"github.com/newthinker/barsim/internal/strategy"
)

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore persists runs and trades to a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// Open opens (or creates) the SQLite database and runs migrations.
func Open(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storageErr("open sqlite", err)
	}
	// One writer; a single connection also keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, storageErr("set WAL mode", err)
		}
	}

	s := &SQLiteStore{db: db, logger: logger, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, storageErr("migrate", err)
	}

	logger.Debug("ledger opened", zap.String("path", path))
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id            TEXT PRIMARY KEY,
			strategy      TEXT NOT NULL,
			symbol        TEXT NOT NULL,
			interval      TEXT,
			params        TEXT NOT NULL,
			status        TEXT NOT NULL,
			error         TEXT,
			bars          INTEGER,
			start_ts      INTEGER,
			end_ts        INTEGER,
			total_return  REAL,
			sharpe_ratio  REAL,
			max_drawdown  REAL,
			total_trades  INTEGER,
			win_rate      REAL,
			final_value   REAL,
			report        TEXT,
			created_at    INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_symbol ON runs(symbol, strategy)`,

		`CREATE TABLE IF NOT EXISTS trades (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id       TEXT NOT NULL REFERENCES runs(id),
			entry_bar    INTEGER,
			exit_bar     INTEGER,
			entry_ts     INTEGER,
			exit_ts      INTEGER,
			entry_price  REAL,
			exit_price   REAL,
			size         REAL,
			gross_pnl    REAL,
			commission   REAL,
			pnl          REAL,
			bar_length   INTEGER,
			exit_reason  TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_run ON trades(run_id)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// SaveRun inserts the run row and its trades in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, params strategy.Params, res *backtest.Result) error {
	if res == nil || res.RunID == "" {
		return core.WrapError(core.ErrStorageFailed, errors.New("result has no run id"))
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return storageErr("encode params", err)
	}
	reportJSON, err := json.Marshal(res.Report)
	if err != nil {
		return storageErr("encode report", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin", err)
	}
	defer tx.Rollback()

	r := res.Report
	_, err = tx.ExecContext(ctx, `INSERT INTO runs
		(id, strategy, symbol, interval, params, status, bars, start_ts, end_ts,
		 total_return, sharpe_ratio, max_drawdown, total_trades, win_rate, final_value, report, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RunID, res.Strategy, res.Symbol, res.Interval, string(paramsJSON), StatusOK, res.Bars,
		res.StartDate.UnixMilli(), res.EndDate.UnixMilli(),
		r.TotalReturn, r.SharpeRatio, r.MaxDrawdown, r.TotalTrades, r.WinRate, r.FinalValue,
		string(reportJSON), s.now().UnixMilli(),
	)
	if err != nil {
		return storageErr("insert run", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO trades
		(run_id, entry_bar, exit_bar, entry_ts, exit_ts, entry_price, exit_price, size,
		 gross_pnl, commission, pnl, bar_length, exit_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return storageErr("prepare trades", err)
	}
	defer stmt.Close()

	for _, t := range res.Trades {
		if _, err := stmt.ExecContext(ctx, res.RunID, t.EntryBar, t.ExitBar,
			t.EntryTime.UnixMilli(), t.ExitTime.UnixMilli(), t.EntryPrice, t.ExitPrice, t.Size,
			t.GrossPnL, t.Commission, t.PnL, t.BarLength, t.ExitReason); err != nil {
			return storageErr("insert trade", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit", err)
	}
	s.logger.Debug("run recorded", zap.String("run_id", res.RunID), zap.Int("trades", len(res.Trades)))
	return nil
}

func (s *SQLiteStore) SaveFailure(ctx context.Context, params strategy.Params, symbol string, f backtest.Failure) (string, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return "", storageErr("encode params", err)
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `INSERT INTO runs
		(id, strategy, symbol, params, status, error, bars, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		id, params.Name, symbol, string(paramsJSON), StatusError,
		fmt.Sprintf("[%s] %s", f.Code, f.Error), s.now().UnixMilli(),
	)
	if err != nil {
		return "", storageErr("insert failure", err)
	}
	return id, nil
}

const runColumns = `id, strategy, symbol, COALESCE(interval, ''), params, status, COALESCE(error, ''),
	COALESCE(bars, 0), COALESCE(start_ts, 0), COALESCE(end_ts, 0), COALESCE(report, ''), created_at`

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("run %s not found", id))
	}
	if err != nil {
		return nil, storageErr("get run", err)
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter ListFilter) ([]Run, error) {
	where, args := filter.where()
	order := "created_at DESC, id"
	if filter.ByReturn {
		order = "total_return DESC, created_at DESC"
	}
	query := `SELECT ` + runColumns + ` FROM runs` + where + ` ORDER BY ` + order
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list runs", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, storageErr("scan run", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list runs", err)
	}
	return runs, nil
}

func (s *SQLiteStore) Count(ctx context.Context, filter ListFilter) (int, error) {
	where, args := filter.where()
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`+where, args...).Scan(&n); err != nil {
		return 0, storageErr("count runs", err)
	}
	return n, nil
}

func (s *SQLiteStore) Trades(ctx context.Context, runID string) ([]broker.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT entry_bar, exit_bar, entry_ts, exit_ts, entry_price,
		exit_price, size, gross_pnl, commission, pnl, bar_length, exit_reason
		FROM trades WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, storageErr("list trades", err)
	}
	defer rows.Close()

	var trades []broker.Trade
	for rows.Next() {
		var t broker.Trade
		var entryTs, exitTs int64
		if err := rows.Scan(&t.EntryBar, &t.ExitBar, &entryTs, &exitTs, &t.EntryPrice, &t.ExitPrice,
			&t.Size, &t.GrossPnL, &t.Commission, &t.PnL, &t.BarLength, &t.ExitReason); err != nil {
			return nil, storageErr("scan trade", err)
		}
		t.EntryTime = time.UnixMilli(entryTs).UTC()
		t.ExitTime = time.UnixMilli(exitTs).UTC()
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list trades", err)
	}
	return trades, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		run                     Run
		params, report          string
		startTs, endTs, created int64
	)
	if err := sc.Scan(&run.ID, &run.Strategy, &run.Symbol, &run.Interval, &params, &run.Status,
		&run.Error, &run.Bars, &startTs, &endTs, &report, &created); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(params), &run.Params); err != nil {
		return nil, fmt.Errorf("decode params of %s: %w", run.ID, err)
	}
	if report != "" {
		if err := json.Unmarshal([]byte(report), &run.Report); err != nil {
			return nil, fmt.Errorf("decode report of %s: %w", run.ID, err)
		}
	}
	if startTs != 0 {
		run.StartDate = time.UnixMilli(startTs).UTC()
		run.EndDate = time.UnixMilli(endTs).UTC()
	}
	run.CreatedAt = time.UnixMilli(created).UTC()
	return &run, nil
}

func (f ListFilter) where() (string, []any) {
	var conds []string
	var args []any
	if f.Symbol != "" {
		conds = append(conds, "symbol = ?")
		args = append(args, f.Symbol)
	}
	if f.Strategy != "" {
		conds = append(conds, "strategy = ?")
		args = append(args, f.Strategy)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if !f.From.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.From.UnixMilli())
	}
	if !f.To.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, f.To.UnixMilli())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func storageErr(op string, err error) error {
	return core.WrapError(core.ErrStorageFailed, fmt.Errorf("%s: %w", op, err))
}
