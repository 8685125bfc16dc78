package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"stockscan/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ ResultStore = (*SQLiteStore)(nil)
var _ SignalStore = (*SQLiteStore)(nil)

const dateLayout = "2006-01-02"

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id               TEXT PRIMARY KEY,
	strategy         TEXT NOT NULL,
	start_date       TEXT NOT NULL,
	end_date         TEXT NOT NULL,
	created_at       TEXT NOT NULL,
	starting_value   REAL NOT NULL,
	final_value      REAL NOT NULL,
	total_return_pct REAL NOT NULL,
	trades           INTEGER NOT NULL,
	config           TEXT NOT NULL DEFAULT '',
	summary          TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS ledger (
	run_id      TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	action      TEXT NOT NULL,
	ticker      TEXT NOT NULL,
	date        TEXT NOT NULL,
	price       REAL NOT NULL,
	shares      INTEGER NOT NULL,
	value       REAL NOT NULL,
	entry_date  TEXT NOT NULL DEFAULT '',
	pnl_pct     REAL NOT NULL DEFAULT 0,
	hold_days   INTEGER NOT NULL DEFAULT 0,
	entry_state TEXT NOT NULL DEFAULT '',
	exit_reason TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, seq)
);
CREATE TABLE IF NOT EXISTS equity (
	run_id         TEXT NOT NULL,
	date           TEXT NOT NULL,
	value          REAL NOT NULL,
	cash           REAL NOT NULL,
	invested       REAL NOT NULL,
	open_positions INTEGER NOT NULL,
	PRIMARY KEY (run_id, date)
);
CREATE TABLE IF NOT EXISTS signals (
	strategy        TEXT NOT NULL,
	as_of           TEXT NOT NULL,
	ticker          TEXT NOT NULL,
	date            TEXT NOT NULL,
	state           TEXT NOT NULL,
	close           REAL NOT NULL,
	long_ma         REAL NOT NULL,
	low             REAL NOT NULL,
	support         REAL NOT NULL,
	dist_support    REAL NOT NULL,
	dist_long_ma    REAL NOT NULL,
	momentum        REAL NOT NULL,
	rows            INTEGER NOT NULL,
	degraded        INTEGER NOT NULL,
	moving_averages TEXT NOT NULL,
	PRIMARY KEY (strategy, as_of, ticker)
);
`

// SQLiteStore implements ResultStore and SignalStore backed by a SQLite
// database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer at a time; SQLite serialises writes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// ResultStore implementation
// ---------------------------------------------------------------------------

// SaveRun writes the run header, ledger and equity curve in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run Run, entries []domain.LedgerEntry, equity []domain.EquitySample) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO runs
		(id, strategy, start_date, end_date, created_at, starting_value, final_value, total_return_pct, trades, config, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Strategy, run.StartDate.Format(dateLayout), run.EndDate.Format(dateLayout),
		run.CreatedAt.UTC().Format(time.RFC3339), run.StartingValue, run.FinalValue,
		run.TotalReturnPct, run.Trades, run.Config, run.Summary,
	); err != nil {
		return fmt.Errorf("saving run %s: %w", run.ID, err)
	}

	for _, table := range []string{"ledger", "equity"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE run_id = ?", run.ID); err != nil {
			return fmt.Errorf("clearing %s for run %s: %w", table, run.ID, err)
		}
	}

	for i, e := range entries {
		if _, err := tx.ExecContext(ctx, `INSERT INTO ledger
			(run_id, seq, action, ticker, date, price, shares, value, entry_date, pnl_pct, hold_days, entry_state, exit_reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, i, string(e.Action), e.Ticker, e.Date.Format(dateLayout), e.Price, e.Shares, e.Value,
			formatDate(e.EntryDate), e.PnLPct, e.HoldDays, string(e.EntryState), e.ExitReason,
		); err != nil {
			return fmt.Errorf("saving ledger row %d: %w", i, err)
		}
	}

	for _, q := range equity {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO equity
			(run_id, date, value, cash, invested, open_positions) VALUES (?, ?, ?, ?, ?, ?)`,
			run.ID, q.Date.Format(dateLayout), q.Value, q.Cash, q.Invested, q.OpenPositions,
		); err != nil {
			return fmt.Errorf("saving equity %s: %w", q.Date.Format(dateLayout), err)
		}
	}

	return tx.Commit()
}

const runColumns = `id, strategy, start_date, end_date, created_at, starting_value, final_value, total_return_pct, trades, config, summary`

// GetRun returns the run with the given id.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns runs newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM runs ORDER BY created_at DESC, id LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Ledger returns the ledger rows of a run in recorded order.
func (s *SQLiteStore) Ledger(ctx context.Context, runID string) ([]domain.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT action, ticker, date, price, shares, value, entry_date,
		pnl_pct, hold_days, entry_state, exit_reason FROM ledger WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		var (
			e                              domain.LedgerEntry
			action, date, entryDate, state string
		)
		if err := rows.Scan(&action, &e.Ticker, &date, &e.Price, &e.Shares, &e.Value, &entryDate,
			&e.PnLPct, &e.HoldDays, &state, &e.ExitReason); err != nil {
			return nil, err
		}
		e.Action = domain.Action(action)
		e.EntryState = domain.MarketState(state)
		if e.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		if e.EntryDate, err = parseDate(entryDate); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Equity returns the equity curve of a run in date order.
func (s *SQLiteStore) Equity(ctx context.Context, runID string) ([]domain.EquitySample, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT date, value, cash, invested, open_positions
		FROM equity WHERE run_id = ? ORDER BY date`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.EquitySample
	for rows.Next() {
		var (
			q    domain.EquitySample
			date string
		)
		if err := rows.Scan(&date, &q.Value, &q.Cash, &q.Invested, &q.OpenPositions); err != nil {
			return nil, err
		}
		if q.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// SignalStore implementation
// ---------------------------------------------------------------------------

// SaveSignals replaces the stored scan for (strategy, asOf).
func (s *SQLiteStore) SaveSignals(ctx context.Context, strategy string, asOf time.Time, signals []domain.Signal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	day := asOf.Format(dateLayout)
	if _, err := tx.ExecContext(ctx, "DELETE FROM signals WHERE strategy = ? AND as_of = ?", strategy, day); err != nil {
		return err
	}
	for _, sig := range signals {
		mas, err := json.Marshal(sig.MovingAverages)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO signals
			(strategy, as_of, ticker, date, state, close, long_ma, low, support, dist_support, dist_long_ma, momentum, rows, degraded, moving_averages)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			strategy, day, sig.Ticker, sig.Date.Format(dateLayout), string(sig.State), sig.Close, sig.LongMA,
			sig.Low, sig.Support, sig.DistanceToSupportPct, sig.DistanceToLongMAPct, sig.MomentumPct,
			sig.Rows, sig.Degraded, string(mas),
		); err != nil {
			return fmt.Errorf("saving signal %s: %w", sig.Ticker, err)
		}
	}
	return tx.Commit()
}

// ListSignals returns the stored scan for (strategy, asOf).
func (s *SQLiteStore) ListSignals(ctx context.Context, strategy string, asOf time.Time) ([]domain.Signal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ticker, date, state, close, long_ma, low, support, dist_support,
		dist_long_ma, momentum, rows, degraded, moving_averages
		FROM signals WHERE strategy = ? AND as_of = ? ORDER BY ticker`, strategy, asOf.Format(dateLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Signal
	for rows.Next() {
		var (
			sig              domain.Signal
			date, state, mas string
		)
		if err := rows.Scan(&sig.Ticker, &date, &state, &sig.Close, &sig.LongMA, &sig.Low, &sig.Support,
			&sig.DistanceToSupportPct, &sig.DistanceToLongMAPct, &sig.MomentumPct, &sig.Rows,
			&sig.Degraded, &mas); err != nil {
			return nil, err
		}
		if sig.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		sig.State = domain.MarketState(state)
		if err := json.Unmarshal([]byte(mas), &sig.MovingAverages); err != nil {
			return nil, fmt.Errorf("decoding moving averages for %s: %w", sig.Ticker, err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(r rowScanner) (Run, error) {
	var (
		run                 Run
		start, end, created string
	)
	if err := r.Scan(&run.ID, &run.Strategy, &start, &end, &created, &run.StartingValue,
		&run.FinalValue, &run.TotalReturnPct, &run.Trades, &run.Config, &run.Summary); err != nil {
		return Run{}, err
	}
	var err error
	if run.StartDate, err = parseDate(start); err != nil {
		return Run{}, err
	}
	if run.EndDate, err = parseDate(end); err != nil {
		return Run{}, err
	}
	if run.CreatedAt, err = time.Parse(time.RFC3339, created); err != nil {
		return Run{}, err
	}
	return run, nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, s)
}
