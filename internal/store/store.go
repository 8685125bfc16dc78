// Package store defines storage interfaces for price history and backtest
// results, with Parquet, SQLite and in-memory implementations.
package store

import (
	"context"
	"errors"
	"time"

	"stockscan/internal/domain"
)

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("not found")

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars to storage.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within [start, end].
	ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market string) ([]string, error)
}

// Run is the stored header of one backtest run.
type Run struct {
	ID             string    `json:"id"`
	Strategy       string    `json:"strategy"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	CreatedAt      time.Time `json:"created_at"`
	StartingValue  float64   `json:"starting_value"`
	FinalValue     float64   `json:"final_value"`
	TotalReturnPct float64   `json:"total_return_pct"`
	Trades         int       `json:"trades"`
	// Config and Summary are JSON documents.
	Config  string `json:"config,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// ResultStore persists backtest runs with their ledger and equity curve.
type ResultStore interface {
	// SaveRun replaces any earlier run with the same ID.
	SaveRun(ctx context.Context, run Run, entries []domain.LedgerEntry, equity []domain.EquitySample) error

	// GetRun returns ErrNotFound for an unknown id.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns the most recent runs first, up to limit (0 = all).
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	Ledger(ctx context.Context, runID string) ([]domain.LedgerEntry, error)
	Equity(ctx context.Context, runID string) ([]domain.EquitySample, error)
}

// SignalStore persists scanner output.
type SignalStore interface {
	// SaveSignals replaces the stored scan for (strategy, asOf).
	SaveSignals(ctx context.Context, strategy string, asOf time.Time, signals []domain.Signal) error

	// ListSignals returns the stored scan for (strategy, asOf), sorted by ticker.
	ListSignals(ctx context.Context, strategy string, asOf time.Time) ([]domain.Signal, error)
}
