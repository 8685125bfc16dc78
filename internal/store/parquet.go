package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"stockscan/internal/domain"
)

// Compile-time interface check.
var _ BarStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore using Parquet files on disk, and exports
// run artifacts next to the price data.
type ParquetStore struct {
	DataDir string
	// Market is the directory WriteBars files bars under.
	Market string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir, Market: string(domain.MarketUS)}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for daily bar data.
type BarRecord struct {
	Symbol     string  `parquet:"symbol"`
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open       float64 `parquet:"open"`
	High       float64 `parquet:"high"`
	Low        float64 `parquet:"low"`
	Close      float64 `parquet:"close"`
	Volume     int64   `parquet:"volume"`
	TradeCount int64   `parquet:"trade_count"`
	VWAP       float64 `parquet:"vwap"`
}

// LedgerRecord is the Parquet schema for one trade-ledger row.
type LedgerRecord struct {
	RunID      string  `parquet:"run_id"`
	Seq        int32   `parquet:"seq"`
	Action     string  `parquet:"action"`
	Ticker     string  `parquet:"ticker"`
	Date       int64   `parquet:"date,timestamp(millisecond)"`
	Price      float64 `parquet:"price"`
	Shares     int64   `parquet:"shares"`
	Value      float64 `parquet:"value"`
	EntryDate  int64   `parquet:"entry_date,timestamp(millisecond)"`
	PnLPct     float64 `parquet:"pnl_pct"`
	HoldDays   int32   `parquet:"hold_days"`
	EntryState string  `parquet:"entry_state"`
	ExitReason string  `parquet:"exit_reason"`
}

// EquityRecord is the Parquet schema for one equity-curve sample.
type EquityRecord struct {
	RunID         string  `parquet:"run_id"`
	Date          int64   `parquet:"date,timestamp(millisecond)"`
	Value         float64 `parquet:"value"`
	Cash          float64 `parquet:"cash"`
	Invested      float64 `parquet:"invested"`
	OpenPositions int32   `parquet:"open_positions"`
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars writes bars under s.Market grouped by symbol and year. Each
// symbol+year combination is one file at:
//
//	<DataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) WriteBars(_ context.Context, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	market := s.Market
	if market == "" {
		market = string(domain.MarketUS)
	}
	return s.WriteBarsForMarket(bars, market)
}

// WriteBarsForMarket writes bars to Parquet grouped by symbol and year under
// the given market directory, merging with what is already on disk.
func (s *ParquetStore) WriteBarsForMarket(bars []domain.Bar, market string) error {
	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		ts := domain.DateOf(b.Timestamp)
		k := key{symbol: strings.ToUpper(b.Symbol), year: ts.Year()}
		groups[k] = append(groups[k], BarRecord{
			Symbol:     k.symbol,
			Timestamp:  ts.UnixMilli(),
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     b.Volume,
			TradeCount: b.TradeCount,
			VWAP:       b.VWAP,
		})
	}

	for k, records := range groups {
		path := s.barPath(k.symbol, market, k.year)

		existing, err := readParquetFile[BarRecord](path)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("reading bars for %s/%d: %w", k.symbol, k.year, err)
		}
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

// ReadBars reads bar data for symbol within [start, end]. Missing year files
// are skipped; a symbol with no files returns no bars and no error.
func (s *ParquetStore) ReadBars(_ context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	for year := start.Year(); year <= end.Year(); year++ {
		path := s.barPath(symbol, market, year)

		records, err := readParquetFile[BarRecord](path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}

		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if ts.Before(start) || ts.After(end) {
				continue
			}
			bars = append(bars, domain.Bar{
				Symbol:     r.Symbol,
				Timestamp:  ts,
				Open:       r.Open,
				High:       r.High,
				Low:        r.Low,
				Close:      r.Close,
				Volume:     r.Volume,
				TradeCount: r.TradeCount,
				VWAP:       r.VWAP,
			})
		}
	}
	return bars, nil
}

// ListSymbols lists all symbols that have bar data in the given market.
func (s *ParquetStore) ListSymbols(_ context.Context, market string) ([]string, error) {
	dir := filepath.Join(s.DataDir, market, "daily")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// Run artifacts
// ---------------------------------------------------------------------------

// WriteRunArtifacts writes the ledger and equity curve of a run to
// <DataDir>/runs/<runID>/{ledger,equity}.parquet, replacing earlier files.
func (s *ParquetStore) WriteRunArtifacts(runID string, entries []domain.LedgerEntry, equity []domain.EquitySample) error {
	ledger := make([]LedgerRecord, len(entries))
	for i, e := range entries {
		ledger[i] = LedgerRecord{
			RunID:      runID,
			Seq:        int32(i),
			Action:     string(e.Action),
			Ticker:     e.Ticker,
			Date:       e.Date.UnixMilli(),
			Price:      e.Price,
			Shares:     e.Shares,
			Value:      e.Value,
			EntryDate:  unixMilliOrZero(e.EntryDate),
			PnLPct:     e.PnLPct,
			HoldDays:   int32(e.HoldDays),
			EntryState: string(e.EntryState),
			ExitReason: e.ExitReason,
		}
	}
	curve := make([]EquityRecord, len(equity))
	for i, q := range equity {
		curve[i] = EquityRecord{
			RunID:         runID,
			Date:          q.Date.UnixMilli(),
			Value:         q.Value,
			Cash:          q.Cash,
			Invested:      q.Invested,
			OpenPositions: int32(q.OpenPositions),
		}
	}

	if err := writeParquetFile(s.runPath(runID, "ledger"), ledger); err != nil {
		return fmt.Errorf("writing ledger for run %s: %w", runID, err)
	}
	if err := writeParquetFile(s.runPath(runID, "equity"), curve); err != nil {
		return fmt.Errorf("writing equity for run %s: %w", runID, err)
	}
	return nil
}

// ReadRunLedger reads back a ledger written by WriteRunArtifacts.
func (s *ParquetStore) ReadRunLedger(runID string) ([]domain.LedgerEntry, error) {
	records, err := readParquetFile[LedgerRecord](s.runPath(runID, "ledger"))
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })

	out := make([]domain.LedgerEntry, len(records))
	for i, r := range records {
		out[i] = domain.LedgerEntry{
			Action:     domain.Action(r.Action),
			Ticker:     r.Ticker,
			Date:       time.UnixMilli(r.Date).UTC(),
			Price:      r.Price,
			Shares:     r.Shares,
			Value:      r.Value,
			EntryDate:  timeOrZero(r.EntryDate),
			PnLPct:     r.PnLPct,
			HoldDays:   int(r.HoldDays),
			EntryState: domain.MarketState(r.EntryState),
			ExitReason: r.ExitReason,
		}
	}
	return out, nil
}

// ReadRunEquity reads back an equity curve written by WriteRunArtifacts.
func (s *ParquetStore) ReadRunEquity(runID string) ([]domain.EquitySample, error) {
	records, err := readParquetFile[EquityRecord](s.runPath(runID, "equity"))
	if err != nil {
		return nil, err
	}
	out := make([]domain.EquitySample, len(records))
	for i, r := range records {
		out[i] = domain.EquitySample{
			Date:          time.UnixMilli(r.Date).UTC(),
			Value:         r.Value,
			Cash:          r.Cash,
			Invested:      r.Invested,
			OpenPositions: int(r.OpenPositions),
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) barPath(symbol, market string, year int) string {
	return filepath.Join(s.DataDir, market, "daily", strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

// runPath returns <dataDir>/runs/<runID>/<name>.parquet.
func (s *ParquetStore) runPath(runID, name string) string {
	return filepath.Join(s.DataDir, "runs", runID, name+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return parquet.ReadFile[T](path)
}

// mergeBarRecords deduplicates bar records by (symbol, timestamp), preferring
// new records over existing ones.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}

func unixMilliOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func timeOrZero(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
