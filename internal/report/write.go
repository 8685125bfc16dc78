package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"stockscan/internal/domain"
)

// LedgerHeader is the column order of the trade ledger table.
var LedgerHeader = []string{
	"Action", "Ticker", "Date", "Price", "Shares", "Value",
	"Entry_Date", "PnL_%", "Hold_Days", "Entry_State", "Exit_Reason",
}

// EquityHeader is the column order of the equity curve table.
var EquityHeader = []string{"Date", "Portfolio_Value"}

// Output file names inside a run directory.
const (
	LedgerFile  = "ledger.csv"
	EquityFile  = "equity.csv"
	SummaryFile = "summary.json"
)

// formatFloat uses the shortest representation that round-trips, so equal
// floats always print the same bytes.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// LedgerRow renders one ledger entry. SELL-only columns are blank on BUY
// rows.
func LedgerRow(e domain.LedgerEntry) []string {
	row := []string{
		string(e.Action),
		e.Ticker,
		e.Date.Format(DateLayout),
		formatFloat(e.Price),
		strconv.FormatInt(e.Shares, 10),
		formatFloat(e.Value),
		"", "", "",
		string(e.EntryState),
		e.ExitReason,
	}
	if e.Action == domain.ActionSell {
		row[6] = e.EntryDate.Format(DateLayout)
		row[7] = formatFloat(e.PnLPct)
		row[8] = strconv.Itoa(e.HoldDays)
	}
	return row
}

// WriteLedgerCSV writes the trade ledger with a header row.
func WriteLedgerCSV(w io.Writer, entries []domain.LedgerEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(LedgerHeader); err != nil {
		return err
	}
	for _, e := range entries {
		if err := cw.Write(LedgerRow(e)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteEquityCSV writes one row per checkpoint.
func WriteEquityCSV(w io.Writer, equity []domain.EquitySample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(EquityHeader); err != nil {
		return err
	}
	for _, e := range equity {
		if err := cw.Write([]string{e.Date.Format(DateLayout), formatFloat(e.Value)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSummaryJSON writes s as indented JSON.
func WriteSummaryJSON(w io.Writer, s Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// WriteDir writes the ledger, equity curve and summary into dir, creating
// it if needed.
func WriteDir(dir string, entries []domain.LedgerEntry, equity []domain.EquitySample, s Summary) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating report dir: %w", err)
	}
	writers := []struct {
		name  string
		write func(io.Writer) error
	}{
		{LedgerFile, func(w io.Writer) error { return WriteLedgerCSV(w, entries) }},
		{EquityFile, func(w io.Writer) error { return WriteEquityCSV(w, equity) }},
		{SummaryFile, func(w io.Writer) error { return WriteSummaryJSON(w, s) }},
	}
	for _, wr := range writers {
		if err := writeFile(filepath.Join(dir, wr.name), wr.write); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
