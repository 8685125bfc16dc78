// Package universe resolves the list of tickers a scan or backtest covers.
package universe

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"stockscan/internal/config"
	"stockscan/internal/domain"
	"stockscan/internal/store"
)

// Provider yields a sorted, de-duplicated, upper-case ticker list.
type Provider interface {
	Symbols(ctx context.Context) ([]string, error)
}

// Compile-time interface checks.
var (
	_ Provider = Static(nil)
	_ Provider = File{}
	_ Provider = Store{}
)

// Static is a fixed ticker list.
type Static []string

// Symbols returns the normalized list.
func (s Static) Symbols(_ context.Context) ([]string, error) {
	return Normalize(s), nil
}

// File reads tickers from Path. Text files hold one ticker per line with
// '#' comments; .csv files take the first column and skip the header row.
type File struct {
	Path string
}

// Symbols reads and normalizes the file.
func (f File) Symbols(_ context.Context) ([]string, error) {
	if strings.EqualFold(filepath.Ext(f.Path), ".csv") {
		syms, err := loadCSV(f.Path)
		if err != nil {
			return nil, err
		}
		return Normalize(syms), nil
	}

	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("opening universe %s: %w", f.Path, err)
	}
	defer fh.Close()

	var syms []string
	sc := bufio.NewScanner(fh)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		syms = append(syms, strings.Fields(line)...)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading universe %s: %w", f.Path, err)
	}
	return Normalize(syms), nil
}

func loadCSV(path string) ([]string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening CSV %s: %w", path, err)
	}
	defer fh.Close()

	r := csv.NewReader(fh)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, nil
	}
	syms := make([]string, 0, len(records)-1)
	for _, row := range records[1:] {
		if len(row) > 0 {
			syms = append(syms, row[0])
		}
	}
	return syms, nil
}

// Store lists every symbol with bars in the given market.
type Store struct {
	Bars   store.BarStore
	Market domain.Market
}

// Symbols lists the bar store.
func (s Store) Symbols(ctx context.Context) ([]string, error) {
	syms, err := s.Bars.ListSymbols(ctx, string(s.Market))
	if err != nil {
		return nil, fmt.Errorf("listing %s symbols: %w", s.Market, err)
	}
	return Normalize(syms), nil
}

// FromConfig picks the configured provider: explicit symbols, then a file,
// then everything in bs.
func FromConfig(cfg config.Universe, bs store.BarStore) Provider {
	switch {
	case len(cfg.Symbols) > 0:
		return Static(cfg.Symbols)
	case cfg.File != "":
		return File{Path: cfg.File}
	default:
		return Store{Bars: bs, Market: domain.MarketUS}
	}
}

// Normalize trims, upper-cases, de-duplicates and sorts tickers.
func Normalize(syms []string) []string {
	seen := make(map[string]struct{}, len(syms))
	out := make([]string, 0, len(syms))
	for _, s := range syms {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
