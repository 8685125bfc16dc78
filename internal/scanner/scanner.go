// Package scanner classifies a universe of tickers at one as-of date and
// filters the result down to entry candidates.
package scanner

import (
	"context"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"stockscan/internal/domain"
	"stockscan/internal/strategy"
	"stockscan/internal/util"
)

// ScanResult is the scanner table for one as-of date. Signals is sorted by
// ticker. Tickers with no usable data are listed in Missing instead.
type ScanResult struct {
	AsOf     time.Time
	Signals  []domain.Signal
	Missing  []string
	Degraded []string
}

// CountByState tallies Signals per state.
func (r ScanResult) CountByState() map[domain.MarketState]int {
	out := make(map[domain.MarketState]int, 4)
	for _, s := range r.Signals {
		out[s.State]++
	}
	return out
}

// Scanner runs a classifier over a fixed price history.
type Scanner struct {
	classifier strategy.Classifier
	history    domain.PriceHistory
	workers    int
	log        *slog.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithWorkers bounds the number of tickers classified concurrently.
// n <= 0 means GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(s *Scanner) { s.workers = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) { s.log = l }
}

// New creates a Scanner over history.
func New(c strategy.Classifier, history domain.PriceHistory, opts ...Option) *Scanner {
	s := &Scanner{classifier: c, history: history, log: util.Discard()}
	for _, o := range opts {
		o(s)
	}
	if s.workers <= 0 {
		s.workers = runtime.GOMAXPROCS(0)
	}
	return s
}

// Classifier returns the classifier the scanner runs.
func (s *Scanner) Classifier() strategy.Classifier { return s.classifier }

// Scan classifies every ticker as of asOf. Each ticker only sees bars dated
// on or before asOf. The output does not depend on the worker count.
func (s *Scanner) Scan(ctx context.Context, tickers []string, asOf time.Time) (ScanResult, error) {
	type slot struct {
		sig domain.Signal
		ok  bool
	}
	slots := make([]slot, len(tickers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, ticker := range tickers {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sig, ok := s.classifier.Classify(ticker, s.history[ticker], asOf)
			slots[i] = slot{sig: sig, ok: ok}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ScanResult{}, err
	}

	res := ScanResult{AsOf: domain.DateOf(asOf)}
	for i, sl := range slots {
		if !sl.ok {
			res.Missing = append(res.Missing, tickers[i])
			continue
		}
		res.Signals = append(res.Signals, sl.sig)
		if sl.sig.Degraded {
			res.Degraded = append(res.Degraded, tickers[i])
		}
	}
	sort.Slice(res.Signals, func(i, j int) bool { return res.Signals[i].Ticker < res.Signals[j].Ticker })
	sort.Strings(res.Missing)
	sort.Strings(res.Degraded)

	s.log.Debug("scan complete",
		"asOf", res.AsOf.Format("2006-01-02"),
		"signals", len(res.Signals),
		"missing", len(res.Missing),
		"degraded", len(res.Degraded),
	)
	return res, nil
}
