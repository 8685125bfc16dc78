// Package us gathers US equity daily bars from the Alpaca market-data API.
package us

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"golang.org/x/sync/errgroup"

	"stockscan/internal/domain"
	"stockscan/internal/gather"
	"stockscan/internal/metrics"
	"stockscan/internal/store"
	"stockscan/internal/universe"
	"stockscan/internal/util"
)

var _ gather.Gatherer = (*DailyBarGatherer)(nil)

// BarFetcher is the slice of the Alpaca market-data client the gatherer
// uses. *marketdata.Client implements it.
type BarFetcher interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

var _ BarFetcher = (*marketdata.Client)(nil)

// NewAlpacaClient builds a market-data client. An empty dataURL uses the
// library default.
func NewAlpacaClient(apiKey, apiSecret, dataURL string) *marketdata.Client {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return marketdata.NewClient(opts)
}

// DailyBarConfig tunes a DailyBarGatherer.
type DailyBarConfig struct {
	// Start is the first date fetched for a symbol with no stored bars.
	Start           time.Time
	BatchSize       int // symbols per API call
	MaxWorkers      int // concurrent API calls
	RateLimitPerMin int // 0 disables
	Feed            string
	Retries         int
}

// ---------------------------------------------------------------------------
// DailyBarGatherer
// ---------------------------------------------------------------------------

// DailyBarGatherer keeps the bar store current for the configured universe.
// Symbols already in the store are fetched from the day after the last
// completed pass; new symbols from Config.Start. A pass that fails part-way
// can be re-run and only repeats unfinished work.
type DailyBarGatherer struct {
	fetcher  BarFetcher
	store    store.BarStore
	symbols  universe.Provider
	cfg      DailyBarConfig
	stateDir string
	endDate  func(ctx context.Context) (time.Time, error)
	limiter  *util.RateLimiter
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// Option configures a DailyBarGatherer.
type Option func(*DailyBarGatherer)

// WithEndDate sets how the last date to fetch is chosen. The default is
// yesterday in UTC.
func WithEndDate(fn func(ctx context.Context) (time.Time, error)) Option {
	return func(g *DailyBarGatherer) { g.endDate = fn }
}

// WithMetrics records batch counts and bars written.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *DailyBarGatherer) { g.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *DailyBarGatherer) { g.log = l }
}

// NewDailyBarGatherer creates a gatherer that writes into s. Progress is
// kept under stateDir.
func NewDailyBarGatherer(f BarFetcher, s store.BarStore, symbols universe.Provider, stateDir string, cfg DailyBarConfig, opts ...Option) *DailyBarGatherer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	g := &DailyBarGatherer{
		fetcher:  f,
		store:    s,
		symbols:  symbols,
		cfg:      cfg,
		stateDir: stateDir,
		limiter:  util.NewRateLimiter(cfg.RateLimitPerMin),
		log:      slog.Default().With("gatherer", "us-alpaca-data"),
		endDate: func(context.Context) (time.Time, error) {
			return domain.DateOf(time.Now().UTC()).AddDate(0, 0, -1), nil
		},
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Name returns the gatherer identifier.
func (g *DailyBarGatherer) Name() string { return "us-alpaca-data" }

// batch is one API call's worth of symbols sharing a start date.
type batch struct {
	from    time.Time
	symbols []string
}

// Run fetches every missing day up to the end date and writes it to the
// store. It returns an error if any batch failed; completed batches stay
// written.
func (g *DailyBarGatherer) Run(ctx context.Context) error {
	end, err := g.endDate(ctx)
	if err != nil {
		return fmt.Errorf("determining end date: %w", err)
	}
	end = domain.DateOf(end)
	endStr := end.Format("2006-01-02")

	prog, err := loadProgress(g.stateDir)
	if err != nil {
		return err
	}
	if prog.LastCompleted() == endStr {
		g.log.Info("already completed", "endDate", endStr)
		return nil
	}
	if err := prog.Begin(endStr); err != nil {
		return err
	}

	symbols, err := g.symbols.Symbols(ctx)
	if err != nil {
		return fmt.Errorf("listing universe: %w", err)
	}
	existing, err := g.store.ListSymbols(ctx, string(domain.MarketUS))
	if err != nil {
		return fmt.Errorf("listing stored symbols: %w", err)
	}

	batches := g.plan(symbols, existing, prog, end)
	g.log.Info("starting us-alpaca-data",
		"endDate", endStr,
		"universe", len(symbols),
		"batches", len(batches),
	)

	var (
		failed    atomic.Int64
		totalBars atomic.Int64
		runStart  = time.Now()
	)
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.MaxWorkers)
	for i, b := range batches {
		eg.Go(func() error {
			n, err := g.runBatch(ctx, b, end, prog)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				failed.Add(1)
				g.metrics.RecordBatch("error", 0)
				g.log.Error("batch failed", "batch", fmt.Sprintf("%d/%d", i+1, len(batches)), "err", err)
				return nil
			}
			totalBars.Add(int64(n))
			g.metrics.RecordBatch("ok", n)
			g.log.Info("batch done",
				"batch", fmt.Sprintf("%d/%d", i+1, len(batches)),
				"bars", n,
				"elapsed", time.Since(runStart).Round(time.Second),
			)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d batches failed", n, len(batches))
	}
	if err := prog.Complete(endStr); err != nil {
		return err
	}
	g.log.Info("complete", "bars", totalBars.Load(), "elapsed", time.Since(runStart).Round(time.Second))
	return nil
}

// plan groups the symbols still to fetch by start date and splits each
// group into batches. The order is deterministic.
func (g *DailyBarGatherer) plan(symbols, existing []string, prog *progress, end time.Time) []batch {
	stored := make(map[string]struct{}, len(existing))
	for _, s := range existing {
		stored[s] = struct{}{}
	}
	var resume time.Time
	if last := prog.LastCompleted(); last != "" {
		if t, err := time.Parse("2006-01-02", last); err == nil {
			resume = t.AddDate(0, 0, 1)
		}
	}

	groups := make(map[time.Time][]string)
	for _, sym := range symbols {
		if prog.IsEmpty(sym) {
			continue
		}
		from := g.cfg.Start
		if _, ok := stored[sym]; ok && !resume.IsZero() {
			from = resume
		}
		if from.After(end) {
			continue
		}
		groups[from] = append(groups[from], sym)
	}

	starts := make([]time.Time, 0, len(groups))
	for t := range groups {
		starts = append(starts, t)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	var out []batch
	for _, from := range starts {
		syms := groups[from]
		sort.Strings(syms)
		for i := 0; i < len(syms); i += g.cfg.BatchSize {
			out = append(out, batch{from: from, symbols: syms[i:min(i+g.cfg.BatchSize, len(syms))]})
		}
	}
	return out
}

// runBatch fetches, stores and records one batch. Symbols that return no
// bars are remembered so a resumed pass skips them.
func (g *DailyBarGatherer) runBatch(ctx context.Context, b batch, end time.Time, prog *progress) (int, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	bars, err := util.RetryValue(ctx, g.cfg.Retries, time.Second, func() ([]domain.Bar, error) {
		return g.fetchMultiBars(b.symbols, b.from, end)
	})
	if err != nil {
		return 0, err
	}

	hit := make(map[string]struct{})
	for _, bar := range bars {
		hit[bar.Symbol] = struct{}{}
	}
	var empty []string
	for _, sym := range b.symbols {
		if _, ok := hit[sym]; !ok {
			empty = append(empty, sym)
		}
	}

	if len(bars) > 0 {
		if err := g.store.WriteBars(ctx, bars); err != nil {
			return 0, fmt.Errorf("writing bars: %w", err)
		}
	}
	if len(empty) > 0 {
		if err := prog.MarkEmpty(empty); err != nil {
			return 0, err
		}
	}
	return len(bars), nil
}

// fetchMultiBars fetches daily bars for several symbols in one call.
func (g *DailyBarGatherer) fetchMultiBars(symbols []string, start, end time.Time) ([]domain.Bar, error) {
	req := marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start,
		End:       end.AddDate(0, 0, 1),
	}
	switch strings.ToLower(g.cfg.Feed) {
	case "iex":
		req.Feed = "iex"
	case "otc":
		req.Feed = "otc"
	default:
		req.Feed = "sip"
	}

	multiBars, err := g.fetcher.GetMultiBars(symbols, req)
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	var bars []domain.Bar
	for symbol, alpacaBars := range multiBars {
		for _, ab := range alpacaBars {
			bars = append(bars, domain.Bar{
				Symbol:     strings.ToUpper(symbol),
				Timestamp:  domain.DateOf(ab.Timestamp),
				Open:       ab.Open,
				High:       ab.High,
				Low:        ab.Low,
				Close:      ab.Close,
				Volume:     int64(ab.Volume),
				TradeCount: int64(ab.TradeCount),
				VWAP:       ab.VWAP,
			})
		}
	}
	return bars, nil
}
