// Package backtest runs the weekly scan-and-trade loop over a pre-loaded
// price history and persists the results.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"stockscan/internal/domain"
	"stockscan/internal/metrics"
	"stockscan/internal/portfolio"
	"stockscan/internal/scanner"
	"stockscan/internal/strategy"
	"stockscan/internal/strategy/builtins"
	"stockscan/internal/util"
)

// Stats are the per-run counts of recoverable conditions.
type Stats struct {
	Checkpoints       int
	DataGaps          int
	DegradedSignals   int
	FundingRejections int
	ZeroShareSkips    int
	CapacitySkips     int
}

// Result is everything a run produced.
type Result struct {
	Config        Config
	Classifier    string
	Checkpoints   []time.Time
	Entries       []domain.LedgerEntry
	Trades        []domain.Trade
	Equity        []domain.EquitySample
	OpenPositions []domain.Position
	StartingCash  float64
	FinalCash     float64
	Stats         Stats
}

// FinalValue is the last equity sample, or starting cash for an empty curve.
func (r *Result) FinalValue() float64 {
	if len(r.Equity) == 0 {
		return r.StartingCash
	}
	return r.Equity[len(r.Equity)-1].Value
}

// Engine drives one backtest. It is single-threaded apart from the scanner
// fan-out and reads no clock.
type Engine struct {
	cfg         Config
	history     domain.PriceHistory
	universe    []string
	classifier  strategy.Classifier
	scanner     *scanner.Scanner
	filter      scanner.EntryFilter
	checkpoints []time.Time
	log         *slog.Logger
	metrics     *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithClassifier replaces the default ma-support classifier.
func WithClassifier(c strategy.Classifier) Option {
	return func(e *Engine) { e.classifier = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMetrics records checkpoint and trade metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New validates cfg and the inputs and prepares the checkpoint calendar.
// Every returned error wraps ErrConfiguration.
func New(cfg Config, history domain.PriceHistory, universe []string, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(universe) == 0 {
		return nil, fmt.Errorf("%w: empty universe", ErrConfiguration)
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: no price history", ErrConfiguration)
	}
	if err := history.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	cal, err := util.NewCheckpointCalendar(cfg.Cadence)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	checkpoints := cal.Between(cfg.Start, cfg.End)
	if len(checkpoints) == 0 {
		return nil, fmt.Errorf("%w: cadence %q has no checkpoints between %s and %s", ErrConfiguration,
			cal.Expr(), cfg.Start.Format("2006-01-02"), cfg.End.Format("2006-01-02"))
	}

	e := &Engine{
		cfg:         cfg,
		history:     history,
		universe:    append([]string(nil), universe...),
		filter:      scanner.EntryFilter{MaxSupportDistancePct: cfg.MaxSupportDistancePct},
		checkpoints: checkpoints,
		log:         util.Discard(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.classifier == nil {
		e.classifier = builtins.NewMASupport(strategy.DefaultParams())
	}
	e.scanner = scanner.New(e.classifier, history, scanner.WithWorkers(cfg.Workers), scanner.WithLogger(e.log))
	return e, nil
}

// Checkpoints returns the dates the run will evaluate.
func (e *Engine) Checkpoints() []time.Time {
	return append([]time.Time(nil), e.checkpoints...)
}

// Run executes every checkpoint in order. ctx is only checked between
// checkpoints. A *portfolio.ConsistencyError aborts the run.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	ledger := portfolio.New(portfolio.Sizing{
		StartingCash: e.cfg.StartingCash,
		DefaultPct:   e.cfg.PositionSizePct,
		Allocations:  e.cfg.Allocations,
	})
	st := &runState{
		ledger:    ledger,
		prevState: make(map[string]domain.MarketState),
	}

	e.log.Info("backtest starting",
		"classifier", e.classifier.Name(),
		"tickers", len(e.universe),
		"checkpoints", len(e.checkpoints),
		"start", e.checkpoints[0].Format("2006-01-02"),
		"end", e.checkpoints[len(e.checkpoints)-1].Format("2006-01-02"),
	)

	for i, cp := range e.checkpoints {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		last := i == len(e.checkpoints)-1
		if err := e.step(ctx, st, cp, last); err != nil {
			return nil, err
		}
	}

	res := &Result{
		Config:        e.cfg,
		Classifier:    e.classifier.Name(),
		Checkpoints:   e.Checkpoints(),
		Entries:       ledger.Entries(),
		Trades:        ledger.Trades(),
		Equity:        ledger.Equity(),
		OpenPositions: ledger.Positions(),
		StartingCash:  ledger.StartingCash(),
		FinalCash:     ledger.Cash(),
		Stats:         st.stats,
	}
	e.log.Info("backtest complete",
		"finalValue", res.FinalValue(),
		"trades", len(res.Trades),
		"open", len(res.OpenPositions),
		"dataGaps", st.stats.DataGaps,
		"fundingRejections", st.stats.FundingRejections,
	)
	return res, nil
}

type runState struct {
	ledger    *portfolio.Ledger
	prevState map[string]domain.MarketState
	stats     Stats
}

// step runs exits, entries, the equity sample and the invariant check for
// one checkpoint.
func (e *Engine) step(ctx context.Context, st *runState, cp time.Time, last bool) error {
	scan, err := e.scanner.Scan(ctx, e.universe, cp)
	if err != nil {
		return err
	}
	st.stats.DataGaps += len(scan.Missing)
	st.stats.DegradedSignals += len(scan.Degraded)
	e.recordScan(scan)

	bySym := make(map[string]domain.Signal, len(scan.Signals))
	prices := make(map[string]float64, len(scan.Signals))
	for _, sig := range scan.Signals {
		bySym[sig.Ticker] = sig
		prices[sig.Ticker] = sig.Close
	}

	if err := e.exits(st, cp, bySym); err != nil {
		return err
	}

	if last && e.cfg.CloseAtEnd {
		if err := e.liquidate(st, cp, bySym); err != nil {
			return err
		}
	} else if err := e.entries(st, cp, scan.Signals); err != nil {
		return err
	}

	for _, sig := range scan.Signals {
		st.prevState[sig.Ticker] = sig.State
	}

	sample := st.ledger.Mark(cp, prices)
	if err := st.ledger.CheckInvariants(cp); err != nil {
		return err
	}
	st.stats.Checkpoints++
	e.metrics.RecordCheckpoint(sample.Value, sample.Cash, sample.OpenPositions)

	e.log.Debug("checkpoint",
		"date", cp.Format("2006-01-02"),
		"value", sample.Value,
		"cash", sample.Cash,
		"open", sample.OpenPositions,
	)
	return nil
}

// exits sells open positions whose fresh signal meets the exit rule.
// Positions with no signal at this checkpoint are held.
func (e *Engine) exits(st *runState, cp time.Time, bySym map[string]domain.Signal) error {
	for _, pos := range st.ledger.Positions() {
		sig, ok := bySym[pos.Ticker]
		if !ok || !e.cfg.Exit.ShouldExit(sig) {
			continue
		}
		tr, err := st.ledger.Sell(pos.Ticker, cp, sig.Close, sig.State, ExitReasonSignal(sig.State))
		if err != nil {
			return fmt.Errorf("checkpoint %s: %w", cp.Format("2006-01-02"), err)
		}
		e.logSell(tr)
	}
	return nil
}

// entries buys admitted candidates in tie-break order until cash or the
// position cap runs out.
func (e *Engine) entries(st *runState, cp time.Time, signals []domain.Signal) error {
	candidates := e.filter.Apply(signals)
	e.cfg.TieBreak.Order(candidates)

	for _, c := range candidates {
		if st.ledger.Holds(c.Ticker) {
			continue
		}
		if e.cfg.EntryOnTransition && st.prevState[c.Ticker] == domain.StateP1 {
			continue
		}
		if e.cfg.MaxPositions > 0 && len(st.ledger.Positions()) >= e.cfg.MaxPositions {
			st.stats.CapacitySkips++
			e.metrics.RecordSkip(metrics.SkipMaxPositions)
			continue
		}

		entry, err := st.ledger.Buy(c.Ticker, cp, c.Close, c.State)
		switch {
		case err == nil:
			e.metrics.RecordTrade(string(entry.Action))
			e.log.Info("buy",
				"date", cp.Format("2006-01-02"),
				"ticker", entry.Ticker,
				"shares", entry.Shares,
				"price", entry.Price,
				"value", entry.Value,
				"distToSupport", c.DistanceToSupportPct,
			)
		case errors.Is(err, portfolio.ErrInsufficientFunds):
			st.stats.FundingRejections++
			e.metrics.RecordSkip(metrics.SkipInsufficientFunds)
			e.log.Debug("entry not funded", "date", cp.Format("2006-01-02"), "ticker", c.Ticker, "err", err)
		case errors.Is(err, portfolio.ErrZeroShares):
			st.stats.ZeroShareSkips++
			e.metrics.RecordSkip(metrics.SkipZeroShares)
			e.log.Debug("entry below one share", "date", cp.Format("2006-01-02"), "ticker", c.Ticker)
		default:
			return fmt.Errorf("checkpoint %s: %w", cp.Format("2006-01-02"), err)
		}
	}
	return nil
}

// liquidate closes every remaining position at the final checkpoint. A
// ticker with no signal is sold at its last mark.
func (e *Engine) liquidate(st *runState, cp time.Time, bySym map[string]domain.Signal) error {
	for _, pos := range st.ledger.Positions() {
		price, state := pos.LastPrice, st.prevState[pos.Ticker]
		if sig, ok := bySym[pos.Ticker]; ok {
			price, state = sig.Close, sig.State
		}
		tr, err := st.ledger.Sell(pos.Ticker, cp, price, state, ExitReasonEnd)
		if err != nil {
			return fmt.Errorf("checkpoint %s: %w", cp.Format("2006-01-02"), err)
		}
		e.logSell(tr)
	}
	return nil
}

func (e *Engine) logSell(tr domain.Trade) {
	e.metrics.RecordTrade(string(domain.ActionSell))
	e.log.Info("sell",
		"date", tr.ExitDate.Format("2006-01-02"),
		"ticker", tr.Ticker,
		"shares", tr.Shares,
		"price", tr.ExitPrice,
		"pnlPct", tr.PnLPct,
		"reason", tr.ExitReason,
	)
}

func (e *Engine) recordScan(scan scanner.ScanResult) {
	if e.metrics == nil {
		return
	}
	byState := make(map[string]int, 4)
	for st, n := range scan.CountByState() {
		byState[string(st)] = n
	}
	e.metrics.RecordScan(len(scan.Missing), len(scan.Degraded), byState)
}
