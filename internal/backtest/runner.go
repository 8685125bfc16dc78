package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"

	"stockscan/internal/config"
	"stockscan/internal/domain"
	"stockscan/internal/metrics"
	"stockscan/internal/report"
	"stockscan/internal/scanner"
	"stockscan/internal/store"
	"stockscan/internal/strategy"
	"stockscan/internal/strategy/builtins"
	"stockscan/internal/universe"
)

// Runner loads inputs from the stores, runs the engine and persists the
// outputs. Results, Artifacts and Signals are optional.
type Runner struct {
	Bars      store.BarStore
	Market    domain.Market
	Universe  universe.Provider
	Results   store.ResultStore
	Artifacts *store.ParquetStore
	Signals   store.SignalStore
	Metrics   *metrics.Metrics
	Log       *slog.Logger
	// Now stamps Run.CreatedAt and times the run. Defaults to time.Now.
	Now func() time.Time
}

// Outcome is a finished, persisted run.
type Outcome struct {
	Run     store.Run
	Result  *Result
	Summary report.Summary
	// OutputDir is where the CSV and JSON reports were written, if anywhere.
	OutputDir string
}

func (r *Runner) logger() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default().With("component", "backtest")
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) market() domain.Market {
	if r.Market != "" {
		return r.Market
	}
	return domain.MarketUS
}

func (r *Runner) provider() universe.Provider {
	if r.Universe != nil {
		return r.Universe
	}
	return universe.Store{Bars: r.Bars, Market: r.market()}
}

// Run executes the backtest described by bt.
func (r *Runner) Run(ctx context.Context, bt config.Backtest) (*Outcome, error) {
	started := r.now()
	out, err := r.run(ctx, bt, started)
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.Metrics.RecordRun(status, r.now().Sub(started).Seconds())
	return out, err
}

func (r *Runner) run(ctx context.Context, bt config.Backtest, started time.Time) (*Outcome, error) {
	log := r.logger()

	cfg, params, err := FromConfig(bt)
	if err != nil {
		return nil, err
	}
	classifier, err := ClassifierFor(bt.Strategy, params)
	if err != nil {
		return nil, err
	}

	symbols, err := r.provider().Symbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: universe: %v", ErrConfiguration, err)
	}
	history, err := store.LoadHistory(ctx, r.Bars, r.market(), symbols, cfg.Start.AddDate(0, 0, -WarmupDays(params)), cfg.End)
	if err != nil {
		return nil, fmt.Errorf("%w: loading history: %v", ErrConfiguration, err)
	}
	log.Info("history loaded", "symbols", len(symbols), "withData", len(history))

	eng, err := New(cfg, history, symbols,
		WithClassifier(classifier),
		WithLogger(log),
		WithMetrics(r.Metrics),
	)
	if err != nil {
		return nil, err
	}
	res, err := eng.Run(ctx)
	if err != nil {
		return nil, err
	}

	summary := report.Summarize(res.StartingCash, res.Equity, res.Trades, res.OpenPositions)
	run, err := newRun(bt, res, summary, started)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Run: run, Result: res, Summary: summary}

	if r.Results != nil {
		if err := r.Results.SaveRun(ctx, run, res.Entries, res.Equity); err != nil {
			return nil, fmt.Errorf("saving run %s: %w", run.ID, err)
		}
	}
	if r.Artifacts != nil {
		if err := r.Artifacts.WriteRunArtifacts(run.ID, res.Entries, res.Equity); err != nil {
			return nil, fmt.Errorf("writing run artifacts: %w", err)
		}
	}
	if bt.OutputDir != "" {
		out.OutputDir = filepath.Join(bt.OutputDir, run.ID)
		if err := report.WriteDir(out.OutputDir, res.Entries, res.Equity, summary); err != nil {
			return nil, err
		}
	}

	log.Info("run saved", "id", run.ID, "output", out.OutputDir)
	return out, nil
}

// RunID derives a stable id from the configuration, so re-running the same
// configuration replaces the earlier run.
func RunID(bt config.Backtest) (string, error) {
	data, err := json.Marshal(bt)
	if err != nil {
		return "", fmt.Errorf("encoding config: %w", err)
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, data).String(), nil
}

func newRun(bt config.Backtest, res *Result, s report.Summary, created time.Time) (store.Run, error) {
	id, err := RunID(bt)
	if err != nil {
		return store.Run{}, err
	}
	cfgJSON, err := json.Marshal(bt)
	if err != nil {
		return store.Run{}, err
	}
	sumJSON, err := json.Marshal(s)
	if err != nil {
		return store.Run{}, err
	}
	return store.Run{
		ID:             id,
		Strategy:       res.Classifier,
		StartDate:      res.Config.Start,
		EndDate:        res.Config.End,
		CreatedAt:      created.UTC().Truncate(time.Second),
		StartingValue:  s.Performance.StartingValue,
		FinalValue:     s.Performance.FinalValue,
		TotalReturnPct: s.Performance.TotalReturnPct,
		Trades:         s.TradingStats.TotalTrades,
		Config:         string(cfgJSON),
		Summary:        string(sumJSON),
	}, nil
}

// ClassifierFor looks name up among the built-in classifiers.
func ClassifierFor(name string, p strategy.Params) (strategy.Classifier, error) {
	reg := strategy.NewRegistry()
	builtins.Register(reg, p)
	c, ok := reg.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown strategy %q (have %v)", ErrConfiguration, name, reg.List())
	}
	return c, nil
}

// WarmupDays is how many calendar days of history before the first
// checkpoint the classifier needs for full lookbacks.
func WarmupDays(p strategy.Params) int {
	rows := max(p.LongMAWindow, p.LookbackDays, p.MomentumDays+1)
	if len(p.MAWindows) > 0 {
		rows = max(rows, slices.Max(p.MAWindows))
	}
	// Roughly 252 sessions per 365 calendar days.
	return rows*3/2 + 10
}

// Scan classifies the universe at asOf with the configured strategy, and
// saves the signals when a SignalStore is set.
func (r *Runner) Scan(ctx context.Context, bt config.Backtest, asOf time.Time) (scanner.ScanResult, error) {
	_, params, err := FromConfig(bt)
	if err != nil {
		return scanner.ScanResult{}, err
	}
	classifier, err := ClassifierFor(bt.Strategy, params)
	if err != nil {
		return scanner.ScanResult{}, err
	}
	asOf = domain.DateOf(asOf)

	symbols, err := r.provider().Symbols(ctx)
	if err != nil {
		return scanner.ScanResult{}, err
	}
	history, err := store.LoadHistory(ctx, r.Bars, r.market(), symbols, asOf.AddDate(0, 0, -WarmupDays(params)), asOf)
	if err != nil {
		return scanner.ScanResult{}, err
	}

	sc := scanner.New(classifier, history, scanner.WithWorkers(bt.Workers), scanner.WithLogger(r.logger()))
	res, err := sc.Scan(ctx, symbols, asOf)
	if err != nil {
		return scanner.ScanResult{}, err
	}
	if r.Signals != nil {
		if err := r.Signals.SaveSignals(ctx, classifier.Name(), asOf, res.Signals); err != nil {
			return res, fmt.Errorf("saving signals: %w", err)
		}
	}
	return res, nil
}
