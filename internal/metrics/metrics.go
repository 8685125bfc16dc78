// Package metrics exposes Prometheus metrics for backtests, scans and data
// gathering.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stockscan"

// Skip reasons for the skipped-entries counter.
const (
	SkipInsufficientFunds = "insufficient_funds"
	SkipZeroShares        = "zero_shares"
	SkipMaxPositions      = "max_positions"
)

// Metrics holds every collector. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	// Backtest
	Checkpoints     prometheus.Counter
	Trades          *prometheus.CounterVec
	SkippedEntries  *prometheus.CounterVec
	DataGaps        prometheus.Counter
	DegradedSignals prometheus.Counter
	PortfolioValue  prometheus.Gauge
	Cash            prometheus.Gauge
	OpenPositions   prometheus.Gauge
	Runs            *prometheus.CounterVec
	RunDuration     prometheus.Histogram

	// Scanner
	SignalsByState *prometheus.GaugeVec

	// Gather
	BarsWritten   prometheus.Counter
	GatherBatches *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers every collector with reg. Pass prometheus.NewRegistry() in
// tests to keep them isolated.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Checkpoints: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "checkpoints_total",
			Help:      "Total number of checkpoints evaluated",
		}),
		Trades: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "trades_total",
			Help:      "Total number of ledger entries by action",
		}, []string{"action"}),
		SkippedEntries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "skipped_entries_total",
			Help:      "Total number of entry candidates not bought, by reason",
		}, []string{"reason"}),
		DataGaps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "data_gaps_total",
			Help:      "Total number of ticker/checkpoint pairs with no usable price",
		}),
		DegradedSignals: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "degraded_signals_total",
			Help:      "Total number of signals computed on less than the full lookback",
		}),
		PortfolioValue: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "portfolio_value",
			Help:      "Portfolio value at the most recent checkpoint",
		}),
		Cash: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "cash",
			Help:      "Cash at the most recent checkpoint",
		}),
		OpenPositions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "open_positions",
			Help:      "Open positions at the most recent checkpoint",
		}),
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "runs_total",
			Help:      "Total number of backtest runs by status",
		}, []string{"status"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "run_duration_seconds",
			Help:      "Wall time of complete backtest runs",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		SignalsByState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "signals",
			Help:      "Signals per state in the most recent scan",
		}, []string{"state"}),
		BarsWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gather",
			Name:      "bars_written_total",
			Help:      "Total number of daily bars written to the bar store",
		}),
		GatherBatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gather",
			Name:      "batches_total",
			Help:      "Total number of symbol batches fetched, by status",
		}, []string{"status"}),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ---------------------------------------------------------------------------
// Recorders
// ---------------------------------------------------------------------------

// RecordCheckpoint records the account after one checkpoint.
func (m *Metrics) RecordCheckpoint(value, cash float64, open int) {
	if m == nil {
		return
	}
	m.Checkpoints.Inc()
	m.PortfolioValue.Set(value)
	m.Cash.Set(cash)
	m.OpenPositions.Set(float64(open))
}

// RecordTrade counts one ledger entry.
func (m *Metrics) RecordTrade(action string) {
	if m == nil {
		return
	}
	m.Trades.WithLabelValues(action).Inc()
}

// RecordSkip counts one entry candidate that was not bought.
func (m *Metrics) RecordSkip(reason string) {
	if m == nil {
		return
	}
	m.SkippedEntries.WithLabelValues(reason).Inc()
}

// RecordScan records the gaps and degraded signals of one scan and the
// per-state tally.
func (m *Metrics) RecordScan(gaps, degraded int, byState map[string]int) {
	if m == nil {
		return
	}
	m.DataGaps.Add(float64(gaps))
	m.DegradedSignals.Add(float64(degraded))
	for _, st := range []string{"P1", "P2", "N1", "N2"} {
		m.SignalsByState.WithLabelValues(st).Set(float64(byState[st]))
	}
}

// RecordRun counts a finished run.
func (m *Metrics) RecordRun(status string, seconds float64) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(status).Inc()
	m.RunDuration.Observe(seconds)
}

// RecordBatch counts one gather batch and the bars it wrote.
func (m *Metrics) RecordBatch(status string, bars int) {
	if m == nil {
		return
	}
	m.GatherBatches.WithLabelValues(status).Inc()
	m.BarsWritten.Add(float64(bars))
}
