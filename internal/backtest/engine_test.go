package backtest

import (
	"bytes"
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockscan/internal/domain"
	"stockscan/internal/report"
	"stockscan/internal/scanner"
	"stockscan/internal/strategy"
	"stockscan/internal/strategy/builtins"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// weekdayBars builds one bar per weekday from start priced by price(i, date).
func weekdayBars(sym string, start time.Time, n int, price func(i int, d time.Time) float64) []domain.Bar {
	bars := make([]domain.Bar, 0, n)
	d := start
	for i := 0; i < n; i++ {
		for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			d = d.AddDate(0, 0, 1)
		}
		c := price(i, d)
		bars = append(bars, domain.Bar{Symbol: sym, Timestamp: d, Open: c, High: c, Low: c, Close: c, Volume: 1000})
		d = d.AddDate(0, 0, 1)
	}
	return bars
}

func constant(p float64) func(int, time.Time) float64 {
	return func(int, time.Time) float64 { return p }
}

// scripted classifies by a fixed table instead of indicators. Bearish
// states sit under the long MA, bullish ones above it.
type scripted struct {
	state func(ticker string, asOf time.Time) domain.MarketState
}

func (s scripted) Name() string { return "scripted" }

func (s scripted) Classify(ticker string, bars []domain.Bar, asOf time.Time) (domain.Signal, bool) {
	window := domain.AsOf(bars, asOf)
	if len(window) == 0 {
		return domain.Signal{}, false
	}
	last := window[len(window)-1]
	st := s.state(ticker, asOf)
	longMA := last.Close * 0.9
	if !st.Bullish() {
		longMA = last.Close * 1.1
	}
	return domain.Signal{
		Ticker:  ticker,
		Date:    domain.DateOf(last.Timestamp),
		State:   st,
		Close:   last.Close,
		LongMA:  longMA,
		Support: last.Close,
		Rows:    len(window),
	}, true
}

func always(st domain.MarketState) scripted {
	return scripted{state: func(string, time.Time) domain.MarketState { return st }}
}

// jan2024 runs over the five Fridays of January 2024 (5, 12, 19, 26 and
// Feb 2).
func jan2024() Config {
	return Config{
		Start:                 day(2024, 1, 1),
		End:                   day(2024, 2, 2),
		StartingCash:          100000,
		PositionSizePct:       10,
		MaxSupportDistancePct: 15,
		TieBreak:              scanner.TieBreakTicker,
		Exit:                  ExitRule{SellStates: []domain.MarketState{domain.StateN2}, RequireBelowLongMA: true},
	}
}

func flatHistory(prices map[string]float64) domain.PriceHistory {
	h := domain.PriceHistory{}
	for sym, p := range prices {
		h[sym] = weekdayBars(sym, day(2023, 12, 1), 60, constant(p))
	}
	return h
}

func run(t *testing.T, cfg Config, h domain.PriceHistory, universe []string, opts ...Option) *Result {
	t.Helper()
	eng, err := New(cfg, h, universe, opts...)
	require.NoError(t, err)
	res, err := eng.Run(context.Background())
	require.NoError(t, err)
	return res
}

// ---------------------------------------------------------------------------
// End-to-end scenarios
// ---------------------------------------------------------------------------

func TestSteadyUptrendBuysOnceAndHolds(t *testing.T) {
	start := day(2021, 1, 4)
	bars := weekdayBars("AAPL", start, 756, func(i int, _ time.Time) float64 {
		return 100 + 200*float64(i)/755
	})
	cfg := jan2024()
	cfg.Start = bars[25].Timestamp
	cfg.End = bars[len(bars)-1].Timestamp

	res := run(t, cfg, domain.PriceHistory{"AAPL": bars}, []string{"AAPL"})

	require.Len(t, res.Entries, 1, "one BUY, no SELL")
	buy := res.Entries[0]
	assert.Equal(t, domain.ActionBuy, buy.Action)
	assert.Equal(t, domain.StateP1, buy.EntryState)
	assert.False(t, buy.Date.Before(bars[25].Timestamp), "bought at %s", buy.Date)
	assert.False(t, buy.Date.After(bars[35].Timestamp), "bought at %s", buy.Date)

	assert.Empty(t, res.Trades)
	require.Len(t, res.OpenPositions, 1)
	assert.Equal(t, "AAPL", res.OpenPositions[0].Ticker)

	for i := 1; i < len(res.Equity); i++ {
		assert.GreaterOrEqual(t, res.Equity[i].Value, res.Equity[i-1].Value-1e-6,
			"equity fell at %s", res.Equity[i].Date)
	}
	assert.Greater(t, res.FinalValue(), cfg.StartingCash)
}

func TestSizingFromPositionPct(t *testing.T) {
	cfg := jan2024()
	cfg.PositionSizePct = 20
	cfg.End = day(2024, 1, 5)

	res := run(t, cfg, flatHistory(map[string]float64{"AAA": 50}), []string{"AAA"},
		WithClassifier(always(domain.StateP1)))

	require.Len(t, res.Entries, 1)
	assert.Equal(t, int64(400), res.Entries[0].Shares)
	assert.Equal(t, 80000.0, res.FinalCash)
}

func TestAllocationOverrideAndFundingRejection(t *testing.T) {
	cfg := jan2024()
	cfg.PositionSizePct = 60
	cfg.Allocations = map[string]float64{"AAA": 50}
	cfg.End = day(2024, 1, 5)

	res := run(t, cfg, flatHistory(map[string]float64{"AAA": 100, "BBB": 100}), []string{"AAA", "BBB"},
		WithClassifier(always(domain.StateP1)))

	require.Len(t, res.Entries, 1)
	assert.Equal(t, "AAA", res.Entries[0].Ticker)
	assert.Equal(t, int64(500), res.Entries[0].Shares)
	assert.Equal(t, 50000.0, res.FinalCash)
	assert.Equal(t, 1, res.Stats.FundingRejections)
}

// ---------------------------------------------------------------------------
// Exits and options
// ---------------------------------------------------------------------------

func TestSignalExit(t *testing.T) {
	h := domain.PriceHistory{"AAA": weekdayBars("AAA", day(2023, 12, 1), 60, func(_ int, d time.Time) float64 {
		if d.Before(day(2024, 1, 15)) {
			return 100
		}
		return 110
	})}
	cls := scripted{state: func(_ string, asOf time.Time) domain.MarketState {
		if asOf.Before(day(2024, 1, 19)) {
			return domain.StateP1
		}
		return domain.StateN2
	}}

	res := run(t, jan2024(), h, []string{"AAA"}, WithClassifier(cls))

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, day(2024, 1, 5), tr.EntryDate)
	assert.Equal(t, day(2024, 1, 19), tr.ExitDate)
	assert.Equal(t, int64(100), tr.Shares)
	assert.InDelta(t, 1000, tr.PnL, 1e-9)
	assert.InDelta(t, 10, tr.PnLPct, 1e-9)
	assert.Equal(t, 14, tr.HoldDays)
	assert.Equal(t, "SIGNAL_N2", tr.ExitReason)

	assert.Len(t, res.Entries, 2, "an N2 ticker is not re-bought")
	assert.Empty(t, res.OpenPositions)
	assert.InDelta(t, 101000, res.FinalCash, 1e-9)
	assert.InDelta(t, 101000, res.FinalValue(), 1e-9)
}

func TestExitRule(t *testing.T) {
	rule := ExitRule{SellStates: []domain.MarketState{domain.StateN2}, RequireBelowLongMA: true}

	assert.True(t, rule.ShouldExit(domain.Signal{State: domain.StateN2, Close: 90, LongMA: 100}))
	assert.False(t, rule.ShouldExit(domain.Signal{State: domain.StateN2, Close: 110, LongMA: 100}))
	assert.False(t, rule.ShouldExit(domain.Signal{State: domain.StateN1, Close: 90, LongMA: 100}))

	rule.RequireBelowLongMA = false
	assert.True(t, rule.ShouldExit(domain.Signal{State: domain.StateN2, Close: 110, LongMA: 100}))
}

func TestCloseAtEnd(t *testing.T) {
	cfg := jan2024()
	cfg.CloseAtEnd = true

	res := run(t, cfg, flatHistory(map[string]float64{"AAA": 100}), []string{"AAA"},
		WithClassifier(always(domain.StateP1)))

	require.Len(t, res.Trades, 1)
	assert.Equal(t, ExitReasonEnd, res.Trades[0].ExitReason)
	assert.Equal(t, day(2024, 2, 2), res.Trades[0].ExitDate)
	assert.Empty(t, res.OpenPositions)
	assert.Len(t, res.Entries, 2, "no entries on the liquidation checkpoint")
	assert.Equal(t, res.FinalCash, res.FinalValue())
}

func TestOpenPositionsStayOpenByDefault(t *testing.T) {
	res := run(t, jan2024(), flatHistory(map[string]float64{"AAA": 100}), []string{"AAA"},
		WithClassifier(always(domain.StateP1)))

	assert.Empty(t, res.Trades)
	require.Len(t, res.OpenPositions, 1)
	assert.Equal(t, 100000.0, res.FinalValue())
}

func TestMaxPositions(t *testing.T) {
	cfg := jan2024()
	cfg.MaxPositions = 2

	res := run(t, cfg, flatHistory(map[string]float64{"AAA": 10, "BBB": 10, "CCC": 10}), []string{"AAA", "BBB", "CCC"},
		WithClassifier(always(domain.StateP1)))

	require.Len(t, res.OpenPositions, 2)
	assert.Equal(t, "AAA", res.OpenPositions[0].Ticker)
	assert.Equal(t, "BBB", res.OpenPositions[1].Ticker)
	assert.Equal(t, 5, res.Stats.CapacitySkips)
}

func TestEntryOnTransition(t *testing.T) {
	h := flatHistory(map[string]float64{"AAA": 10, "BBB": 10})
	cls := scripted{state: func(ticker string, asOf time.Time) domain.MarketState {
		if ticker == "AAA" && !asOf.Before(day(2024, 1, 12)) {
			return domain.StateN2
		}
		return domain.StateP1
	}}
	cfg := jan2024()
	cfg.MaxPositions = 1

	res := run(t, cfg, h, []string{"AAA", "BBB"}, WithClassifier(cls))
	require.Len(t, res.OpenPositions, 1)
	assert.Equal(t, "BBB", res.OpenPositions[0].Ticker)
	assert.Equal(t, day(2024, 1, 12), res.OpenPositions[0].EntryDate, "slot freed by the same checkpoint's exit")

	cfg.EntryOnTransition = true
	res = run(t, cfg, h, []string{"AAA", "BBB"}, WithClassifier(cls))
	assert.Empty(t, res.OpenPositions, "BBB never transitions into P1")
}

func TestTieBreakBySupportDistance(t *testing.T) {
	cfg := jan2024()
	cfg.End = day(2024, 1, 5)
	cfg.PositionSizePct = 60
	cfg.TieBreak = scanner.TieBreakSupportDistance

	h := flatHistory(map[string]float64{"AAA": 100, "ZZZ": 100})
	dist := map[string]float64{"AAA": 10, "ZZZ": 2}
	cls := withDistance{always(domain.StateP1), dist}

	res := run(t, cfg, h, []string{"AAA", "ZZZ"}, WithClassifier(cls))
	require.Len(t, res.Entries, 1)
	assert.Equal(t, "ZZZ", res.Entries[0].Ticker, "closest to support goes first")
}

type withDistance struct {
	scripted
	dist map[string]float64
}

func (w withDistance) Classify(ticker string, bars []domain.Bar, asOf time.Time) (domain.Signal, bool) {
	sig, ok := w.scripted.Classify(ticker, bars, asOf)
	sig.DistanceToSupportPct = w.dist[ticker]
	return sig, ok
}

// ---------------------------------------------------------------------------
// Invariants and determinism
// ---------------------------------------------------------------------------

func wavyHistory() (domain.PriceHistory, []string) {
	h := domain.PriceHistory{}
	syms := []string{"AAA", "BBB", "CCC", "DDD", "EEE", "FFF"}
	for k, sym := range syms {
		phase := float64(k)
		h[sym] = weekdayBars(sym, day(2020, 1, 1), 1000, func(i int, _ time.Time) float64 {
			x := float64(i)
			return 100 + 30*math.Sin(x/40+phase) + 0.05*x*float64(k%3)
		})
	}
	// A late listing and a ticker that stops trading.
	h["NEW"] = weekdayBars("NEW", day(2022, 6, 1), 300, func(i int, _ time.Time) float64 { return 20 + float64(i)*0.1 })
	h["OLD"] = weekdayBars("OLD", day(2020, 1, 1), 500, func(i int, _ time.Time) float64 { return 50 + float64(i%50) })
	return h, append(syms, "NEW", "OLD", "NONE")
}

func wavyConfig() Config {
	return Config{
		Start:                 day(2021, 1, 1),
		End:                   day(2023, 10, 31),
		StartingCash:          100000,
		PositionSizePct:       15,
		MaxSupportDistancePct: 100,
		TieBreak:              scanner.TieBreakSupportDistance,
		Exit:                  ExitRule{SellStates: []domain.MarketState{domain.StateN2}, RequireBelowLongMA: true},
	}
}

func wavyClassifier() strategy.Classifier {
	p := strategy.DefaultParams()
	p.P1MaxSupportDistancePct = 100
	return builtins.NewMASupport(p)
}

func TestInvariantsHoldThroughoutRun(t *testing.T) {
	h, universe := wavyHistory()
	res := run(t, wavyConfig(), h, universe, WithClassifier(wavyClassifier()))

	require.NotEmpty(t, res.Trades)
	assert.Equal(t, len(res.Checkpoints), len(res.Equity))
	assert.Equal(t, len(res.Checkpoints), res.Stats.Checkpoints)
	assert.Positive(t, res.Stats.DataGaps, "NONE, NEW and OLD miss checkpoints")

	for _, e := range res.Equity {
		assert.GreaterOrEqual(t, e.Cash, 0.0, "negative cash at %s", e.Date)
	}

	// At most one open position per ticker, replayed from the ledger.
	open := map[string]bool{}
	for _, e := range res.Entries {
		switch e.Action {
		case domain.ActionBuy:
			assert.False(t, open[e.Ticker], "second BUY of %s on %s", e.Ticker, e.Date)
			open[e.Ticker] = true
		case domain.ActionSell:
			assert.True(t, open[e.Ticker], "SELL of flat %s on %s", e.Ticker, e.Date)
			open[e.Ticker] = false
		}
	}

	// Final cash plus open positions at their last marks is the last sample.
	value := res.FinalCash
	for _, p := range res.OpenPositions {
		value += p.MarketValue()
	}
	assert.InDelta(t, res.FinalValue(), value, 1e-6)

	// Cash reconciles with starting cash and the ledger.
	cash := res.StartingCash
	for _, e := range res.Entries {
		if e.Action == domain.ActionBuy {
			cash -= e.Value
		} else {
			cash += e.Value
		}
	}
	assert.InDelta(t, res.FinalCash, cash, 1e-6)
}

func TestGeometricPricesKeepBooksBalanced(t *testing.T) {
	growth := map[string]float64{"AAA": 1.0031, "BBB": 0.9987, "CCC": 1.0017, "DDD": 1.00053}
	rank := map[string]int{"AAA": 0, "BBB": 1, "CCC": 2, "DDD": 3}
	h := domain.PriceHistory{}
	var universe []string
	for sym, g := range growth {
		h[sym] = weekdayBars(sym, day(2020, 12, 1), 300, func(i int, _ time.Time) float64 {
			return 100 * math.Pow(g, float64(i))
		})
		universe = append(universe, sym)
	}

	// Each ticker cycles P1, P1, N2 offset by its rank so fills land on
	// every checkpoint.
	origin := day(2021, 1, 1)
	cls := scripted{state: func(ticker string, asOf time.Time) domain.MarketState {
		week := int(asOf.Sub(origin).Hours() / 24 / 7)
		if (week+rank[ticker])%3 == 0 {
			return domain.StateN2
		}
		return domain.StateP1
	}}

	cfg := jan2024()
	cfg.Start = day(2021, 1, 4)
	cfg.End = day(2021, 12, 31)
	cfg.PositionSizePct = 30

	res := run(t, cfg, h, universe, WithClassifier(cls))

	require.Len(t, res.Equity, len(res.Checkpoints))
	require.GreaterOrEqual(t, len(res.Trades), 20)

	for _, e := range res.Equity {
		assert.GreaterOrEqual(t, e.Cash, 0.0, "negative cash at %s", e.Date)
		assert.InDelta(t, e.Value, e.Cash+e.Invested, 1e-6, "sample %s", e.Date)
	}

	cash := res.StartingCash
	for _, e := range res.Entries {
		v := e.Price * float64(e.Shares)
		if e.Action == domain.ActionBuy {
			cash -= v
		} else {
			cash += v
		}
	}
	assert.InDelta(t, res.FinalCash, cash, 1e-6)

	value := res.FinalCash
	for _, p := range res.OpenPositions {
		value += p.MarketValue()
	}
	assert.InDelta(t, res.FinalValue(), value, 1e-6)
}

func TestReplayIsByteIdentical(t *testing.T) {
	h, universe := wavyHistory()

	render := func(workers int) (string, string) {
		cfg := wavyConfig()
		cfg.Workers = workers
		res := run(t, cfg, h, universe, WithClassifier(wavyClassifier()))
		var ledger, equity bytes.Buffer
		require.NoError(t, report.WriteLedgerCSV(&ledger, res.Entries))
		require.NoError(t, report.WriteEquityCSV(&equity, res.Equity))
		return ledger.String(), equity.String()
	}

	l1, e1 := render(1)
	l2, e2 := render(8)
	assert.Equal(t, l1, l2)
	assert.Equal(t, e1, e2)
}

// ---------------------------------------------------------------------------
// Configuration errors
// ---------------------------------------------------------------------------

func TestNewRejectsBadInputs(t *testing.T) {
	h := flatHistory(map[string]float64{"AAA": 10})

	tests := []struct {
		name     string
		mutate   func(*Config)
		history  domain.PriceHistory
		universe []string
	}{
		{name: "end before start", mutate: func(c *Config) { c.End = c.Start.AddDate(0, 0, -1) }},
		{name: "negative size", mutate: func(c *Config) { c.PositionSizePct = -1 }},
		{name: "size over 100", mutate: func(c *Config) { c.PositionSizePct = 101 }},
		{name: "negative allocation", mutate: func(c *Config) { c.Allocations = map[string]float64{"AAA": -5} }},
		{name: "zero cash", mutate: func(c *Config) { c.StartingCash = 0 }},
		{name: "no sell states", mutate: func(c *Config) { c.Exit.SellStates = nil }},
		{name: "bad cadence", mutate: func(c *Config) { c.Cadence = "whenever" }},
		{name: "no checkpoints", mutate: func(c *Config) { c.Start, c.End = day(2024, 1, 8), day(2024, 1, 10) }},
		{name: "empty universe", universe: []string{}},
		{name: "empty history", history: domain.PriceHistory{}},
		{name: "bad prices", history: domain.PriceHistory{"AAA": {{Symbol: "AAA", Timestamp: day(2024, 1, 2), Close: -1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := jan2024()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			hist := h
			if tt.history != nil {
				hist = tt.history
			}
			universe := []string{"AAA"}
			if tt.universe != nil {
				universe = tt.universe
			}
			_, err := New(cfg, hist, universe)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	eng, err := New(jan2024(), flatHistory(map[string]float64{"AAA": 10}), []string{"AAA"},
		WithClassifier(always(domain.StateP1)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = eng.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCheckpoints(t *testing.T) {
	eng, err := New(jan2024(), flatHistory(map[string]float64{"AAA": 10}), []string{"AAA"})
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		day(2024, 1, 5), day(2024, 1, 12), day(2024, 1, 19), day(2024, 1, 26), day(2024, 2, 2),
	}, eng.Checkpoints())
}
