package us

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"stockscan/internal/metrics"
	"stockscan/internal/store"
	"stockscan/internal/universe"
	"stockscan/internal/util"
)

type fetchCall struct {
	symbols []string
	start   time.Time
}

// fakeFetcher serves bars from memory and records every call.
type fakeFetcher struct {
	mu    sync.Mutex
	data  map[string][]marketdata.Bar
	fail  map[string]bool
	calls []fetchCall
}

func (f *fakeFetcher) GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fetchCall{symbols: append([]string(nil), symbols...), start: req.Start})

	out := make(map[string][]marketdata.Bar)
	for _, sym := range symbols {
		if f.fail[sym] {
			return nil, fmt.Errorf("%w: upstream rejected %s", util.ErrPermanent, sym)
		}
		for _, b := range f.data[sym] {
			if !b.Timestamp.Before(req.Start) && b.Timestamp.Before(req.End) {
				out[sym] = append(out[sym], b)
			}
		}
	}
	return out, nil
}

func (f *fakeFetcher) reset() []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := f.calls
	f.calls = nil
	sort.Slice(calls, func(i, j int) bool { return calls[i].symbols[0] < calls[j].symbols[0] })
	return calls
}

// sessionBars returns one bar per listed January 2024 day, stamped at
// midnight New York time like the API does.
func sessionBars(days ...int) []marketdata.Bar {
	out := make([]marketdata.Bar, 0, len(days))
	for _, d := range days {
		out = append(out, marketdata.Bar{
			Timestamp: time.Date(2024, 1, d, 5, 0, 0, 0, time.UTC),
			Open:      100,
			High:      101,
			Low:       99,
			Close:     100 + float64(d),
		})
	}
	return out
}

func fixedEnd(t time.Time) Option {
	return WithEndDate(func(context.Context) (time.Time, error) { return t, nil })
}

func jan(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

func TestDailyBarGathererName(t *testing.T) {
	g := NewDailyBarGatherer(&fakeFetcher{}, store.NewMemoryStore(), universe.Static{}, t.TempDir(), DailyBarConfig{})
	if got := g.Name(); got != "us-alpaca-data" {
		t.Errorf("Name() = %q, want %q", got, "us-alpaca-data")
	}
}

func TestDailyBarGathererIncremental(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{data: map[string][]marketdata.Bar{
		"AAA": sessionBars(2, 3, 4, 5, 8, 9, 10),
		"BBB": sessionBars(2, 3, 4, 5, 8, 9, 10),
	}}
	bars := store.NewMemoryStore()
	stateDir := t.TempDir()
	cfg := DailyBarConfig{Start: jan(1), BatchSize: 2, MaxWorkers: 2}
	syms := universe.Static{"AAA", "BBB", "ZZZ"}

	g := NewDailyBarGatherer(fetcher, bars, syms, stateDir, cfg, fixedEnd(jan(5)), WithLogger(util.Discard()))
	if err := g.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	calls := fetcher.reset()
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}
	got, err := bars.ReadBars(ctx, "AAA", "us", jan(1), jan(31))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d AAA bars through Jan 5, want 4", len(got))
	}
	if !got[0].Timestamp.Equal(jan(2)) {
		t.Errorf("first bar at %v, want %v (UTC midnight)", got[0].Timestamp, jan(2))
	}

	// Same end date: nothing to do.
	if err := g.Run(ctx); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if calls := fetcher.reset(); len(calls) != 0 {
		t.Errorf("repeat run made %d calls, want 0", len(calls))
	}

	// A later end date fetches stored symbols from the day after the last
	// pass and retries symbols that had no data.
	g = NewDailyBarGatherer(fetcher, bars, syms, stateDir, cfg, fixedEnd(jan(10)), WithLogger(util.Discard()))
	if err := g.Run(ctx); err != nil {
		t.Fatalf("third Run: %v", err)
	}
	calls = fetcher.reset()
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}
	if calls[0].symbols[0] != "AAA" || !calls[0].start.Equal(jan(6)) {
		t.Errorf("stored symbols fetched %v from %v, want [AAA BBB] from Jan 6", calls[0].symbols, calls[0].start)
	}
	if calls[1].symbols[0] != "ZZZ" || !calls[1].start.Equal(jan(1)) {
		t.Errorf("new symbol fetched %v from %v, want [ZZZ] from Jan 1", calls[1].symbols, calls[1].start)
	}

	got, _ = bars.ReadBars(ctx, "BBB", "us", jan(1), jan(31))
	if len(got) != 7 {
		t.Errorf("got %d BBB bars, want 7", len(got))
	}
}

func TestDailyBarGathererFailedBatchIsRetried(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{
		data: map[string][]marketdata.Bar{"AAA": sessionBars(2, 3)},
		fail: map[string]bool{"BAD": true},
	}
	bars := store.NewMemoryStore()
	stateDir := t.TempDir()
	m := metrics.New(prometheus.NewRegistry())
	cfg := DailyBarConfig{Start: jan(1), BatchSize: 1, MaxWorkers: 1}
	syms := universe.Static{"AAA", "BAD", "ZZZ"}

	g := NewDailyBarGatherer(fetcher, bars, syms, stateDir, cfg, fixedEnd(jan(3)), WithMetrics(m), WithLogger(util.Discard()))
	if err := g.Run(ctx); err == nil {
		t.Fatal("Run succeeded with a failing batch")
	}
	if got := testutil.ToFloat64(m.GatherBatches.WithLabelValues("error")); got != 1 {
		t.Errorf("error batches = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.BarsWritten); got != 2 {
		t.Errorf("bars written = %v, want 2", got)
	}
	if len(fetcher.reset()) != 3 {
		t.Fatal("want one call per symbol")
	}

	fetcher.fail = nil
	if err := g.Run(ctx); err != nil {
		t.Fatalf("resumed Run: %v", err)
	}
	for _, c := range fetcher.reset() {
		if c.symbols[0] == "ZZZ" {
			t.Error("symbol with no data was fetched again in the same pass")
		}
	}

	prog, err := loadProgress(stateDir)
	if err != nil {
		t.Fatalf("loadProgress: %v", err)
	}
	if got := prog.LastCompleted(); got != "2024-01-03" {
		t.Errorf("LastCompleted = %q, want 2024-01-03", got)
	}
}

func TestProgress(t *testing.T) {
	dir := t.TempDir()
	p, err := loadProgress(dir)
	if err != nil {
		t.Fatalf("loadProgress: %v", err)
	}
	if p.LastCompleted() != "" {
		t.Errorf("fresh LastCompleted = %q, want empty", p.LastCompleted())
	}
	if err := p.Begin("2024-01-05"); err != nil {
		t.Fatal(err)
	}
	if err := p.MarkEmpty([]string{"ZZZ", "YYY"}); err != nil {
		t.Fatal(err)
	}

	p, err = loadProgress(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !p.IsEmpty("ZZZ") || !p.IsEmpty("YYY") || p.IsEmpty("AAA") {
		t.Error("empty set not restored")
	}

	// Resuming the same pass keeps the set; a new pass clears it.
	if err := p.Begin("2024-01-05"); err != nil {
		t.Fatal(err)
	}
	if !p.IsEmpty("ZZZ") {
		t.Error("Begin with the same end date cleared the empty set")
	}
	if err := p.Begin("2024-01-08"); err != nil {
		t.Fatal(err)
	}
	if p.IsEmpty("ZZZ") {
		t.Error("Begin with a new end date kept the empty set")
	}

	if err := p.Complete("2024-01-08"); err != nil {
		t.Fatal(err)
	}
	p, _ = loadProgress(dir)
	if got := p.LastCompleted(); got != "2024-01-08" {
		t.Errorf("LastCompleted = %q, want 2024-01-08", got)
	}
}

func TestLatestFinishedSession(t *testing.T) {
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	sessions := []string{"2024-01-05", "2024-01-08", "2024-01-09", "2024-01-10"}

	tests := []struct {
		now  time.Time
		want time.Time
	}{
		{time.Date(2024, 1, 10, 15, 0, 0, 0, et), jan(9)},
		{time.Date(2024, 1, 10, 21, 0, 0, 0, et), jan(10)},
		{time.Date(2024, 1, 7, 12, 0, 0, 0, et), jan(5)},
	}
	for _, tt := range tests {
		got, err := LatestFinishedSession(sessions, tt.now)
		if err != nil {
			t.Fatalf("LatestFinishedSession(%v): %v", tt.now, err)
		}
		if !got.Equal(tt.want) {
			t.Errorf("LatestFinishedSession(%v) = %v, want %v", tt.now, got, tt.want)
		}
	}

	if _, err := LatestFinishedSession(nil, time.Now()); err == nil {
		t.Error("want error for an empty calendar")
	}
}
