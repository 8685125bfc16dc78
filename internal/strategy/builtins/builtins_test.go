package builtins

import (
	"reflect"
	"testing"
	"time"

	"stockscan/internal/domain"
	"stockscan/internal/strategy"
)

var seriesStart = time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC) // a Monday

// weekdayBars builds one bar per weekday starting at seriesStart.
func weekdayBars(sym string, closes []float64) []domain.Bar {
	bars := make([]domain.Bar, 0, len(closes))
	d := seriesStart
	for _, c := range closes {
		for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			d = d.AddDate(0, 0, 1)
		}
		bars = append(bars, domain.Bar{Symbol: sym, Timestamp: d, Open: c, High: c, Low: c, Close: c})
		d = d.AddDate(0, 0, 1)
	}
	return bars
}

func linear(from, to float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = from + (to-from)*float64(i)/float64(n-1)
	}
	return out
}

func lastDate(bars []domain.Bar) time.Time {
	return bars[len(bars)-1].Timestamp
}

func TestMASupport_StrongUptrendNearSupportIsP1(t *testing.T) {
	bars := weekdayBars("AAPL", linear(100, 300, 756))
	c := NewMASupport(strategy.DefaultParams())

	sig, ok := c.Classify("AAPL", bars, bars[30].Timestamp)
	if !ok {
		t.Fatal("Classify returned ok=false")
	}
	if sig.State != domain.StateP1 {
		t.Errorf("state at day 30 = %s, want P1 (close %.2f, longMA %.2f, dist %.2f%%)",
			sig.State, sig.Close, sig.LongMA, sig.DistanceToSupportPct)
	}
	if sig.Rows != 31 {
		t.Errorf("Rows = %d, want 31", sig.Rows)
	}
}

func TestMASupport_ExtendedUptrendIsP2(t *testing.T) {
	bars := weekdayBars("AAPL", linear(100, 300, 300))
	c := NewMASupport(strategy.DefaultParams())

	sig, ok := c.Classify("AAPL", bars, lastDate(bars))
	if !ok {
		t.Fatal("Classify returned ok=false")
	}
	if sig.State != domain.StateP2 {
		t.Errorf("state = %s, want P2 (dist to support %.2f%%)", sig.State, sig.DistanceToSupportPct)
	}
	if sig.Degraded {
		t.Error("Degraded = true with 300 rows")
	}
}

func TestMASupport_DowntrendIsN2(t *testing.T) {
	bars := weekdayBars("XYZ", linear(300, 100, 300))
	c := NewMASupport(strategy.DefaultParams())

	sig, ok := c.Classify("XYZ", bars, lastDate(bars))
	if !ok {
		t.Fatal("Classify returned ok=false")
	}
	if sig.State != domain.StateN2 {
		t.Errorf("state = %s, want N2", sig.State)
	}
	if sig.Close >= sig.LongMA {
		t.Errorf("close %.2f should be below long MA %.2f", sig.Close, sig.LongMA)
	}
}

func TestMASupport_BounceBelowLongMAIsN1(t *testing.T) {
	closes := append(linear(200, 100, 100), linear(101, 105, 10)...)
	bars := weekdayBars("XYZ", closes)
	p := strategy.DefaultParams()
	p.MomentumDays = 5
	c := NewMASupport(p)

	sig, ok := c.Classify("XYZ", bars, lastDate(bars))
	if !ok {
		t.Fatal("Classify returned ok=false")
	}
	if sig.State != domain.StateN1 {
		t.Errorf("state = %s, want N1 (momentum %.2f%%)", sig.State, sig.MomentumPct)
	}
}

func TestMASupport_ThresholdsAreConfigurable(t *testing.T) {
	bars := weekdayBars("AAPL", linear(100, 300, 300))
	p := strategy.DefaultParams()
	p.P1MaxSupportDistancePct = 999
	c := NewMASupport(p)

	sig, _ := c.Classify("AAPL", bars, lastDate(bars))
	if sig.State != domain.StateP1 {
		t.Errorf("state with support threshold 999 = %s, want P1", sig.State)
	}
}

func TestMASupport_Deterministic(t *testing.T) {
	closes := append(linear(100, 180, 200), linear(180, 120, 150)...)
	bars := weekdayBars("AAPL", closes)
	c := NewMASupport(strategy.DefaultParams())

	for i := 0; i < len(bars); i += 17 {
		asOf := bars[i].Timestamp
		a, okA := c.Classify("AAPL", bars, asOf)
		b, okB := c.Classify("AAPL", bars, asOf)
		if okA != okB || !reflect.DeepEqual(a, b) {
			t.Fatalf("Classify not deterministic at %s:\n  %+v\n  %+v", asOf.Format("2006-01-02"), a, b)
		}
	}
}

func TestMASupport_NoSignalBeforeData(t *testing.T) {
	bars := weekdayBars("AAPL", linear(100, 110, 20))
	c := NewMASupport(strategy.DefaultParams())

	if _, ok := c.Classify("AAPL", bars, seriesStart.AddDate(0, 0, -1)); ok {
		t.Error("Classify before the first bar should return ok=false")
	}
}

func TestSMACross(t *testing.T) {
	c := NewSMACross(20, 50, strategy.DefaultParams())
	if c.Name() != "sma-cross" {
		t.Errorf("Name() = %q, want %q", c.Name(), "sma-cross")
	}

	up := weekdayBars("UP", linear(100, 130, 120))
	sig, ok := c.Classify("UP", up, lastDate(up))
	if !ok || !sig.State.Bullish() {
		t.Errorf("uptrend state = %s (ok=%v), want P1 or P2", sig.State, ok)
	}

	down := weekdayBars("DN", linear(130, 100, 120))
	sig, ok = c.Classify("DN", down, lastDate(down))
	if !ok || sig.State != domain.StateN2 {
		t.Errorf("downtrend state = %s (ok=%v), want N2", sig.State, ok)
	}
}

func TestRegister(t *testing.T) {
	r := strategy.NewRegistry()
	Register(r, strategy.DefaultParams())

	names := r.List()
	if !reflect.DeepEqual(names, []string{"ma-support", "sma-cross"}) {
		t.Errorf("List() = %v, want [ma-support sma-cross]", names)
	}
}
