package domain

import (
	"fmt"
	"sort"
	"time"
)

// PriceHistory holds the pre-loaded daily bars for every ticker of a run,
// keyed by symbol. Each series is ordered by strictly increasing date.
type PriceHistory map[string][]Bar

// Symbols returns the tickers in the history, sorted.
func (h PriceHistory) Symbols() []string {
	out := make([]string, 0, len(h))
	for sym := range h {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Validate checks that every series is strictly increasing by date with no
// duplicates and no non-positive closes.
func (h PriceHistory) Validate() error {
	for _, sym := range h.Symbols() {
		bars := h[sym]
		for i := range bars {
			if bars[i].Close <= 0 {
				return fmt.Errorf("%s: non-positive close on %s", sym, bars[i].Timestamp.Format("2006-01-02"))
			}
			if i == 0 {
				continue
			}
			if !DateOf(bars[i].Timestamp).After(DateOf(bars[i-1].Timestamp)) {
				return fmt.Errorf("%s: bars not strictly increasing at %s", sym, bars[i].Timestamp.Format("2006-01-02"))
			}
		}
	}
	return nil
}

// AsOf returns the prefix of bars dated on or before the calendar date of
// asOf. The returned slice aliases bars.
func AsOf(bars []Bar, asOf time.Time) []Bar {
	cutoff := DateOf(asOf).AddDate(0, 0, 1)
	n := sort.Search(len(bars), func(i int) bool {
		return !bars[i].Timestamp.Before(cutoff)
	})
	return bars[:n]
}

// Closes extracts the close prices of bars.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i := range bars {
		out[i] = bars[i].Close
	}
	return out
}
