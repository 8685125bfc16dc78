package scanner

import (
	"fmt"
	"sort"

	"stockscan/internal/domain"
)

// EntryFilter admits P1 signals no further than MaxSupportDistancePct above
// support. A very large threshold such as 999 admits every P1.
type EntryFilter struct {
	MaxSupportDistancePct float64
}

// Admits reports whether sig passes the filter.
func (f EntryFilter) Admits(sig domain.Signal) bool {
	return sig.State == domain.StateP1 && sig.DistanceToSupportPct <= f.MaxSupportDistancePct
}

// Apply returns the admitted signals in input order. The input is not
// modified.
func (f EntryFilter) Apply(signals []domain.Signal) []domain.Signal {
	var out []domain.Signal
	for _, s := range signals {
		if f.Admits(s) {
			out = append(out, s)
		}
	}
	return out
}

// TieBreak orders entry candidates competing for the same cash.
type TieBreak string

const (
	// TieBreakTicker buys in alphabetical ticker order.
	TieBreakTicker TieBreak = "ticker"
	// TieBreakSupportDistance buys the candidate closest to support first,
	// then by ticker.
	TieBreakSupportDistance TieBreak = "support_distance"
)

// ParseTieBreak accepts "" as TieBreakTicker.
func ParseTieBreak(v string) (TieBreak, error) {
	switch TieBreak(v) {
	case "", TieBreakTicker:
		return TieBreakTicker, nil
	case TieBreakSupportDistance:
		return TieBreakSupportDistance, nil
	}
	return "", fmt.Errorf("unknown tie break %q", v)
}

// Order sorts candidates in place by tb. The order is total, so equal
// inputs always produce the same sequence.
func (tb TieBreak) Order(candidates []domain.Signal) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if tb == TieBreakSupportDistance && a.DistanceToSupportPct != b.DistanceToSupportPct {
			return a.DistanceToSupportPct < b.DistanceToSupportPct
		}
		return a.Ticker < b.Ticker
	})
}
