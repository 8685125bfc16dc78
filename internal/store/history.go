package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"stockscan/internal/domain"
)

// LoadHistory reads [start, end] for every symbol into a PriceHistory.
// Bars are sorted, duplicate dates keep the last bar read, and symbols with
// no bars in range are left out. The result is validated.
func LoadHistory(ctx context.Context, bs BarStore, market domain.Market, symbols []string, start, end time.Time) (domain.PriceHistory, error) {
	h := make(domain.PriceHistory, len(symbols))
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bars, err := bs.ReadBars(ctx, sym, string(market), start, end)
		if err != nil {
			return nil, fmt.Errorf("reading bars for %s: %w", sym, err)
		}
		if bars = normalizeBars(bars); len(bars) > 0 {
			h[sym] = bars
		}
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}

// normalizeBars moves timestamps to UTC midnight, sorts by date and drops
// earlier duplicates of the same date.
func normalizeBars(bars []domain.Bar) []domain.Bar {
	out := make([]domain.Bar, len(bars))
	for i, b := range bars {
		b.Timestamp = domain.DateOf(b.Timestamp)
		out[i] = b
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })

	dedup := out[:0]
	for _, b := range out {
		if n := len(dedup); n > 0 && dedup[n-1].Timestamp.Equal(b.Timestamp) {
			dedup[n-1] = b
			continue
		}
		dedup = append(dedup, b)
	}
	return dedup
}
