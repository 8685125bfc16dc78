package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"stockscan/internal/domain"
)

var _ BarStore = (*MemoryStore)(nil)

// MemoryStore is a BarStore held in memory. WriteBars files bars under
// Market.
type MemoryStore struct {
	Market string

	mu   sync.RWMutex
	bars map[string]map[string][]domain.Bar // market -> symbol -> bars
}

// NewMemoryStore returns an empty MemoryStore for the US market.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{Market: string(domain.MarketUS), bars: make(map[string]map[string][]domain.Bar)}
}

// WriteBars merges bars by (symbol, timestamp), newer writes winning.
func (m *MemoryStore) WriteBars(_ context.Context, bars []domain.Bar) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	market := m.bars[m.Market]
	if market == nil {
		market = make(map[string][]domain.Bar)
		m.bars[m.Market] = market
	}
	for _, b := range bars {
		sym := strings.ToUpper(b.Symbol)
		market[sym] = append(market[sym], b)
	}
	for sym, series := range market {
		market[sym] = normalizeBars(series)
	}
	return nil
}

// ReadBars returns a copy of the bars for symbol within [start, end].
func (m *MemoryStore) ReadBars(_ context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Bar
	for _, b := range m.bars[market][strings.ToUpper(symbol)] {
		if b.Timestamp.Before(start) || b.Timestamp.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// ListSymbols returns the sorted symbols held for market.
func (m *MemoryStore) ListSymbols(_ context.Context, market string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	symbols := make([]string, 0, len(m.bars[market]))
	for sym := range m.bars[market] {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols, nil
}
