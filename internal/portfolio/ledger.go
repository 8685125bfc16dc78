// Package portfolio is the simulated long-only account of a backtest: cash,
// open positions, closed trades, the trade ledger and the equity curve.
// Cash is held as a decimal so the ledger reconciles exactly.
package portfolio

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"stockscan/internal/domain"
)

// Sizing decides how much capital a new position gets: StartingCash times
// the ticker's allocation percentage, taken from Allocations when present
// and DefaultPct otherwise.
type Sizing struct {
	StartingCash float64
	DefaultPct   float64
	Allocations  map[string]float64
}

// AllocationPct returns the percentage of starting cash assigned to ticker.
func (s Sizing) AllocationPct(ticker string) float64 {
	if pct, ok := s.Allocations[ticker]; ok {
		return pct
	}
	return s.DefaultPct
}

// PositionValue is the dollar amount a new position in ticker is sized to.
func (s Sizing) PositionValue(ticker string) decimal.Decimal {
	return decimal.NewFromFloat(s.StartingCash).
		Mul(decimal.NewFromFloat(s.AllocationPct(ticker))).
		Div(decimal.NewFromInt(100))
}

type holding struct {
	pos  domain.Position
	cost decimal.Decimal
}

// Ledger is a single-threaded account. Every mutation either completes or
// leaves the ledger untouched.
type Ledger struct {
	sizing Sizing

	start     decimal.Decimal
	cash      decimal.Decimal
	bought    decimal.Decimal
	sold      decimal.Decimal
	positions map[string]*holding

	entries []domain.LedgerEntry
	trades  []domain.Trade
	equity  []domain.EquitySample
}

// New opens an account holding sizing.StartingCash in cash.
func New(sizing Sizing) *Ledger {
	start := decimal.NewFromFloat(sizing.StartingCash)
	return &Ledger{
		sizing:    sizing,
		start:     start,
		cash:      start,
		positions: make(map[string]*holding),
	}
}

// ---------------------------------------------------------------------------
// Transitions
// ---------------------------------------------------------------------------

// Buy opens a position in ticker at price. Shares are the whole number that
// the sized position value buys. Errors leave the ledger unchanged.
func (l *Ledger) Buy(ticker string, date time.Time, price float64, state domain.MarketState) (domain.LedgerEntry, error) {
	if _, open := l.positions[ticker]; open {
		return domain.LedgerEntry{}, fmt.Errorf("buy %s: %w", ticker, ErrPositionOpen)
	}
	if price <= 0 {
		return domain.LedgerEntry{}, fmt.Errorf("buy %s at %v: %w", ticker, price, ErrInvalidPrice)
	}

	px := decimal.NewFromFloat(price)
	value := l.sizing.PositionValue(ticker)
	shares := value.Div(px).Floor().IntPart()
	if shares <= 0 {
		return domain.LedgerEntry{}, fmt.Errorf("buy %s: %s at %s: %w", ticker, value.StringFixed(2), px, ErrZeroShares)
	}
	if l.cash.LessThan(value) {
		return domain.LedgerEntry{}, fmt.Errorf("buy %s: need %s, have %s: %w",
			ticker, value.StringFixed(2), l.cash.StringFixed(2), ErrInsufficientFunds)
	}

	cost := px.Mul(decimal.NewFromInt(shares))
	day := domain.DateOf(date)

	l.cash = l.cash.Sub(cost)
	l.bought = l.bought.Add(cost)
	l.positions[ticker] = &holding{
		cost: cost,
		pos: domain.Position{
			Ticker:        ticker,
			EntryDate:     day,
			EntryPrice:    price,
			Shares:        shares,
			EntryState:    state,
			AllocationPct: l.sizing.AllocationPct(ticker),
			CostBasis:     cost.InexactFloat64(),
			LastPrice:     price,
			LastMarked:    day,
		},
	}

	e := domain.LedgerEntry{
		Action:     domain.ActionBuy,
		Ticker:     ticker,
		Date:       day,
		Price:      price,
		Shares:     shares,
		Value:      cost.InexactFloat64(),
		EntryState: state,
	}
	l.entries = append(l.entries, e)
	return e, nil
}

// Sell closes the whole position in ticker at price and records the trade.
// reason names what triggered the exit.
func (l *Ledger) Sell(ticker string, date time.Time, price float64, state domain.MarketState, reason string) (domain.Trade, error) {
	h, open := l.positions[ticker]
	if !open {
		return domain.Trade{}, fmt.Errorf("sell %s: %w", ticker, ErrNoPosition)
	}
	if price <= 0 {
		return domain.Trade{}, fmt.Errorf("sell %s at %v: %w", ticker, price, ErrInvalidPrice)
	}

	pos := h.pos
	day := domain.DateOf(date)
	proceeds := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(pos.Shares))
	pnl := proceeds.Sub(h.cost)
	pnlPct := 0.0
	if !h.cost.IsZero() {
		pnlPct = pnl.Div(h.cost).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}
	holdDays := domain.DaysBetween(pos.EntryDate, day)

	l.cash = l.cash.Add(proceeds)
	l.sold = l.sold.Add(proceeds)
	delete(l.positions, ticker)

	tr := domain.Trade{
		Ticker:     ticker,
		EntryDate:  pos.EntryDate,
		EntryPrice: pos.EntryPrice,
		ExitDate:   day,
		ExitPrice:  price,
		Shares:     pos.Shares,
		PnL:        pnl.InexactFloat64(),
		PnLPct:     pnlPct,
		HoldDays:   holdDays,
		HoldWeeks:  float64(holdDays) / 7,
		EntryState: pos.EntryState,
		ExitState:  state,
		ExitReason: reason,
	}
	l.trades = append(l.trades, tr)
	l.entries = append(l.entries, domain.LedgerEntry{
		Action:     domain.ActionSell,
		Ticker:     ticker,
		Date:       day,
		Price:      price,
		Shares:     pos.Shares,
		Value:      proceeds.InexactFloat64(),
		EntryDate:  pos.EntryDate,
		PnLPct:     pnlPct,
		HoldDays:   holdDays,
		EntryState: pos.EntryState,
		ExitReason: reason,
	})
	return tr, nil
}

// Mark revalues open positions with prices and appends an equity sample for
// date. A position missing from prices keeps its previous mark.
func (l *Ledger) Mark(date time.Time, prices map[string]float64) domain.EquitySample {
	day := domain.DateOf(date)
	invested := decimal.Zero
	for _, ticker := range l.openTickers() {
		h := l.positions[ticker]
		if p, ok := prices[ticker]; ok && p > 0 {
			h.pos.LastPrice = p
			h.pos.LastMarked = day
		}
		invested = invested.Add(decimal.NewFromFloat(h.pos.LastPrice).Mul(decimal.NewFromInt(h.pos.Shares)))
	}

	s := domain.EquitySample{
		Date:          day,
		Value:         l.cash.Add(invested).InexactFloat64(),
		Cash:          l.cash.InexactFloat64(),
		Invested:      invested.InexactFloat64(),
		OpenPositions: len(l.positions),
	}
	l.equity = append(l.equity, s)
	return s
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Sizing returns the sizing rule the ledger was opened with.
func (l *Ledger) Sizing() Sizing { return l.sizing }

// PositionValue is the value a new position in ticker would be sized to.
func (l *Ledger) PositionValue(ticker string) float64 {
	return l.sizing.PositionValue(ticker).InexactFloat64()
}

// Cash returns available cash.
func (l *Ledger) Cash() float64 { return l.cash.InexactFloat64() }

// StartingCash returns the opening balance.
func (l *Ledger) StartingCash() float64 { return l.start.InexactFloat64() }

// Holds reports whether ticker has an open position.
func (l *Ledger) Holds(ticker string) bool {
	_, ok := l.positions[ticker]
	return ok
}

// Position returns the open position in ticker.
func (l *Ledger) Position(ticker string) (domain.Position, bool) {
	h, ok := l.positions[ticker]
	if !ok {
		return domain.Position{}, false
	}
	return h.pos, true
}

// Positions returns the open positions sorted by ticker.
func (l *Ledger) Positions() []domain.Position {
	out := make([]domain.Position, 0, len(l.positions))
	for _, t := range l.openTickers() {
		out = append(out, l.positions[t].pos)
	}
	return out
}

// Trades returns the closed trades in close order.
func (l *Ledger) Trades() []domain.Trade { return append([]domain.Trade(nil), l.trades...) }

// Entries returns the trade ledger in recorded order.
func (l *Ledger) Entries() []domain.LedgerEntry {
	return append([]domain.LedgerEntry(nil), l.entries...)
}

// Equity returns the equity curve.
func (l *Ledger) Equity() []domain.EquitySample {
	return append([]domain.EquitySample(nil), l.equity...)
}

func (l *Ledger) openTickers() []string {
	out := make([]string, 0, len(l.positions))
	for t := range l.positions {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ---------------------------------------------------------------------------
// Audit
// ---------------------------------------------------------------------------

// Reconcile checks that starting cash minus buys plus sells equals cash,
// both from the running totals and from an independent replay of the
// ledger entries.
func (l *Ledger) Reconcile() error {
	expected := l.start.Sub(l.bought).Add(l.sold)
	if !expected.Equal(l.cash) {
		return fmt.Errorf("%w: cash %s, expected %s from totals", ErrConsistency, l.cash, expected)
	}

	// Value is rounded to float64; price x shares is exact.
	replayed := l.start
	for _, e := range l.entries {
		v := decimal.NewFromFloat(e.Price).Mul(decimal.NewFromInt(e.Shares))
		switch e.Action {
		case domain.ActionBuy:
			replayed = replayed.Sub(v)
		case domain.ActionSell:
			replayed = replayed.Add(v)
		}
	}
	if !replayed.Equal(l.cash) {
		return fmt.Errorf("%w: cash %s, replayed ledger gives %s", ErrConsistency, l.cash, replayed)
	}
	return nil
}

// CheckInvariants verifies the account at a checkpoint: non-negative cash,
// at most one open position per ticker in the replayed ledger, replayed
// holdings matching the open positions, and a reconciled cash balance.
func (l *Ledger) CheckInvariants(checkpoint time.Time) error {
	if l.cash.IsNegative() {
		return &ConsistencyError{Checkpoint: checkpoint, Reason: "cash is negative: " + l.cash.StringFixed(2)}
	}

	open := make(map[string]int64)
	for _, e := range l.entries {
		switch e.Action {
		case domain.ActionBuy:
			if _, dup := open[e.Ticker]; dup {
				return &ConsistencyError{Checkpoint: checkpoint, Ticker: e.Ticker,
					Reason: "bought on " + e.Date.Format("2006-01-02") + " while already holding"}
			}
			open[e.Ticker] = e.Shares
		case domain.ActionSell:
			shares, held := open[e.Ticker]
			if !held {
				return &ConsistencyError{Checkpoint: checkpoint, Ticker: e.Ticker,
					Reason: "sold on " + e.Date.Format("2006-01-02") + " without a position"}
			}
			if shares != e.Shares {
				return &ConsistencyError{Checkpoint: checkpoint, Ticker: e.Ticker,
					Reason: fmt.Sprintf("sold %d shares of %d held", e.Shares, shares)}
			}
			delete(open, e.Ticker)
		}
	}
	if len(open) != len(l.positions) {
		return &ConsistencyError{Checkpoint: checkpoint,
			Reason: fmt.Sprintf("ledger replay holds %d positions, account holds %d", len(open), len(l.positions))}
	}
	for t, h := range l.positions {
		if shares, ok := open[t]; !ok || shares != h.pos.Shares {
			return &ConsistencyError{Checkpoint: checkpoint, Ticker: t, Reason: "open position does not match the ledger"}
		}
	}

	if err := l.Reconcile(); err != nil {
		return &ConsistencyError{Checkpoint: checkpoint, Reason: err.Error()}
	}
	return nil
}
