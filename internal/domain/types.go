// Package domain defines the core record types shared across stockscan:
// daily bars, market-state signals, positions, closed trades, ledger rows and
// equity samples.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Market identifies the exchange group a symbol trades on.
type Market string

// MarketUS is the only market the bar store is populated for today.
const MarketUS Market = "us"

// ---------------------------------------------------------------------------
// Price data
// ---------------------------------------------------------------------------

// Bar is one trading day of OHLCV data for a single symbol. Timestamp holds
// the trading date at UTC midnight.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// ---------------------------------------------------------------------------
// Market state
// ---------------------------------------------------------------------------

// MarketState is the trend/momentum regime of a ticker at a point in time.
type MarketState string

const (
	// StateP1 is the strong bullish buy zone: uptrend and near support.
	StateP1 MarketState = "P1"
	// StateP2 is a bullish consolidation: established uptrend, not a fresh entry.
	StateP2 MarketState = "P2"
	// StateN1 is early weakness: hold if already in.
	StateN1 MarketState = "N1"
	// StateN2 is a confirmed downtrend: sell zone.
	StateN2 MarketState = "N2"
)

// Valid reports whether s is one of the four canonical states.
func (s MarketState) Valid() bool {
	switch s {
	case StateP1, StateP2, StateN1, StateN2:
		return true
	}
	return false
}

// Bullish reports whether s is P1 or P2.
func (s MarketState) Bullish() bool {
	return s == StateP1 || s == StateP2
}

// ParseMarketState parses a state label case-insensitively.
func ParseMarketState(v string) (MarketState, error) {
	s := MarketState(strings.ToUpper(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown market state %q", v)
	}
	return s, nil
}

// MovingAverage is a trailing simple mean over Window closes.
type MovingAverage struct {
	Window int
	Value  float64
}

// Signal is the classifier output for one ticker at one checkpoint.
type Signal struct {
	Ticker string
	Date   time.Time // date of the last bar used
	State  MarketState
	Close  float64

	MovingAverages []MovingAverage
	LongMA         float64

	Low                  float64 // trailing-window minimum close
	Support              float64
	DistanceToSupportPct float64
	DistanceToLongMAPct  float64
	MomentumPct          float64

	Rows     int  // bars used
	Degraded bool // fewer bars than the ideal lookback
}

// MA returns the moving average for window, if it was computed.
func (s Signal) MA(window int) (float64, bool) {
	for _, ma := range s.MovingAverages {
		if ma.Window == window {
			return ma.Value, true
		}
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// Portfolio records
// ---------------------------------------------------------------------------

// Position is an open long holding. At most one exists per ticker.
type Position struct {
	Ticker        string
	EntryDate     time.Time
	EntryPrice    float64
	Shares        int64
	EntryState    MarketState
	AllocationPct float64
	CostBasis     float64

	// Most recent mark-to-market price and the checkpoint it was taken at.
	LastPrice  float64
	LastMarked time.Time
}

// MarketValue is Shares at the last mark.
func (p Position) MarketValue() float64 {
	return float64(p.Shares) * p.LastPrice
}

// UnrealizedPnL is the mark-to-market gain over cost basis.
func (p Position) UnrealizedPnL() float64 {
	return p.MarketValue() - p.CostBasis
}

// Trade is an immutable record of a closed position.
type Trade struct {
	Ticker     string
	EntryDate  time.Time
	EntryPrice float64
	ExitDate   time.Time
	ExitPrice  float64
	Shares     int64
	PnL        float64
	PnLPct     float64
	HoldDays   int
	HoldWeeks  float64
	EntryState MarketState
	ExitState  MarketState
	ExitReason string
}

// Action is the side of a ledger entry.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// LedgerEntry is one row of the trade ledger: a BUY or a SELL event.
// EntryDate and PnLPct are only meaningful for SELL rows.
type LedgerEntry struct {
	Action     Action
	Ticker     string
	Date       time.Time
	Price      float64
	Shares     int64
	Value      float64
	EntryDate  time.Time
	PnLPct     float64
	HoldDays   int
	EntryState MarketState
	ExitReason string
}

// EquitySample is the portfolio value recorded at one checkpoint.
type EquitySample struct {
	Date          time.Time
	Value         float64
	Cash          float64
	Invested      float64
	OpenPositions int
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// DateOf truncates t to its calendar date at UTC midnight.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns whole calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)).Hours() / 24)
}
