package stockscan

import (
	"encoding/json"
	"time"
)

// Run is the stored header of one backtest run.
type Run struct {
	ID             string    `json:"id"`
	Strategy       string    `json:"strategy"`
	StartDate      string    `json:"startDate"`
	EndDate        string    `json:"endDate"`
	CreatedAt      time.Time `json:"createdAt"`
	StartingValue  float64   `json:"startingValue"`
	FinalValue     float64   `json:"finalValue"`
	TotalReturnPct float64   `json:"totalReturnPct"`
	Trades         int       `json:"trades"`
	// Summary is the run's summary record, present on single-run responses.
	Summary json.RawMessage `json:"summary,omitempty"`
}

// LedgerEntry is one BUY or SELL row.
type LedgerEntry struct {
	Action     string  `json:"action"`
	Ticker     string  `json:"ticker"`
	Date       string  `json:"date"`
	Price      float64 `json:"price"`
	Shares     int64   `json:"shares"`
	Value      float64 `json:"value"`
	EntryDate  string  `json:"entryDate,omitempty"`
	PnLPct     float64 `json:"pnlPct,omitempty"`
	HoldDays   int     `json:"holdDays,omitempty"`
	EntryState string  `json:"entryState,omitempty"`
	ExitReason string  `json:"exitReason,omitempty"`
}

// EquityPoint is the portfolio value at one checkpoint.
type EquityPoint struct {
	Date          string  `json:"date"`
	Value         float64 `json:"value"`
	Cash          float64 `json:"cash"`
	Invested      float64 `json:"invested"`
	OpenPositions int     `json:"openPositions"`
}

// Signal is one scanner row.
type Signal struct {
	Ticker               string             `json:"ticker"`
	Date                 string             `json:"date"`
	State                string             `json:"state"`
	Close                float64            `json:"close"`
	MovingAverages       map[string]float64 `json:"movingAverages,omitempty"` // window -> value
	LongMA               float64            `json:"longMA"`
	Support              float64            `json:"support"`
	DistanceToSupportPct float64            `json:"distanceToSupportPct"`
	MomentumPct          float64            `json:"momentumPct"`
	Rows                 int                `json:"rows"`
	Degraded             bool               `json:"degraded,omitempty"`
}

// RunRequest starts a backtest. Unset fields keep the server's configured
// values.
type RunRequest struct {
	Strategy              string             `json:"strategy,omitempty"`
	StartDate             string             `json:"startDate,omitempty"`
	EndDate               string             `json:"endDate,omitempty"`
	StartingCash          *float64           `json:"startingCash,omitempty"`
	PositionSizePct       *float64           `json:"positionSizePct,omitempty"`
	MaxSupportDistancePct *float64           `json:"maxSupportDistancePct,omitempty"`
	MaxPositions          *int               `json:"maxPositions,omitempty"`
	Allocations           map[string]float64 `json:"allocations,omitempty"`
	CloseAtEnd            *bool              `json:"closeAtEnd,omitempty"`
}

// RunStats are the recoverable-condition counts of a finished run.
type RunStats struct {
	Checkpoints       int `json:"checkpoints"`
	DataGaps          int `json:"dataGaps"`
	DegradedSignals   int `json:"degradedSignals"`
	FundingRejections int `json:"fundingRejections"`
	ZeroShareSkips    int `json:"zeroShareSkips"`
	CapacitySkips     int `json:"capacitySkips"`
}

// RunResponse is returned when a run finishes.
type RunResponse struct {
	Run   Run      `json:"run"`
	Stats RunStats `json:"stats"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
