package portfolio

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInsufficientFunds: available cash is below the computed position
	// value. Nothing is recorded.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrZeroShares: the position value buys less than one share. The buy
	// is skipped, not failed.
	ErrZeroShares = errors.New("position value buys zero shares")
	// ErrPositionOpen: a buy on a ticker that is already held.
	ErrPositionOpen = errors.New("position already open")
	// ErrNoPosition: a sell on a ticker that is not held.
	ErrNoPosition = errors.New("no open position")
	// ErrInvalidPrice: a non-positive trade price.
	ErrInvalidPrice = errors.New("price must be positive")
	// ErrConsistency is wrapped by every *ConsistencyError.
	ErrConsistency = errors.New("ledger consistency violation")
)

// ConsistencyError reports a broken ledger invariant at a checkpoint.
// Ticker is empty when the violation is portfolio-wide.
type ConsistencyError struct {
	Checkpoint time.Time
	Ticker     string
	Reason     string
}

func (e *ConsistencyError) Error() string {
	at := e.Checkpoint.Format("2006-01-02")
	if e.Ticker == "" {
		return fmt.Sprintf("%s at %s: %s", ErrConsistency, at, e.Reason)
	}
	return fmt.Sprintf("%s at %s (%s): %s", ErrConsistency, at, e.Ticker, e.Reason)
}

func (e *ConsistencyError) Unwrap() error { return ErrConsistency }
