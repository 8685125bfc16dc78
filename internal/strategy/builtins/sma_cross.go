package builtins

import (
	"time"

	"stockscan/internal/domain"
	"stockscan/internal/indicators"
	"stockscan/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Classifier = (*SMACross)(nil)

// SMACross classifies by the relation of a short-period SMA to a long-period
// SMA instead of price against the long MA. Momentum and support thresholds
// are shared with MASupport. The signal's LongMA is the long-period SMA so
// exit rules compare against the same average that drove the state.
type SMACross struct {
	shortPeriod int
	longPeriod  int
	params      strategy.Params
}

// NewSMACross creates a new SMACross classifier with the specified short and
// long moving average periods.
func NewSMACross(short, long int, p strategy.Params) *SMACross {
	return &SMACross{
		shortPeriod: short,
		longPeriod:  long,
		params:      p,
	}
}

// Name returns "sma-cross".
func (s *SMACross) Name() string {
	return "sma-cross"
}

// Classify evaluates bars truncated at asOf.
func (s *SMACross) Classify(ticker string, bars []domain.Bar, asOf time.Time) (domain.Signal, bool) {
	sig, closes, ok := strategy.Measure(ticker, bars, asOf, s.params)
	if !ok {
		return domain.Signal{}, false
	}
	short := indicators.SMA(closes, s.shortPeriod)
	long := indicators.SMA(closes, s.longPeriod)

	sig.LongMA = long
	sig.DistanceToLongMAPct = indicators.PctDistance(sig.Close, long)
	sig.State = stateFor(short > long, sig, s.params)
	return sig, true
}
