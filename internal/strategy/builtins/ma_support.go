// Package builtins provides built-in classifier implementations that ship
// with stockscan.
package builtins

import (
	"time"

	"stockscan/internal/domain"
	"stockscan/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Classifier = (*MASupport)(nil)

// MASupport classifies by price against the long moving average, short-term
// momentum and distance from the support level:
//
//	above long MA, momentum up, near support   -> P1
//	above long MA otherwise                    -> P2
//	at/below long MA, momentum not negative    -> N1
//	at/below long MA, momentum negative        -> N2
type MASupport struct {
	params strategy.Params
}

// NewMASupport creates a MASupport classifier with the given thresholds.
func NewMASupport(p strategy.Params) *MASupport {
	return &MASupport{params: p}
}

// Name returns "ma-support".
func (c *MASupport) Name() string {
	return "ma-support"
}

// Classify evaluates bars truncated at asOf.
func (c *MASupport) Classify(ticker string, bars []domain.Bar, asOf time.Time) (domain.Signal, bool) {
	sig, _, ok := strategy.Measure(ticker, bars, asOf, c.params)
	if !ok {
		return domain.Signal{}, false
	}
	sig.State = stateFor(sig.Close > sig.LongMA, sig, c.params)
	return sig, true
}

// stateFor applies the shared four-way split given whether the trend test
// passed.
func stateFor(uptrend bool, sig domain.Signal, p strategy.Params) domain.MarketState {
	switch {
	case uptrend && sig.MomentumPct > p.P1MinMomentumPct && sig.DistanceToSupportPct <= p.P1MaxSupportDistancePct:
		return domain.StateP1
	case uptrend:
		return domain.StateP2
	case sig.MomentumPct >= p.N2MaxMomentumPct:
		return domain.StateN1
	default:
		return domain.StateN2
	}
}

// Register adds every built-in classifier to r using the same thresholds.
func Register(r *strategy.Registry, p strategy.Params) {
	r.Register(NewMASupport(p))
	r.Register(NewSMACross(20, 50, p))
}
