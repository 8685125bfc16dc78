package strategy

import (
	"time"

	"stockscan/internal/domain"
	"stockscan/internal/indicators"
)

// Params are the tunable classifier thresholds. None of the state boundaries
// are hard-coded; DefaultParams documents the defaults.
type Params struct {
	MAWindows    []int
	LongMAWindow int

	// LookbackDays is the window for the trailing low (52 weeks of sessions).
	LookbackDays int
	// SupportMargin scales the trailing low into the support level.
	SupportMargin float64
	// MomentumDays is the rate-of-change window for short-term momentum.
	MomentumDays int

	P1MinMomentumPct        float64
	P1MaxSupportDistancePct float64
	// N2MaxMomentumPct: below the long MA, momentum under this is N2.
	N2MaxMomentumPct float64

	// MaxStaleDays drops tickers whose last bar is older than this many
	// calendar days at the as-of date. 0 disables the check.
	MaxStaleDays int
}

// DefaultParams returns the documented defaults: 20/50/100/200-day MAs,
// 200-day long MA, 252-session low with a 10% margin, 20-session momentum.
func DefaultParams() Params {
	return Params{
		MAWindows:               []int{20, 50, 100, 200},
		LongMAWindow:            200,
		LookbackDays:            252,
		SupportMargin:           1.10,
		MomentumDays:            20,
		P1MinMomentumPct:        0,
		P1MaxSupportDistancePct: 25,
		N2MaxMomentumPct:        0,
		MaxStaleDays:            7,
	}
}

// Measure computes every Signal field except State for bars truncated at
// asOf, and returns the closes it used. ok is false when no bar exists on or
// before asOf or the last bar is stale.
func Measure(ticker string, bars []domain.Bar, asOf time.Time, p Params) (sig domain.Signal, closes []float64, ok bool) {
	window := domain.AsOf(bars, asOf)
	if len(window) == 0 {
		return domain.Signal{}, nil, false
	}
	last := window[len(window)-1]
	if p.MaxStaleDays > 0 && domain.DaysBetween(last.Timestamp, asOf) > p.MaxStaleDays {
		return domain.Signal{}, nil, false
	}

	closes = domain.Closes(window)
	price := last.Close

	mas := make([]domain.MovingAverage, 0, len(p.MAWindows))
	for _, w := range p.MAWindows {
		mas = append(mas, domain.MovingAverage{Window: w, Value: indicators.SMA(closes, w)})
	}
	longMA := indicators.SMA(closes, p.LongMAWindow)

	low := indicators.Min(closes, p.LookbackDays)
	support := low * p.SupportMargin

	sig = domain.Signal{
		Ticker:               ticker,
		Date:                 domain.DateOf(last.Timestamp),
		Close:                price,
		MovingAverages:       mas,
		LongMA:               longMA,
		Low:                  low,
		Support:              support,
		DistanceToSupportPct: indicators.PctDistance(price, support),
		DistanceToLongMAPct:  indicators.PctDistance(price, longMA),
		MomentumPct:          indicators.ROC(closes, p.MomentumDays),
		Rows:                 len(closes),
		Degraded:             len(closes) < p.LookbackDays,
	}
	return sig, closes, true
}
