package backtest

import (
	"errors"
	"fmt"
	"time"

	"stockscan/internal/config"
	"stockscan/internal/domain"
	"stockscan/internal/scanner"
	"stockscan/internal/strategy"
	"stockscan/internal/util"
)

// ErrConfiguration is wrapped by every error that stops a run before its
// first checkpoint.
var ErrConfiguration = errors.New("backtest configuration error")

// Exit reasons recorded on SELL rows.
const (
	ExitReasonEnd = "END_OF_BACKTEST"
)

// ExitReasonSignal is the exit reason for a signal-driven sell in state st.
func ExitReasonSignal(st domain.MarketState) string {
	return "SIGNAL_" + string(st)
}

// ExitRule decides when an open position is sold: the ticker's state is
// one of SellStates and, when RequireBelowLongMA is set, the close is under
// the long moving average.
type ExitRule struct {
	SellStates         []domain.MarketState
	RequireBelowLongMA bool
}

// ShouldExit applies the rule to a fresh signal.
func (r ExitRule) ShouldExit(sig domain.Signal) bool {
	hit := false
	for _, st := range r.SellStates {
		if sig.State == st {
			hit = true
			break
		}
	}
	if !hit {
		return false
	}
	return !r.RequireBelowLongMA || sig.Close < sig.LongMA
}

// Config is the validated, typed parameter set of one run.
type Config struct {
	Start time.Time
	End   time.Time

	StartingCash          float64
	PositionSizePct       float64
	Allocations           map[string]float64
	MaxSupportDistancePct float64
	MaxPositions          int

	// Cadence is a cron expression; empty means every Friday.
	Cadence           string
	TieBreak          scanner.TieBreak
	CloseAtEnd        bool
	EntryOnTransition bool
	Workers           int
	Exit              ExitRule
}

// Validate reports the first invalid field wrapped in ErrConfiguration.
func (c Config) Validate() error {
	switch {
	case c.Start.IsZero() || c.End.IsZero():
		return fmt.Errorf("%w: start and end dates are required", ErrConfiguration)
	case c.End.Before(c.Start):
		return fmt.Errorf("%w: end %s is before start %s", ErrConfiguration,
			c.End.Format(config.DateLayout), c.Start.Format(config.DateLayout))
	case c.StartingCash <= 0:
		return fmt.Errorf("%w: starting cash must be positive, got %v", ErrConfiguration, c.StartingCash)
	case !validPct(c.PositionSizePct):
		return fmt.Errorf("%w: position size %v%% outside [0,100]", ErrConfiguration, c.PositionSizePct)
	case c.MaxSupportDistancePct < 0:
		return fmt.Errorf("%w: max support distance %v%% is negative", ErrConfiguration, c.MaxSupportDistancePct)
	case c.MaxPositions < 0:
		return fmt.Errorf("%w: max positions %d is negative", ErrConfiguration, c.MaxPositions)
	case len(c.Exit.SellStates) == 0:
		return fmt.Errorf("%w: exit rule has no sell states", ErrConfiguration)
	}
	for t, pct := range c.Allocations {
		if !validPct(pct) {
			return fmt.Errorf("%w: allocation for %s %v%% outside [0,100]", ErrConfiguration, t, pct)
		}
	}
	for _, st := range c.Exit.SellStates {
		if !st.Valid() {
			return fmt.Errorf("%w: unknown sell state %q", ErrConfiguration, st)
		}
	}
	if _, err := scanner.ParseTieBreak(string(c.TieBreak)); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if _, err := util.NewCheckpointCalendar(c.Cadence); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return nil
}

func validPct(p float64) bool { return p >= 0 && p <= 100 }

// FromConfig converts the file configuration into the engine Config and
// classifier thresholds.
func FromConfig(bt config.Backtest) (Config, strategy.Params, error) {
	start, err := bt.Start()
	if err != nil {
		return Config{}, strategy.Params{}, fmt.Errorf("%w: start_date: %v", ErrConfiguration, err)
	}
	end, err := bt.End()
	if err != nil {
		return Config{}, strategy.Params{}, fmt.Errorf("%w: end_date: %v", ErrConfiguration, err)
	}
	tb, err := scanner.ParseTieBreak(bt.TieBreak)
	if err != nil {
		return Config{}, strategy.Params{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	exit := ExitRule{RequireBelowLongMA: bt.Exit.RequireBelowLongMA}
	for _, s := range bt.Exit.SellStates {
		st, err := domain.ParseMarketState(s)
		if err != nil {
			return Config{}, strategy.Params{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		exit.SellStates = append(exit.SellStates, st)
	}

	cfg := Config{
		Start:                 start,
		End:                   end,
		StartingCash:          bt.StartingCash,
		PositionSizePct:       bt.PositionSizePct,
		Allocations:           bt.Allocations,
		MaxSupportDistancePct: bt.MaxSupportDistancePct,
		MaxPositions:          bt.MaxPositions,
		Cadence:               bt.Cadence,
		TieBreak:              tb,
		CloseAtEnd:            bt.CloseAtEnd,
		EntryOnTransition:     bt.EntryOnTransition,
		Workers:               bt.Workers,
		Exit:                  exit,
	}

	c := bt.Classifier
	params := strategy.Params{
		MAWindows:               append([]int(nil), c.MAWindows...),
		LongMAWindow:            c.LongMAWindow,
		LookbackDays:            c.LookbackDays,
		SupportMargin:           c.SupportMargin,
		MomentumDays:            c.MomentumDays,
		P1MinMomentumPct:        c.P1MinMomentumPct,
		P1MaxSupportDistancePct: c.P1MaxSupportDistancePct,
		N2MaxMomentumPct:        c.N2MaxMomentumPct,
		MaxStaleDays:            c.MaxStaleDays,
	}
	return cfg, params, cfg.Validate()
}
