// Package report derives summary statistics from a finished run and writes
// the ledger, equity curve and summary in their published formats.
package report

import (
	"math"
	"time"

	"stockscan/internal/domain"
)

// DateLayout is the date format used by every report output.
const DateLayout = "2006-01-02"

// DaysPerYear converts calendar days to years for CAGR.
const DaysPerYear = 365.25

// Summary is the structured summary record. Field names follow the published
// JSON schema.
type Summary struct {
	Performance    Performance    `json:"Performance"`
	TradingStats   TradingStats   `json:"Trading_Stats"`
	BacktestPeriod BacktestPeriod `json:"Backtest_Period"`
	OpenPositions  OpenPositions  `json:"Open_Positions"`
}

// Performance is the equity-curve group.
type Performance struct {
	StartingValue  float64 `json:"Starting_Value"`
	FinalValue     float64 `json:"Final_Value"`
	TotalReturnPct float64 `json:"Total_Return_%"`
	CAGRPct        float64 `json:"CAGR_%"`
	// MaxDrawdownPct is zero or negative.
	MaxDrawdownPct float64 `json:"Max_Drawdown_%"`
}

// TradingStats covers closed trades only.
type TradingStats struct {
	TotalTrades      int     `json:"Total_Trades"`
	WinRatePct       float64 `json:"Win_Rate_%"`
	AvgWinPct        float64 `json:"Avg_Win_%"`
	AvgLossPct       float64 `json:"Avg_Loss_%"`
	BestTradeTicker  string  `json:"Best_Trade_Ticker"`
	BestTradePct     float64 `json:"Best_Trade_%"`
	WorstTradeTicker string  `json:"Worst_Trade_Ticker"`
	WorstTradePct    float64 `json:"Worst_Trade_%"`
}

// BacktestPeriod spans the first and last equity samples.
type BacktestPeriod struct {
	StartDate string  `json:"Start_Date"`
	EndDate   string  `json:"End_Date"`
	Years     float64 `json:"Years"`
}

// OpenPositions summarizes holdings still open at the end of the run.
type OpenPositions struct {
	Count         int     `json:"Count"`
	MarketValue   float64 `json:"Market_Value"`
	UnrealizedPnL float64 `json:"Unrealized_PnL"`
}

// Summarize computes every statistic from the equity curve and trade
// history. It keeps no state, so the same inputs always give the same
// Summary.
func Summarize(startingValue float64, equity []domain.EquitySample, trades []domain.Trade, open []domain.Position) Summary {
	var s Summary

	final := startingValue
	if len(equity) > 0 {
		final = equity[len(equity)-1].Value
	}
	s.Performance.StartingValue = startingValue
	s.Performance.FinalValue = final
	if startingValue > 0 {
		s.Performance.TotalReturnPct = (final/startingValue - 1) * 100
	}
	s.Performance.MaxDrawdownPct = MaxDrawdownPct(equity)

	if len(equity) > 0 {
		first, last := equity[0].Date, equity[len(equity)-1].Date
		s.BacktestPeriod.StartDate = first.Format(DateLayout)
		s.BacktestPeriod.EndDate = last.Format(DateLayout)
		s.BacktestPeriod.Years = Years(first, last)
	}
	s.Performance.CAGRPct = CAGRPct(startingValue, final, s.BacktestPeriod.Years)

	s.TradingStats = tradeStats(trades)

	s.OpenPositions.Count = len(open)
	for _, p := range open {
		s.OpenPositions.MarketValue += p.MarketValue()
		s.OpenPositions.UnrealizedPnL += p.UnrealizedPnL()
	}
	return s
}

// Years is the elapsed calendar time between two dates.
func Years(from, to time.Time) float64 {
	return float64(domain.DaysBetween(from, to)) / DaysPerYear
}

// CAGRPct is the compound annual growth rate in percent. It is zero when
// the period or either value is not positive.
func CAGRPct(start, final, years float64) float64 {
	if years <= 0 || start <= 0 || final <= 0 {
		return 0
	}
	return (math.Pow(final/start, 1/years) - 1) * 100
}

// MaxDrawdownPct is the largest peak-to-trough decline of the curve, as a
// negative percentage of the peak.
func MaxDrawdownPct(equity []domain.EquitySample) float64 {
	var peak, worst float64
	for i, e := range equity {
		if i == 0 || e.Value > peak {
			peak = e.Value
		}
		if peak <= 0 {
			continue
		}
		if dd := (e.Value/peak - 1) * 100; dd < worst {
			worst = dd
		}
	}
	return worst
}

// tradeStats counts a trade as a win when its return is positive; everything
// else is a loss. Wins, losses and best/worst all rank on PnLPct. Ties for best or worst go to the earlier trade.
func tradeStats(trades []domain.Trade) TradingStats {
	ts := TradingStats{TotalTrades: len(trades)}
	if len(trades) == 0 {
		return ts
	}

	var wins, losses int
	var winSum, lossSum float64
	best, worst := trades[0], trades[0]
	for _, t := range trades {
		if t.PnLPct > 0 {
			wins++
			winSum += t.PnLPct
		} else {
			losses++
			lossSum += t.PnLPct
		}
		if t.PnLPct > best.PnLPct {
			best = t
		}
		if t.PnLPct < worst.PnLPct {
			worst = t
		}
	}

	ts.WinRatePct = float64(wins) / float64(len(trades)) * 100
	if wins > 0 {
		ts.AvgWinPct = winSum / float64(wins)
	}
	if losses > 0 {
		ts.AvgLossPct = lossSum / float64(losses)
	}
	ts.BestTradeTicker, ts.BestTradePct = best.Ticker, best.PnLPct
	ts.WorstTradeTicker, ts.WorstTradePct = worst.Ticker, worst.PnLPct
	return ts
}
