package httpapi

import (
	"encoding/json"
	"strconv"
	"time"

	"stockscan/internal/backtest"
	"stockscan/internal/config"
	"stockscan/internal/domain"
	"stockscan/internal/store"
	"stockscan/pkg/stockscan"
)

const dateLayout = "2006-01-02"

func formatDate(d time.Time) string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

// toRunJSON converts a stored run. The summary is included when withSummary
// is set.
func toRunJSON(r store.Run, withSummary bool) stockscan.Run {
	out := stockscan.Run{
		ID:             r.ID,
		Strategy:       r.Strategy,
		StartDate:      formatDate(r.StartDate),
		EndDate:        formatDate(r.EndDate),
		CreatedAt:      r.CreatedAt,
		StartingValue:  r.StartingValue,
		FinalValue:     r.FinalValue,
		TotalReturnPct: r.TotalReturnPct,
		Trades:         r.Trades,
	}
	if withSummary && r.Summary != "" {
		out.Summary = json.RawMessage(r.Summary)
	}
	return out
}

func toLedgerJSON(entries []domain.LedgerEntry) []stockscan.LedgerEntry {
	out := make([]stockscan.LedgerEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, stockscan.LedgerEntry{
			Action:     string(e.Action),
			Ticker:     e.Ticker,
			Date:       formatDate(e.Date),
			Price:      e.Price,
			Shares:     e.Shares,
			Value:      e.Value,
			EntryDate:  formatDate(e.EntryDate),
			PnLPct:     e.PnLPct,
			HoldDays:   e.HoldDays,
			EntryState: string(e.EntryState),
			ExitReason: e.ExitReason,
		})
	}
	return out
}

func toEquityJSON(samples []domain.EquitySample) []stockscan.EquityPoint {
	out := make([]stockscan.EquityPoint, 0, len(samples))
	for _, s := range samples {
		out = append(out, stockscan.EquityPoint{
			Date:          formatDate(s.Date),
			Value:         s.Value,
			Cash:          s.Cash,
			Invested:      s.Invested,
			OpenPositions: s.OpenPositions,
		})
	}
	return out
}

func toSignalJSON(signals []domain.Signal) []stockscan.Signal {
	out := make([]stockscan.Signal, 0, len(signals))
	for _, s := range signals {
		sig := stockscan.Signal{
			Ticker:               s.Ticker,
			Date:                 formatDate(s.Date),
			State:                string(s.State),
			Close:                s.Close,
			LongMA:               s.LongMA,
			Support:              s.Support,
			DistanceToSupportPct: s.DistanceToSupportPct,
			MomentumPct:          s.MomentumPct,
			Rows:                 s.Rows,
			Degraded:             s.Degraded,
		}
		if len(s.MovingAverages) > 0 {
			sig.MovingAverages = make(map[string]float64, len(s.MovingAverages))
			for _, ma := range s.MovingAverages {
				sig.MovingAverages[strconv.Itoa(ma.Window)] = ma.Value
			}
		}
		out = append(out, sig)
	}
	return out
}

func toStatsJSON(s backtest.Stats) stockscan.RunStats {
	return stockscan.RunStats{
		Checkpoints:       s.Checkpoints,
		DataGaps:          s.DataGaps,
		DegradedSignals:   s.DegradedSignals,
		FundingRejections: s.FundingRejections,
		ZeroShareSkips:    s.ZeroShareSkips,
		CapacitySkips:     s.CapacitySkips,
	}
}

// applyRunRequest overlays the request on the configured backtest.
func applyRunRequest(bt config.Backtest, req stockscan.RunRequest) config.Backtest {
	if req.Strategy != "" {
		bt.Strategy = req.Strategy
	}
	if req.StartDate != "" {
		bt.StartDate = req.StartDate
	}
	if req.EndDate != "" {
		bt.EndDate = req.EndDate
	}
	if req.StartingCash != nil {
		bt.StartingCash = *req.StartingCash
	}
	if req.PositionSizePct != nil {
		bt.PositionSizePct = *req.PositionSizePct
	}
	if req.MaxSupportDistancePct != nil {
		bt.MaxSupportDistancePct = *req.MaxSupportDistancePct
	}
	if req.MaxPositions != nil {
		bt.MaxPositions = *req.MaxPositions
	}
	if req.Allocations != nil {
		bt.Allocations = req.Allocations
	}
	if req.CloseAtEnd != nil {
		bt.CloseAtEnd = *req.CloseAtEnd
	}
	return bt
}
