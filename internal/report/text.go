package report

import (
	"fmt"
	"io"
	"text/tabwriter"

	"stockscan/internal/domain"
)

// RenderText writes a human-readable summary.
func RenderText(w io.Writer, s Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	p, t, bp, op := s.Performance, s.TradingStats, s.BacktestPeriod, s.OpenPositions

	fmt.Fprintf(tw, "Period\t%s to %s (%.2f years)\n", bp.StartDate, bp.EndDate, bp.Years)
	fmt.Fprintf(tw, "Starting value\t%s\n", FormatMoney(p.StartingValue))
	fmt.Fprintf(tw, "Final value\t%s\n", FormatMoney(p.FinalValue))
	fmt.Fprintf(tw, "Total return\t%s\n", FormatPct(p.TotalReturnPct))
	fmt.Fprintf(tw, "CAGR\t%s\n", FormatPct(p.CAGRPct))
	fmt.Fprintf(tw, "Max drawdown\t%s\n", FormatPct(p.MaxDrawdownPct))
	fmt.Fprintf(tw, "\t\n")
	fmt.Fprintf(tw, "Closed trades\t%d\n", t.TotalTrades)
	if t.TotalTrades > 0 {
		fmt.Fprintf(tw, "Win rate\t%.1f%%\n", t.WinRatePct)
		fmt.Fprintf(tw, "Avg win / loss\t%s / %s\n", FormatPct(t.AvgWinPct), FormatPct(t.AvgLossPct))
		fmt.Fprintf(tw, "Best trade\t%s %s\n", t.BestTradeTicker, FormatPct(t.BestTradePct))
		fmt.Fprintf(tw, "Worst trade\t%s %s\n", t.WorstTradeTicker, FormatPct(t.WorstTradePct))
	}
	fmt.Fprintf(tw, "Open positions\t%d (%s, unrealized %s)\n",
		op.Count, FormatMoney(op.MarketValue), FormatMoney(op.UnrealizedPnL))
	return tw.Flush()
}

// RenderSignals writes the scanner table, one row per signal.
func RenderSignals(w io.Writer, signals []domain.Signal) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Ticker\tDate\tState\tClose\tLong MA\tSupport\tDist %\tMom %\tRows\t")
	for _, s := range signals {
		rows := fmt.Sprintf("%d", s.Rows)
		if s.Degraded {
			rows += "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%.2f\t%.2f\t%s\t\n",
			s.Ticker, s.Date.Format(DateLayout), s.State,
			FormatPrice(s.Close), FormatPrice(s.LongMA), FormatPrice(s.Support),
			s.DistanceToSupportPct, s.MomentumPct, rows)
	}
	return tw.Flush()
}
