package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"stockscan/internal/backtest"
	"stockscan/internal/report"
	"stockscan/internal/universe"
)

var (
	btStart      string
	btEnd        string
	btStrategy   string
	btCash       float64
	btOutputDir  string
	btCloseAtEnd bool
	btFormat     string
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run the weekly scan-and-trade backtest",
	Long: `Run the configured backtest over stored daily bars and write the trade
ledger, equity curve and summary.

Examples:
  stockscan backtest --start 2019-01-01 --end 2023-12-29
  stockscan backtest --strategy sma-cross --close-at-end
  stockscan backtest --format json`,
	RunE: runBacktest,
}

func init() {
	f := backtestCmd.Flags()
	f.StringVar(&btStart, "start", "", "first date (YYYY-MM-DD), overrides backtest.start_date")
	f.StringVar(&btEnd, "end", "", "last date (YYYY-MM-DD), overrides backtest.end_date")
	f.StringVar(&btStrategy, "strategy", "", "classifier name, overrides backtest.strategy")
	f.Float64Var(&btCash, "cash", 0, "starting cash, overrides backtest.starting_cash")
	f.StringVar(&btOutputDir, "output", "", "report directory, overrides backtest.output_dir")
	f.BoolVar(&btCloseAtEnd, "close-at-end", false, "liquidate open positions at the last checkpoint")
	f.StringVar(&btFormat, "format", "text", "summary output: text or json")
	rootCmd.AddCommand(backtestCmd)
}

func runBacktest(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	bt := &cfg.Backtest
	if btStart != "" {
		bt.StartDate = btStart
	}
	if btEnd != "" {
		bt.EndDate = btEnd
	}
	if btStrategy != "" {
		bt.Strategy = btStrategy
	}
	if btCash > 0 {
		bt.StartingCash = btCash
	}
	if btOutputDir != "" {
		bt.OutputDir = btOutputDir
	}
	if cmd.Flags().Changed("close-at-end") {
		bt.CloseAtEnd = btCloseAtEnd
	}

	e, err := openEnv(cfg)
	if err != nil {
		return err
	}
	defer e.Close()
	if err := validate(cfg, e.log); err != nil {
		return err
	}

	runner := &backtest.Runner{
		Bars:      e.bars,
		Universe:  universe.FromConfig(cfg.Universe, e.bars),
		Artifacts: e.bars,
		Log:       e.log.With("component", "backtest"),
	}
	if e.sqlite != nil {
		runner.Results = e.sqlite
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	out, err := runner.Run(ctx, *bt)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	switch btFormat {
	case "json":
		return report.WriteSummaryJSON(w, out.Summary)
	default:
		fmt.Fprintf(w, "Run %s (%s)\n", out.Run.ID, out.Run.Strategy)
		if err := report.RenderText(w, out.Summary); err != nil {
			return err
		}
		s := out.Result.Stats
		fmt.Fprintf(w, "\nCheckpoints %d, data gaps %d, degraded %d, unfunded entries %d\n",
			s.Checkpoints, s.DataGaps, s.DegradedSignals, s.FundingRejections)
		if out.OutputDir != "" {
			fmt.Fprintf(w, "Reports written to %s\n", out.OutputDir)
		}
		return nil
	}
}
