package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"stockscan/internal/backtest"
	"stockscan/internal/config"
	"stockscan/internal/domain"
	"stockscan/internal/report"
	"stockscan/internal/scanner"
	"stockscan/internal/universe"
)

var (
	scanDate     string
	scanStrategy string
	scanSave     bool
	scanEntries  bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Classify the universe as of one date",
	Long: `Classify every ticker in the universe as of a date and print the signal
table. With --entries only the P1 tickers passing the entry filter are shown.

Examples:
  stockscan scan --date 2024-03-08
  stockscan scan --date 2024-03-08 --entries --save`,
	RunE: runScan,
}

func init() {
	f := scanCmd.Flags()
	f.StringVar(&scanDate, "date", "", "as-of date (YYYY-MM-DD), defaults to yesterday UTC")
	f.StringVar(&scanStrategy, "strategy", "", "classifier name, overrides backtest.strategy")
	f.BoolVar(&scanSave, "save", false, "store the signals in sqlite")
	f.BoolVar(&scanEntries, "entries", false, "show only tickers passing the entry filter")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	asOf := domain.DateOf(time.Now().UTC()).AddDate(0, 0, -1)
	if scanDate != "" {
		asOf, err = time.Parse(config.DateLayout, scanDate)
		if err != nil {
			return fmt.Errorf("invalid --date %q: %w", scanDate, err)
		}
	}

	// A scan has no period; the backtest dates only need to parse.
	bt := cfg.Backtest
	bt.StartDate = asOf.Format(config.DateLayout)
	bt.EndDate = bt.StartDate
	if scanStrategy != "" {
		bt.Strategy = scanStrategy
	}

	e, err := openEnv(cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	runner := &backtest.Runner{
		Bars:     e.bars,
		Universe: universe.FromConfig(cfg.Universe, e.bars),
		Log:      e.log.With("component", "scan"),
	}
	if scanSave {
		if e.sqlite == nil {
			return fmt.Errorf("--save needs storage.sqlite_path")
		}
		runner.Signals = e.sqlite
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	res, err := runner.Scan(ctx, bt, asOf)
	if err != nil {
		return err
	}

	signals := res.Signals
	if scanEntries {
		btCfg, _, err := backtest.FromConfig(bt)
		if err != nil {
			return err
		}
		signals = scanner.EntryFilter{MaxSupportDistancePct: btCfg.MaxSupportDistancePct}.Apply(signals)
		btCfg.TieBreak.Order(signals)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Scan %s as of %s: %d signals, %d missing\n\n",
		bt.Strategy, asOf.Format(config.DateLayout), len(res.Signals), len(res.Missing))
	if err := report.RenderSignals(w, signals); err != nil {
		return err
	}
	counts := res.CountByState()
	fmt.Fprintf(w, "\nP1 %d  P2 %d  N1 %d  N2 %d\n",
		counts[domain.StateP1], counts[domain.StateP2], counts[domain.StateN1], counts[domain.StateN2])
	return nil
}
