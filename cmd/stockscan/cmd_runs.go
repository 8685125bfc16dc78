package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"stockscan/internal/config"
	"stockscan/internal/report"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect stored backtest runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := openStored(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		runs, err := e.sqlite.ListRuns(cmd.Context(), runsLimit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTRATEGY\tSTART\tEND\tFINAL VALUE\tRETURN\tTRADES\tCREATED")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
				r.ID, r.Strategy,
				r.StartDate.Format(config.DateLayout), r.EndDate.Format(config.DateLayout),
				report.FormatMoney(r.FinalValue), report.FormatPct(r.TotalReturnPct),
				r.Trades, r.CreatedAt.Format("2006-01-02 15:04"))
		}
		return tw.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print the summary of one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openStored(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		run, err := e.sqlite.GetRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		var s report.Summary
		if err := json.Unmarshal([]byte(run.Summary), &s); err != nil {
			return fmt.Errorf("decoding summary of %s: %w", run.ID, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Run %s (%s)\n", run.ID, run.Strategy)
		return report.RenderText(cmd.OutOrStdout(), s)
	},
}

var runsLedgerCmd = &cobra.Command{
	Use:   "ledger <id>",
	Short: "Write the trade ledger of one run as CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openStored(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		if _, err := e.sqlite.GetRun(cmd.Context(), args[0]); err != nil {
			return err
		}
		entries, err := e.sqlite.Ledger(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return report.WriteLedgerCSV(cmd.OutOrStdout(), entries)
	},
}

var runsEquityCmd = &cobra.Command{
	Use:   "equity <id>",
	Short: "Write the equity curve of one run as CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openStored(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		if _, err := e.sqlite.GetRun(cmd.Context(), args[0]); err != nil {
			return err
		}
		equity, err := e.sqlite.Equity(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return report.WriteEquityCSV(cmd.OutOrStdout(), equity)
	},
}

func init() {
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum runs to list (0 = all)")
	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsLedgerCmd, runsEquityCmd)
	rootCmd.AddCommand(runsCmd)
}

// openStored opens the environment and requires the sqlite result store.
func openStored(cmd *cobra.Command) (*env, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	e, err := openEnv(cfg)
	if err != nil {
		return nil, err
	}
	if e.sqlite == nil {
		return nil, fmt.Errorf("storage.sqlite_path is not set")
	}
	return e, nil
}
