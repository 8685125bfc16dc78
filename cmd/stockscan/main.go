package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"stockscan/internal/config"
	"stockscan/internal/store"
	"stockscan/internal/util"
)

const (
	version           = "0.3.0"
	defaultConfigPath = "config/stockscan.yaml"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "stockscan",
	Short: "Weekly scan-and-trade backtester for US equities",
	Long: `stockscan classifies every ticker in a universe into P1/P2/N1/N2 market
states from moving averages, momentum and distance to support, and replays a
weekly buy-P1 / sell-N2 strategy over stored daily bars.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "stockscan %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath,
		"path to the YAML configuration (STOCKSCAN_CONFIG overrides the default)")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Shared setup
// ---------------------------------------------------------------------------

// env is what every command needs: configuration, a logger and the stores.
type env struct {
	cfg    *config.Config
	log    *slog.Logger
	bars   *store.ParquetStore
	sqlite *store.SQLiteStore
}

func (e *env) Close() {
	if e.sqlite != nil {
		e.sqlite.Close()
	}
}

// loadConfig reads the configuration named by --config, or STOCKSCAN_CONFIG
// when the flag was not given.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := configPath
	if !cmd.Flags().Changed("config") {
		path = config.Path(defaultConfigPath)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// openEnv builds the logger and opens the stores for cfg.
func openEnv(cfg *config.Config) (*env, error) {
	log := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	e := &env{
		cfg:  cfg,
		log:  log,
		bars: store.NewParquetStore(cfg.Storage.DataDir),
	}
	if cfg.Storage.SQLitePath != "" {
		sq, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite: %w", err)
		}
		e.sqlite = sq
	}
	return e, nil
}

// validate runs config validation and logs warnings.
func validate(cfg *config.Config, log *slog.Logger) error {
	warnings, err := cfg.Validate()
	for _, w := range warnings {
		log.Warn("config", "warning", w)
	}
	return err
}
