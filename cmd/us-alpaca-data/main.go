package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"stockscan/internal/config"
	"stockscan/internal/gather/us"
	"stockscan/internal/metrics"
	"stockscan/internal/store"
	"stockscan/internal/universe"
	"stockscan/internal/util"
)

func main() {
	logDir := flag.String("log-dir", os.TempDir(), "directory for the daily log file")
	flag.Parse()

	cfg, err := config.Load(config.Path("config/stockscan.yaml"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
		log.Fatalf("alpaca api_key and api_secret are required")
	}

	// Dual logger: stdout + daily log file.
	logFileName := filepath.Join(*logDir, fmt.Sprintf("us-alpaca-data-%s.log", time.Now().Format(config.DateLayout)))
	logFile, err := os.Create(logFileName)
	if err != nil {
		log.Fatalf("failed to create log file: %v", err)
	}
	defer logFile.Close()

	logger := util.NewLoggerTo(io.MultiWriter(os.Stdout, logFile), cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	job := cfg.Gather.USDaily
	start, err := time.Parse(config.DateLayout, job.StartDate)
	if err != nil {
		log.Fatalf("invalid gather.us_daily.start_date %q: %v", job.StartDate, err)
	}

	pstore := store.NewParquetStore(cfg.Storage.DataDir)
	gatherer := us.NewDailyBarGatherer(
		us.NewAlpacaClient(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL),
		pstore,
		universe.FromConfig(cfg.Universe, pstore),
		filepath.Join(cfg.Storage.DataDir, "us", "daily"),
		us.DailyBarConfig{
			Start:           start,
			BatchSize:       job.BatchSize,
			MaxWorkers:      job.MaxWorkers,
			RateLimitPerMin: job.RateLimitPerMin,
			Feed:            cfg.Alpaca.Feed,
		},
		us.WithEndDate(us.AlpacaEndDate(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)),
		us.WithMetrics(metrics.New(prometheus.NewRegistry())),
		us.WithLogger(logger.With("gatherer", "us-alpaca-data")),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting us-alpaca-data", "logFile", logFileName, "start", job.StartDate)
	if err := gatherer.Run(ctx); err != nil {
		log.Fatalf("gather error: %v", err)
	}
}
