package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"stockscan/internal/backtest"
	"stockscan/internal/config"
	"stockscan/internal/httpapi"
	"stockscan/internal/metrics"
	"stockscan/internal/store"
	"stockscan/internal/universe"
	"stockscan/internal/util"
)

func main() {
	cfg, err := config.Load(config.Path("config/stockscan.yaml"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	// Backtest dates may come from each request, so a config without them
	// still serves.
	warnings, err := cfg.Validate()
	for _, w := range warnings {
		logger.Warn("config", "warning", w)
	}
	if err != nil {
		logger.Warn("config incomplete, runs must supply missing fields", "error", err)
	}
	if cfg.Storage.SQLitePath == "" {
		log.Fatalf("storage.sqlite_path is required")
	}

	sq, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open sqlite: %v", err)
	}
	defer sq.Close()
	bars := store.NewParquetStore(cfg.Storage.DataDir)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	runner := &backtest.Runner{
		Bars:      bars,
		Universe:  universe.FromConfig(cfg.Universe, bars),
		Results:   sq,
		Artifacts: bars,
		Signals:   sq,
		Metrics:   m,
		Log:       logger.With("component", "backtest"),
	}
	api := httpapi.NewServer(sq, sq, runner, cfg.Backtest, m, logger.With("component", "httpapi"))

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		logger.Info("stockscan-server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}
