// Package httpapi serves stored backtest runs and scans over HTTP and can
// start new runs.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"stockscan/internal/backtest"
	"stockscan/internal/config"
	"stockscan/internal/metrics"
	"stockscan/internal/store"
	"stockscan/pkg/stockscan"
)

// Backtester runs one configured backtest. *backtest.Runner implements it.
type Backtester interface {
	Run(ctx context.Context, bt config.Backtest) (*backtest.Outcome, error)
}

var _ Backtester = (*backtest.Runner)(nil)

// Server is the HTTP API.
type Server struct {
	results  store.ResultStore
	signals  store.SignalStore
	runner   Backtester
	defaults config.Backtest
	metrics  *metrics.Metrics
	log      *slog.Logger

	// runMu allows one backtest at a time.
	runMu sync.Mutex
}

// NewServer creates a Server. signals, runner and m may be nil; the routes
// that need them then answer 501 or are left out.
func NewServer(results store.ResultStore, signals store.SignalStore, runner Backtester, defaults config.Backtest, m *metrics.Metrics, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default().With("component", "httpapi")
	}
	return &Server{
		results:  results,
		signals:  signals,
		runner:   runner,
		defaults: defaults,
		metrics:  m,
		log:      log,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("POST /api/runs", s.handleStartRun)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /api/runs/{id}/ledger", s.handleLedger)
	mux.HandleFunc("GET /api/runs/{id}/equity", s.handleEquity)
	mux.HandleFunc("GET /api/signals/{strategy}/{date}", s.handleSignals)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

// Handler returns an http.Handler with CORS and request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.logRequests(corsMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request", "method", r.Method, "path", r.URL.Path, "elapsed", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, stockscan.ErrorResponse{Error: msg})
}

// writeStoreError maps store and run errors to a status code.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, backtest.ErrConfiguration):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	runs, err := s.results.ListRuns(r.Context(), limit)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	out := make([]stockscan.Run, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunJSON(run, false))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.results.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRunJSON(*run, true))
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.results.GetRun(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	entries, err := s.results.Ledger(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerJSON(entries))
}

func (s *Server) handleEquity(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.results.GetRun(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	samples, err := s.results.Equity(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEquityJSON(samples))
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	if s.signals == nil {
		writeError(w, http.StatusNotImplemented, "signal store not configured")
		return
	}
	asOf, err := time.Parse(dateLayout, r.PathValue("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	sigs, err := s.signals.ListSignals(r.Context(), r.PathValue("strategy"), asOf)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSignalJSON(sigs))
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusNotImplemented, "backtest runner not configured")
		return
	}
	var req stockscan.RunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
	}

	if !s.runMu.TryLock() {
		writeError(w, http.StatusConflict, "a backtest is already running")
		return
	}
	defer s.runMu.Unlock()

	bt := applyRunRequest(s.defaults, req)
	out, err := s.runner.Run(r.Context(), bt)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stockscan.RunResponse{
		Run:   toRunJSON(out.Run, true),
		Stats: toStatsJSON(out.Result.Stats),
	})
}
