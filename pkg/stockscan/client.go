// Package stockscan is a Go client for the stockscan-server HTTP API.
package stockscan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client provides a Go SDK for interacting with the stockscan-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new stockscan API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stockscan api: %d %s", e.StatusCode, e.Message)
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	path := "/api/runs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var runs []Run
	return runs, c.do(ctx, http.MethodGet, path, nil, &runs)
}

// GetRun returns one run with its summary.
func (c *Client) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	if err := c.do(ctx, http.MethodGet, "/api/runs/"+url.PathEscape(id), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetLedger returns the trade ledger of a run.
func (c *Client) GetLedger(ctx context.Context, id string) ([]LedgerEntry, error) {
	var entries []LedgerEntry
	return entries, c.do(ctx, http.MethodGet, "/api/runs/"+url.PathEscape(id)+"/ledger", nil, &entries)
}

// GetEquity returns the equity curve of a run.
func (c *Client) GetEquity(ctx context.Context, id string) ([]EquityPoint, error) {
	var points []EquityPoint
	return points, c.do(ctx, http.MethodGet, "/api/runs/"+url.PathEscape(id)+"/equity", nil, &points)
}

// StartRun runs a backtest on the server and waits for it to finish.
func (c *Client) StartRun(ctx context.Context, req RunRequest) (*RunResponse, error) {
	var resp RunResponse
	if err := c.do(ctx, http.MethodPost, "/api/runs", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetSignals returns a saved scan.
func (c *Client) GetSignals(ctx context.Context, strategy string, date time.Time) ([]Signal, error) {
	var sigs []Signal
	path := "/api/signals/" + url.PathEscape(strategy) + "/" + date.Format("2006-01-02")
	return sigs, c.do(ctx, http.MethodGet, path, nil, &sigs)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e ErrorResponse
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
