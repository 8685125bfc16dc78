package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockscan/internal/domain"
	"stockscan/internal/store"
)

// writeWorkspace seeds a parquet bar store with a steady AAPL uptrend and
// returns a config file pointing at it.
func writeWorkspace(t *testing.T) (cfgPath, dir string) {
	t.Helper()
	dir = t.TempDir()

	var bars []domain.Bar
	d := time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 756; i++ {
		for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			d = d.AddDate(0, 0, 1)
		}
		c := 100 + 200*float64(i)/755
		bars = append(bars, domain.Bar{Symbol: "AAPL", Timestamp: d, Open: c, High: c, Low: c, Close: c})
		d = d.AddDate(0, 0, 1)
	}
	require.NoError(t, store.NewParquetStore(filepath.Join(dir, "data")).WriteBars(context.Background(), bars))

	cfg := fmt.Sprintf(`storage:
  data_dir: %s
  sqlite_path: %s
logging:
  level: error
universe:
  symbols: [AAPL]
backtest:
  start_date: "2021-03-01"
  end_date: "2022-12-30"
  output_dir: %s
`, filepath.Join(dir, "data"), filepath.Join(dir, "stockscan.db"), filepath.Join(dir, "output"))
	cfgPath = filepath.Join(dir, "stockscan.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))
	return cfgPath, dir
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	require.NoError(t, rootCmd.Execute(), "stockscan %v", args)
	return out.String()
}

func TestBacktestAndRunsCommands(t *testing.T) {
	cfgPath, dir := writeWorkspace(t)

	out := execute(t, "backtest", "--config", cfgPath, "--cash", "50000", "--format", "text")
	assert.Contains(t, out, "(ma-support)")
	assert.Contains(t, out, "Starting value")
	assert.Contains(t, out, "Reports written to "+filepath.Join(dir, "output"))

	sq, err := store.NewSQLiteStore(filepath.Join(dir, "stockscan.db"))
	require.NoError(t, err)
	runs, err := sq.ListRuns(context.Background(), 0)
	sq.Close()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	id := runs[0].ID
	assert.Equal(t, 50000.0, runs[0].StartingValue, "--cash overrides the config")

	out = execute(t, "runs", "list", "--config", cfgPath)
	assert.Contains(t, out, id)

	out = execute(t, "runs", "show", id, "--config", cfgPath)
	assert.Contains(t, out, "Run "+id)
	assert.Contains(t, out, "Open positions")

	out = execute(t, "runs", "ledger", id, "--config", cfgPath)
	assert.Contains(t, out, "Action,Ticker,Date,Price,Shares,Value")
	assert.Contains(t, out, "BUY,AAPL,")

	_, err = os.Stat(filepath.Join(dir, "output", id))
	assert.NoError(t, err, "report directory")
}

func TestScanCommand(t *testing.T) {
	cfgPath, _ := writeWorkspace(t)

	out := execute(t, "scan", "--config", cfgPath, "--date", "2022-06-03")
	assert.Contains(t, out, "as of 2022-06-03: 1 signals, 0 missing")
	assert.Contains(t, out, "AAPL")
	assert.Contains(t, out, "P2 1")
}

func TestVersionCommand(t *testing.T) {
	assert.Equal(t, "stockscan "+version+"\n", execute(t, "version"))
}
