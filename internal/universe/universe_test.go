package universe

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockscan/internal/config"
	"stockscan/internal/domain"
	"stockscan/internal/store"
)

func TestStatic(t *testing.T) {
	got, err := Static{"msft", " AAPL ", "MSFT", ""}.Symbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, got)
}

func TestFileText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "universe.txt")
	content := "# watchlist\nAAPL\nmsft  # software\n\nNVDA TSLA\nAAPL\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	got, err := File{Path: path}.Symbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT", "NVDA", "TSLA"}, got)
}

func TestFileCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "universe.csv")
	content := "symbol,name\nGOOGL,Alphabet\naapl,Apple\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	got, err := File{Path: path}.Symbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "GOOGL"}, got)
}

func TestFileMissing(t *testing.T) {
	_, err := File{Path: filepath.Join(t.TempDir(), "nope.txt")}.Symbols(context.Background())
	assert.Error(t, err)
}

func TestStore(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, ms.WriteBars(ctx, []domain.Bar{
		{Symbol: "MSFT", Timestamp: day, Close: 1},
		{Symbol: "AAPL", Timestamp: day, Close: 1},
	}))

	got, err := Store{Bars: ms, Market: domain.MarketUS}.Symbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, got)
}

func TestFromConfig(t *testing.T) {
	ms := store.NewMemoryStore()

	assert.IsType(t, Static(nil), FromConfig(config.Universe{Symbols: []string{"AAPL"}, File: "x.txt"}, ms))
	assert.IsType(t, File{}, FromConfig(config.Universe{File: "x.txt"}, ms))
	assert.IsType(t, Store{}, FromConfig(config.Universe{}, ms))
}
