package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"syncd/internal/config"
	"syncd/internal/coordinator"
	"syncd/internal/history"
	"syncd/internal/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testAppConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		LogLevel: "info",
		Sync: config.Sync{
			Concurrency: 4,
			Retries:     3,
			DryRun:      true,
			History:     filepath.Join(t.TempDir(), "syncd.db"),
			// No metrics server in tests
			MetricsAddr: "",
		},
	}
}

func readJournal(t *testing.T, dbPath string) []*history.RunRecord {
	t.Helper()
	store, err := history.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	runs, err := store.ListRecent(10)
	require.NoError(t, err)
	return runs
}

func TestOneShotSuccess(t *testing.T) {
	cfg := testAppConfig(t)

	a, err := New(cfg, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, a.Run(context.Background()))
	require.NoError(t, a.Close())

	runs := readJournal(t, cfg.Sync.History)
	require.Len(t, runs, 1)
	assert.Equal(t, history.RunSucceeded, runs[0].Status)
	assert.Empty(t, runs[0].Error)
}

func TestOneShotFailure(t *testing.T) {
	cfg := testAppConfig(t)

	provider := coordinator.ProviderFunc(func(ctx context.Context) error {
		return errors.New("boom")
	})
	a, err := newApp(cfg, zap.NewNop(), provider, metrics.New())
	require.NoError(t, err)

	err = a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	require.NoError(t, a.Close())

	runs := readJournal(t, cfg.Sync.History)
	require.Len(t, runs, 1)
	assert.Equal(t, history.RunFailed, runs[0].Status)
	assert.Equal(t, "boom", runs[0].Error)
}

func TestWatchRunsUntilCancelled(t *testing.T) {
	cfg := testAppConfig(t)
	cfg.Sync.IntervalSeconds = 1

	a, err := New(cfg, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	require.NoError(t, a.Run(ctx))
	require.NoError(t, a.Close())

	runs := readJournal(t, cfg.Sync.History)
	require.NotEmpty(t, runs)
	assert.Equal(t, history.RunSucceeded, runs[0].Status)
}

func TestRunBounds(t *testing.T) {
	finished := time.Now()
	start := finished.Add(-3 * time.Second)

	gotStart, gotDuration := runBounds(start, finished)
	assert.Equal(t, start, gotStart)
	assert.Equal(t, 3*time.Second, gotDuration)

	// A dropped running event leaves the start zero; the record must
	// not inherit the zero time or a since-epoch duration.
	gotStart, gotDuration = runBounds(time.Time{}, finished)
	assert.Equal(t, finished, gotStart)
	assert.Zero(t, gotDuration)
}

func TestLastSyncRestoredAcrossRestart(t *testing.T) {
	cfg := testAppConfig(t)

	first, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, first.Run(context.Background()))
	require.NoError(t, first.Close())

	second, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer second.Close()

	assert.False(t, second.coord.State().LastSync.IsZero(),
		"last sync time must survive a restart")
}
