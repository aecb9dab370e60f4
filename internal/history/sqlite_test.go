package history

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "history.db")
	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	return store, dbPath
}

func TestSaveAndListRuns(t *testing.T) {
	store, _ := setupTestStore(t)
	defer store.Close()

	base := time.Now().UTC().Truncate(time.Second)

	first := &RunRecord{
		StartedAt:  base.Add(-2 * time.Minute),
		FinishedAt: base.Add(-1 * time.Minute),
		Status:     RunFailed,
		Error:      "boom",
	}
	require.NoError(t, store.SaveRun(first))
	assert.NotZero(t, first.ID)

	second := &RunRecord{
		StartedAt:  base.Add(-30 * time.Second),
		FinishedAt: base,
		Status:     RunSucceeded,
	}
	require.NoError(t, store.SaveRun(second))

	runs, err := store.ListRecent(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	// Newest first
	assert.Equal(t, RunSucceeded, runs[0].Status)
	assert.Empty(t, runs[0].Error)
	assert.Equal(t, RunFailed, runs[1].Status)
	assert.Equal(t, "boom", runs[1].Error)

	limited, err := store.ListRecent(1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestLastSuccess(t *testing.T) {
	store, _ := setupTestStore(t)
	defer store.Close()

	// Empty journal yields the zero time
	last, err := store.LastSuccess()
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	base := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, store.SaveRun(&RunRecord{
		StartedAt:  base.Add(-3 * time.Minute),
		FinishedAt: base.Add(-2 * time.Minute),
		Status:     RunSucceeded,
	}))
	require.NoError(t, store.SaveRun(&RunRecord{
		StartedAt:  base.Add(-time.Minute),
		FinishedAt: base,
		Status:     RunFailed,
		Error:      "boom",
	}))

	// Failures do not advance the last success time
	last, err = store.LastSuccess()
	require.NoError(t, err)
	assert.WithinDuration(t, base.Add(-2*time.Minute), last, time.Second)
}

func TestJournalSurvivesReopen(t *testing.T) {
	store, dbPath := setupTestStore(t)

	base := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.SaveRun(&RunRecord{
		StartedAt:  base.Add(-time.Minute),
		FinishedAt: base,
		Status:     RunSucceeded,
	}))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	last, err := reopened.LastSuccess()
	require.NoError(t, err)
	assert.WithinDuration(t, base, last, time.Second)
}

func TestConcurrentSaveDuringClose(t *testing.T) {
	store, _ := setupTestStore(t)

	base := time.Now().UTC()

	const numGoroutines = 10
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(i int) {
			defer wg.Done()
			// Saves racing Close either land in the journal or are
			// rejected; neither outcome may corrupt the store.
			_ = store.SaveRun(&RunRecord{
				StartedAt:  base.Add(time.Duration(i) * time.Second),
				FinishedAt: base.Add(time.Duration(i+1) * time.Second),
				Status:     RunSucceeded,
			})
		}(i)
	}

	require.NoError(t, store.Close())
	wg.Wait()

	assert.Error(t, store.SaveRun(&RunRecord{Status: RunSucceeded}))
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	store, _ := setupTestStore(t)
	require.NoError(t, store.Close())

	assert.Error(t, store.SaveRun(&RunRecord{Status: RunSucceeded}))
	_, err := store.LastSuccess()
	assert.Error(t, err)
	_, err = store.ListRecent(1)
	assert.Error(t, err)
}
