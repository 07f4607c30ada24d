package pipeline

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for in-memory testing
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/epiforecast/ingestion"
)

// setupTestStore creates an in-memory SQLite database and initializes
// the schema. The schema statements are compatible with both Postgres
// and SQLite.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err, "Failed to open in-memory SQLite database")
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db)
	require.NoError(t, err, "Failed to initialize schema for test database")
	return store
}

func sampleRun(id string) *Run {
	started := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	return &Run{
		ID:           id,
		Status:       RunCompleted,
		Source:       ingestion.SourceConfig{Type: ingestion.SourceCSV, Filepath: "/data/cases.csv"},
		EdgePolicy:   "short_window",
		StartedAt:    started,
		FinishedAt:   started.Add(42 * time.Second),
		EntityCount:  2,
		GlobalRows:   20,
		SampleCount:  13,
		TrainCount:   10,
		TestCount:    3,
		EpochsRun:    27,
		BestEpoch:    17,
		StoppedEarly: true,
		TestMAE:      0.051,
		TestR2:       0.87,
	}
}

func TestStoreInsertAndGetRun(t *testing.T) {
	store := setupTestStore(t)

	want := sampleRun("run-1")
	require.NoError(t, store.InsertRun(want))

	got, found, err := store.GetRun("run-1")
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, RunCompleted, got.Status)
	assert.Equal(t, want.Source, got.Source)
	assert.Equal(t, want.EdgePolicy, got.EdgePolicy)
	assert.Equal(t, want.SampleCount, got.SampleCount)
	assert.Equal(t, want.TrainCount, got.TrainCount)
	assert.Equal(t, want.TestCount, got.TestCount)
	assert.Equal(t, want.StoppedEarly, got.StoppedEarly)
	assert.InDelta(t, want.TestMAE, got.TestMAE, 1e-12)
	assert.InDelta(t, want.TestR2, got.TestR2, 1e-12)
}

func TestStoreGetRunNotFound(t *testing.T) {
	store := setupTestStore(t)
	_, found, err := store.GetRun("nope")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStoreListRunsOrder(t *testing.T) {
	store := setupTestStore(t)

	older := sampleRun("run-old")
	older.StartedAt = older.StartedAt.Add(-time.Hour)
	newer := sampleRun("run-new")
	require.NoError(t, store.InsertRun(older))
	require.NoError(t, store.InsertRun(newer))

	runs, err := store.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-new", runs[0].ID)
	assert.Equal(t, "run-old", runs[1].ID)
}

func TestStoreFailedRunRoundTrip(t *testing.T) {
	store := setupTestStore(t)

	failed := sampleRun("run-failed")
	failed.Status = RunFailed
	failed.ErrorMessage = "windowing failed: insufficient data for windowing"
	require.NoError(t, store.InsertRun(failed))

	got, found, err := store.GetRun("run-failed")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, RunFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "insufficient data")
}

func TestStorePredictions(t *testing.T) {
	store := setupTestStore(t)
	require.NoError(t, store.InsertRun(sampleRun("run-1")))

	actual := []float64{3.1, 3.3, 3.0}
	predicted := []float64{3.0, 3.4, 3.1}
	require.NoError(t, store.InsertPredictions("run-1", actual, predicted))

	data, err := store.GetChartData("run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", data.RunID)
	assert.Equal(t, actual, data.Actual)
	assert.Equal(t, predicted, data.Predicted)
}

func TestStorePredictionsLengthMismatch(t *testing.T) {
	store := setupTestStore(t)
	require.NoError(t, store.InsertRun(sampleRun("run-1")))
	err := store.InsertPredictions("run-1", []float64{1, 2}, []float64{1})
	assert.Error(t, err)
}
