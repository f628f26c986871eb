package persistence

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, initializeSchema(db))
	return db
}

func TestRunLifecycle(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, CreateRun(db, "run-1", "ship the feature", map[string]int{"max_iterations": 12}))

	run, err := GetRun(db, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusActive, run.Status)
	assert.Equal(t, "planning", run.Phase)
	assert.Equal(t, 0, run.Iteration)
	assert.Contains(t, run.ConfigJSON, "max_iterations")

	require.NoError(t, UpdateRunProgress(db, "run-1", "testing", 3))
	require.NoError(t, UpdateRunStatus(db, "run-1", RunStatusCompleted))

	run, err = GetRun(db, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "testing", run.Phase)
	assert.Equal(t, 3, run.Iteration)
	assert.Equal(t, RunStatusCompleted, run.Status)
	require.NotNil(t, run.EndedAt)
}

func TestRunNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := GetRun(db, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, UpdateRunStatus(db, "missing", RunStatusShutdown), ErrRunNotFound)
	assert.ErrorIs(t, UpdateRunProgress(db, "missing", "testing", 1), ErrRunNotFound)
}

func TestGetMostRecentResumableRun(t *testing.T) {
	db := openTestDB(t)

	none, err := GetMostRecentResumableRun(db)
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, CreateRun(db, "run-old", "goal", nil))
	require.NoError(t, UpdateRunStatus(db, "run-old", RunStatusShutdown))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, CreateRun(db, "run-new", "goal", nil))
	require.NoError(t, UpdateRunStatus(db, "run-new", RunStatusShutdown))
	require.NoError(t, CreateRun(db, "run-done", "goal", nil))
	require.NoError(t, UpdateRunStatus(db, "run-done", RunStatusCompleted))

	run, err := GetMostRecentResumableRun(db)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "run-new", run.RunID)
}

func TestMarkStaleRuns(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, CreateRun(db, "run-1", "goal", nil))
	require.NoError(t, CreateRun(db, "run-2", "goal", nil))
	require.NoError(t, UpdateRunStatus(db, "run-2", RunStatusShutdown))

	n, err := MarkStaleRuns(db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	run, err := GetRun(db, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusCrashed, run.Status)

	run, err = GetRun(db, "run-2")
	require.NoError(t, err)
	assert.Equal(t, RunStatusShutdown, run.Status)
}

func TestRunErrorTrail(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, CreateRun(db, "run-1", "goal", nil))

	require.NoError(t, RecordRunError(db, &RunError{
		RunID: "run-1", Phase: "implementation", Kind: "agent_process_failed",
		Message: "exit code 1",
	}))
	require.NoError(t, RecordRunError(db, &RunError{
		RunID: "run-1", Phase: "testing", Kind: "operation_timed_out",
		Message: "timed out after 450000ms",
	}))
	require.NoError(t, MarkLastRunErrorRecovered(db, "run-1"))

	errs, err := GetRunErrors(db, "run-1")
	require.NoError(t, err)
	require.Len(t, errs, 2)
	assert.False(t, errs[0].Recovered)
	assert.True(t, errs[1].Recovered)
	assert.Equal(t, "operation_timed_out", errs[1].Kind)
}

func TestArchiveFeedback(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, CreateRun(db, "run-1", "goal", nil))

	received := time.Now().UTC()
	require.NoError(t, ArchiveFeedback(db, "run-1", "fb-1", "alice", "try harder", received, nil))

	// Re-archiving with an injection time updates in place.
	injected := received.Add(time.Minute)
	require.NoError(t, ArchiveFeedback(db, "run-1", "fb-1", "alice", "try harder", received, &injected))

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM feedback_archive`).Scan(&count))
	assert.Equal(t, 1, count)

	var injectedAt sql.NullString
	require.NoError(t, db.QueryRow(
		`SELECT injected_at FROM feedback_archive WHERE feedback_id = 'fb-1'`).Scan(&injectedAt))
	assert.True(t, injectedAt.Valid)
}
