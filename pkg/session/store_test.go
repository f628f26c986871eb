package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikitparakh/auto-claude-docker/pkg/config"
)

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(dir)

	s := NewState("run-abc", "refactor the parser", 12)
	s.SessionHandle = "sess-123"
	s.Iteration = 4
	require.NoError(t, s.Transition(PhaseImplementation))
	s.RecordError(PhaseImplementation, "operation timed out after 600000ms")
	s.Metrics.TotalOperations = 9
	s.Metrics.SuccessfulOperations = 8
	s.Metrics.FailedOperations = 1

	require.NoError(t, st.Save(s))

	loaded, err := st.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "run-abc", loaded.RunID)
	assert.Equal(t, "sess-123", loaded.SessionHandle)
	assert.Equal(t, PhaseImplementation, loaded.Phase)
	assert.Equal(t, 4, loaded.Iteration)
	assert.Len(t, loaded.Errors, 1)
	assert.Equal(t, 9, loaded.Metrics.TotalOperations)
}

func TestStoreLoadMissingFile(t *testing.T) {
	st := NewStore(t.TempDir())
	loaded, err := st.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestStoreLoadOlderRecordDefaults(t *testing.T) {
	// Records from older builds may lack newer fields; they load with
	// initial values instead of failing.
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, config.ProjectConfigDir)
	require.NoError(t, os.MkdirAll(cfgDir, 0o755))
	old := `{"run_id": "run-old", "goal": "old goal", "iteration": 2}`
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, SessionFileName), []byte(old), 0o644))

	st := NewStore(dir)
	loaded, err := st.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, PhasePlanning, loaded.Phase)
	assert.False(t, loaded.StartTime.IsZero())
	assert.Equal(t, 2, loaded.Iteration)
}

func TestStoreLoadRejectsUnknownPhase(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, config.ProjectConfigDir)
	require.NoError(t, os.MkdirAll(cfgDir, 0o755))
	bad := `{"run_id": "run-bad", "phase": "daydreaming"}`
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, SessionFileName), []byte(bad), 0o644))

	st := NewStore(dir)
	_, err := st.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown phase")
}

func TestStoreSaveIsAtomic(t *testing.T) {
	// A save over an existing record leaves no temp files behind.
	dir := t.TempDir()
	st := NewStore(dir)
	require.NoError(t, st.Save(NewState("run-1", "goal", 12)))
	require.NoError(t, st.Save(NewState("run-2", "goal", 12)))

	entries, err := os.ReadDir(filepath.Join(dir, config.ProjectConfigDir))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, SessionFileName, entries[0].Name())
}

func TestStoreClear(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(dir)
	require.NoError(t, st.Save(NewState("run-1", "goal", 12)))
	require.NoError(t, st.Clear())
	require.NoError(t, st.Clear()) // idempotent

	loaded, err := st.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}
