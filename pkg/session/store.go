package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nikitparakh/auto-claude-docker/pkg/config"
	"github.com/nikitparakh/auto-claude-docker/pkg/logx"
)

// SessionFileName is the session record inside the project config directory.
const SessionFileName = "session.json"

// Store persists the session record as a single JSON file under the project
// config directory. Writes go through a temp file and rename so a crash never
// leaves a truncated record behind.
type Store struct {
	dir    string
	logger *logx.Logger
}

// NewStore creates a store rooted at the given project directory.
func NewStore(projectDir string) *Store {
	return &Store{
		dir:    filepath.Join(projectDir, config.ProjectConfigDir),
		logger: logx.NewLogger("session"),
	}
}

// Path returns the session file location.
func (st *Store) Path() string {
	return filepath.Join(st.dir, SessionFileName)
}

// Save writes the session record atomically.
func (st *Store) Save(s *State) error {
	if err := os.MkdirAll(st.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session state: %w", err)
	}

	tmp, err := os.CreateTemp(st.dir, SessionFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write session state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp session file: %w", err)
	}
	if err := os.Rename(tmpName, st.Path()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// Load reads the session record. A missing file is not an error; it returns
// (nil, nil) so callers can start fresh. Records written by older builds load
// with missing fields at their initial values.
func (st *Store) Load() (*State, error) {
	data, err := os.ReadFile(st.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse session file %s: %w", st.Path(), err)
	}

	// Normalize records from older builds.
	if s.Phase == "" {
		s.Phase = PhasePlanning
	}
	if !IsValidPhase(s.Phase) {
		return nil, fmt.Errorf("session file %s has unknown phase %q", st.Path(), s.Phase)
	}
	if s.StartTime.IsZero() {
		s.StartTime = time.Now().UTC()
	}

	st.logger.Info("Loaded session %s at phase %s (iteration %d/%d)",
		s.RunID, s.Phase, s.Iteration, s.MaxIterations)
	return &s, nil
}

// Clear removes the session file. Missing files are ignored.
func (st *Store) Clear() error {
	if err := os.Remove(st.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}
