// Package checkpoint writes point-in-time session snapshots and prunes old
// ones.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nikitparakh/auto-claude-docker/pkg/config"
	"github.com/nikitparakh/auto-claude-docker/pkg/logx"
	"github.com/nikitparakh/auto-claude-docker/pkg/session"
)

// Snapshot statuses recorded in checkpoint filenames.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusShutdown = "shutdown"
)

// MaxRetained is the number of checkpoint files kept after pruning.
const MaxRetained = 10

const checkpointPrefix = "checkpoint-"

// Record is the persisted snapshot: the session state plus capture metadata.
type Record struct {
	session.State
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
	UptimeMs  int64     `json:"uptime_ms"`
}

// Manager writes checkpoint files under the project config directory.
type Manager struct {
	dir    string
	logger *logx.Logger
}

// NewManager creates a manager rooted at the given project directory.
func NewManager(projectDir string) *Manager {
	return &Manager{
		dir:    filepath.Join(projectDir, config.ProjectConfigDir, "checkpoints"),
		logger: logx.NewLogger("checkpoint"),
	}
}

// Dir returns the checkpoint directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Write snapshots the session state with the given status, then prunes the
// directory down to MaxRetained files. A prune failure is logged, not
// returned; the snapshot itself already succeeded.
func (m *Manager) Write(s *session.State, status string) (string, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	now := time.Now()
	rec := Record{
		State:     *s,
		Timestamp: now.UTC(),
		Status:    status,
		UptimeMs:  s.Uptime().Milliseconds(),
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	name := fmt.Sprintf("%s%d-%s.json", checkpointPrefix, now.UnixNano(), status)
	path := filepath.Join(m.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write checkpoint %s: %w", name, err)
	}
	m.logger.Debug("Wrote checkpoint %s", name)

	if err := m.prune(); err != nil {
		m.logger.Warn("Checkpoint pruning failed: %v", err)
	}
	return path, nil
}

// List returns checkpoint filenames newest first. Ordering is by file
// modification time with the filename as tiebreaker, which sorts identically
// because names embed the creation timestamp.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	type item struct {
		name    string
		modTime time.Time
	}
	items := make([]item, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), checkpointPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		items = append(items, item{name: e.Name(), modTime: info.ModTime()})
	}

	sort.Slice(items, func(i, j int) bool {
		if !items[i].modTime.Equal(items[j].modTime) {
			return items[i].modTime.After(items[j].modTime)
		}
		return items[i].name > items[j].name
	})

	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.name
	}
	return names, nil
}

// LoadLatest reads the newest checkpoint, or returns (nil, nil) if none
// exist.
func (m *Manager) LoadLatest() (*Record, error) {
	names, err := m.List()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}

	data, err := os.ReadFile(filepath.Join(m.dir, names[0]))
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", names[0], err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint %s: %w", names[0], err)
	}
	return &rec, nil
}

// prune deletes all but the MaxRetained newest checkpoints.
func (m *Manager) prune() error {
	names, err := m.List()
	if err != nil {
		return err
	}
	for _, name := range names[min(len(names), MaxRetained):] {
		if err := os.Remove(filepath.Join(m.dir, name)); err != nil {
			return fmt.Errorf("failed to remove old checkpoint %s: %w", name, err)
		}
		m.logger.Debug("Pruned checkpoint %s", name)
	}
	return nil
}
