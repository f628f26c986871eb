package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrRunNotFound is returned when a requested run does not exist.
var ErrRunNotFound = errors.New("run not found")

// Run status constants.
const (
	RunStatusActive    = "active"
	RunStatusShutdown  = "shutdown"  // Graceful shutdown, resumable
	RunStatusCompleted = "completed" // Goal reached, not resumable
	RunStatusCrashed   = "crashed"   // Unexpected termination
)

// Run is one journal entry for an engine run.
type Run struct {
	RunID      string     `json:"run_id"`
	Goal       string     `json:"goal"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Status     string     `json:"status"`
	Phase      string     `json:"phase"`
	Iteration  int        `json:"iteration"`
	ConfigJSON string     `json:"config_json"`
}

// RunError is one audited failure within a run.
type RunError struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Phase      string    `json:"phase"`
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	Recovered  bool      `json:"recovered"`
}

// CreateRun records a new active run with a snapshot of the config.
func CreateRun(db *sql.DB, runID, goal string, config any) error {
	configJSON, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config snapshot: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO runs (run_id, goal, status, config_json)
		VALUES (?, ?, ?, ?)
	`, runID, goal, RunStatusActive, string(configJSON))
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// UpdateRunProgress records the current phase and iteration of a run.
func UpdateRunProgress(db *sql.DB, runID, phase string, iteration int) error {
	result, err := db.Exec(`
		UPDATE runs SET phase = ?, iteration = ? WHERE run_id = ?
	`, phase, iteration, runID)
	if err != nil {
		return fmt.Errorf("failed to update run progress: %w", err)
	}
	return requireRow(result)
}

// UpdateRunStatus updates a run's status, stamping ended_at for terminal
// statuses.
func UpdateRunStatus(db *sql.DB, runID, status string) error {
	var result sql.Result
	var err error
	if status == RunStatusShutdown || status == RunStatusCompleted || status == RunStatusCrashed {
		result, err = db.Exec(`
			UPDATE runs
			SET status = ?, ended_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
			WHERE run_id = ?
		`, status, runID)
	} else {
		result, err = db.Exec(`UPDATE runs SET status = ? WHERE run_id = ?`, status, runID)
	}
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetRun returns a run by ID, or ErrRunNotFound.
func GetRun(db *sql.DB, runID string) (*Run, error) {
	row := db.QueryRow(`
		SELECT run_id, goal, started_at, ended_at, status, phase, iteration, config_json
		FROM runs
		WHERE run_id = ?
	`, runID)
	return scanRun(row)
}

// GetMostRecentResumableRun returns the newest run with status='shutdown'.
// Returns nil, nil when no resumable run exists; that is not an error.
//
//nolint:nilnil // No resumable run is a valid outcome
func GetMostRecentResumableRun(db *sql.DB) (*Run, error) {
	row := db.QueryRow(`
		SELECT run_id, goal, started_at, ended_at, status, phase, iteration, config_json
		FROM runs
		WHERE status = ?
		ORDER BY ended_at DESC
		LIMIT 1
	`, RunStatusShutdown)

	run, err := scanRun(row)
	if errors.Is(err, ErrRunNotFound) {
		return nil, nil
	}
	return run, err
}

func scanRun(row *sql.Row) (*Run, error) {
	var run Run
	var startedAt string
	var endedAt sql.NullString
	err := row.Scan(&run.RunID, &run.Goal, &startedAt, &endedAt,
		&run.Status, &run.Phase, &run.Iteration, &run.ConfigJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	if t, parseErr := time.Parse(time.RFC3339Nano, startedAt); parseErr == nil {
		run.StartedAt = t
	}
	if endedAt.Valid {
		if t, parseErr := time.Parse(time.RFC3339Nano, endedAt.String); parseErr == nil {
			run.EndedAt = &t
		}
	}
	return &run, nil
}

// MarkStaleRuns marks any 'active' runs as 'crashed'. Called at startup to
// detect runs that did not shut down gracefully.
func MarkStaleRuns(db *sql.DB) (int64, error) {
	result, err := db.Exec(`
		UPDATE runs
		SET status = ?, ended_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE status = ?
	`, RunStatusCrashed, RunStatusActive)
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale runs: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected, nil
}

// RecordRunError appends an entry to a run's error audit trail.
func RecordRunError(db *sql.DB, e *RunError) error {
	_, err := db.Exec(`
		INSERT INTO run_errors (run_id, phase, kind, message, recovered)
		VALUES (?, ?, ?, ?, ?)
	`, e.RunID, e.Phase, e.Kind, e.Message, e.Recovered)
	if err != nil {
		return fmt.Errorf("failed to record run error: %w", err)
	}
	return nil
}

// MarkLastRunErrorRecovered flags a run's most recent error as recovered.
func MarkLastRunErrorRecovered(db *sql.DB, runID string) error {
	_, err := db.Exec(`
		UPDATE run_errors SET recovered = 1
		WHERE id = (SELECT MAX(id) FROM run_errors WHERE run_id = ?)
	`, runID)
	if err != nil {
		return fmt.Errorf("failed to mark run error recovered: %w", err)
	}
	return nil
}

// GetRunErrors returns a run's error trail oldest first.
func GetRunErrors(db *sql.DB, runID string) ([]RunError, error) {
	rows, err := db.Query(`
		SELECT id, run_id, occurred_at, phase, kind, message, recovered
		FROM run_errors
		WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run errors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RunError
	for rows.Next() {
		var e RunError
		var occurredAt string
		if err := rows.Scan(&e.ID, &e.RunID, &occurredAt, &e.Phase, &e.Kind, &e.Message, &e.Recovered); err != nil {
			return nil, fmt.Errorf("failed to scan run error: %w", err)
		}
		if t, parseErr := time.Parse(time.RFC3339Nano, occurredAt); parseErr == nil {
			e.OccurredAt = t
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run errors: %w", err)
	}
	return out, nil
}

// ArchiveFeedback records a feedback entry against a run. injectedAt is nil
// until the entry has been delivered to the agent.
func ArchiveFeedback(db *sql.DB, runID, feedbackID, authorTag, content string, receivedAt time.Time, injectedAt *time.Time) error {
	var injected any
	if injectedAt != nil {
		injected = injectedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := db.Exec(`
		INSERT INTO feedback_archive (feedback_id, run_id, author_tag, content, received_at, injected_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(feedback_id) DO UPDATE SET injected_at = excluded.injected_at
	`, feedbackID, runID, authorTag, content, receivedAt.UTC().Format(time.RFC3339Nano), injected)
	if err != nil {
		return fmt.Errorf("failed to archive feedback: %w", err)
	}
	return nil
}
