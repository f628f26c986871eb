package persistence

import (
	"database/sql"
	"fmt"
)

// schema is the full journal schema. Statements are idempotent so startup can
// always apply them.
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	goal        TEXT NOT NULL,
	started_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	ended_at    TEXT,
	status      TEXT NOT NULL,
	phase       TEXT NOT NULL DEFAULT 'planning',
	iteration   INTEGER NOT NULL DEFAULT 0,
	config_json TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS run_errors (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL REFERENCES runs(run_id),
	occurred_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	phase       TEXT NOT NULL,
	kind        TEXT NOT NULL,
	message     TEXT NOT NULL,
	recovered   INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_run_errors_run ON run_errors(run_id);

CREATE TABLE IF NOT EXISTS feedback_archive (
	feedback_id TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(run_id),
	author_tag  TEXT NOT NULL,
	content     TEXT NOT NULL,
	received_at TEXT NOT NULL,
	injected_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_feedback_archive_run ON feedback_archive(run_id);
`

// initializeSchema applies the journal schema.
func initializeSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
