package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    project_name TEXT NOT NULL,
    dataset_name TEXT NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('complete', 'partial', 'cancelled')),
    review_mode TEXT NOT NULL,
    chunk_count INTEGER DEFAULT 0,
    result_count INTEGER DEFAULT 0,
    failure_count INTEGER DEFAULT 0,
    flagged_count INTEGER DEFAULT 0,
    report_json TEXT NOT NULL,
    generated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS exports (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    format TEXT NOT NULL,
    path TEXT NOT NULL,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_generated ON runs(generated_at);
CREATE INDEX IF NOT EXISTS idx_exports_run ON exports(run_id);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "entry feedback",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS entry_feedback (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    result_id TEXT NOT NULL,
    rating TEXT NOT NULL CHECK(rating IN ('useful', 'not_useful')),
    created_at TEXT DEFAULT (datetime('now')),
    PRIMARY KEY (run_id, result_id)
);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
