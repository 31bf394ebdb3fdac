package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/TobiSchelling/AIAnalyst/internal/report"
)

const runColumns = `id, project_name, dataset_name, status, review_mode, chunk_count,
	result_count, failure_count, flagged_count, generated_at`

// InsertRun stores a report, replacing any run with the same id.
func (db *DB) InsertRun(r *report.Report) error {
	data, err := report.RenderJSON(r)
	if err != nil {
		return err
	}
	results, failures, flagged := r.Counts()
	_, err = db.conn.Exec(
		`INSERT OR REPLACE INTO runs
		(id, project_name, dataset_name, status, review_mode, chunk_count,
		 result_count, failure_count, flagged_count, report_json, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.ProjectName, r.Dataset.Name, string(r.Status), r.ReviewMode, r.ChunkCount,
		results, failures, flagged, string(data), r.GeneratedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetRun returns the run with the given id, or nil if it does not exist.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.conn.QueryRow(`SELECT `+runColumns+`, report_json FROM runs WHERE id = ?`, id)

	var r Run
	var data string
	if err := row.Scan(&r.ID, &r.ProjectName, &r.DatasetName, &r.Status, &r.ReviewMode,
		&r.ChunkCount, &r.ResultCount, &r.FailureCount, &r.FlaggedCount, &r.GeneratedAt, &data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	r.ReportJSON = []byte(data)
	return &r, nil
}

// FindRun resolves a full run id or a unique id prefix.
func (db *DB) FindRun(idOrPrefix string) (*Run, error) {
	if idOrPrefix == "" {
		return nil, nil
	}
	if r, err := db.GetRun(idOrPrefix); err != nil || r != nil {
		return r, err
	}

	rows, err := db.conn.Query(`SELECT id FROM runs WHERE substr(id, 1, length(?)) = ? LIMIT 2`,
		idOrPrefix, idOrPrefix)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch len(ids) {
	case 0:
		return nil, nil
	case 1:
		return db.GetRun(ids[0])
	default:
		return nil, fmt.Errorf("run id prefix %q is ambiguous", idOrPrefix)
	}
}

// ListRuns returns all runs, newest first, without their report bodies.
func (db *DB) ListRuns() ([]Run, error) {
	rows, err := db.conn.Query(`SELECT ` + runColumns + ` FROM runs ORDER BY generated_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.ProjectName, &r.DatasetName, &r.Status, &r.ReviewMode,
			&r.ChunkCount, &r.ResultCount, &r.FailureCount, &r.FlaggedCount, &r.GeneratedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// InsertExport records an exported report file.
func (db *DB) InsertExport(runID, format, path string) (int64, error) {
	result, err := db.conn.Exec(
		`INSERT INTO exports (run_id, format, path) VALUES (?, ?, ?)`,
		runID, format, path,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetExports returns the exports recorded for a run, oldest first.
func (db *DB) GetExports(runID string) ([]Export, error) {
	rows, err := db.conn.Query(
		`SELECT id, run_id, format, path, created_at FROM exports WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exports []Export
	for rows.Next() {
		var e Export
		if err := rows.Scan(&e.ID, &e.RunID, &e.Format, &e.Path, &e.CreatedAt); err != nil {
			return nil, err
		}
		exports = append(exports, e)
	}
	return exports, rows.Err()
}

// DeleteRun removes a run together with its exports and feedback.
func (db *DB) DeleteRun(id string) error {
	_, err := db.conn.Exec(`DELETE FROM runs WHERE id = ?`, id)
	return err
}

// GetStats returns aggregate database statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM runs", &s.Runs},
		{"SELECT COUNT(*) FROM runs WHERE status = 'complete'", &s.CompleteRuns},
		{"SELECT COUNT(*) FROM runs WHERE status = 'partial'", &s.PartialRuns},
		{"SELECT COUNT(*) FROM runs WHERE status = 'cancelled'", &s.CancelledRuns},
		{"SELECT COALESCE(SUM(result_count), 0) FROM runs", &s.Results},
		{"SELECT COALESCE(SUM(failure_count), 0) FROM runs", &s.Failures},
		{"SELECT COUNT(*) FROM exports", &s.Exports},
		{"SELECT COUNT(*) FROM entry_feedback", &s.Feedback},
	}

	for _, q := range queries {
		if err := db.conn.QueryRow(q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	return s, nil
}
