package database

import "database/sql"

// UpsertEntryFeedback inserts or updates feedback for a report entry.
func (db *DB) UpsertEntryFeedback(runID, resultID, rating string) error {
	_, err := db.conn.Exec(
		`INSERT OR REPLACE INTO entry_feedback (run_id, result_id, rating) VALUES (?, ?, ?)`,
		runID, resultID, rating,
	)
	return err
}

// DeleteEntryFeedback removes feedback for a report entry (toggle off).
func (db *DB) DeleteEntryFeedback(runID, resultID string) error {
	_, err := db.conn.Exec(`DELETE FROM entry_feedback WHERE run_id = ? AND result_id = ?`, runID, resultID)
	return err
}

// GetEntryFeedback returns feedback for a single entry.
func (db *DB) GetEntryFeedback(runID, resultID string) (*EntryFeedback, error) {
	row := db.conn.QueryRow(
		`SELECT run_id, result_id, rating, created_at FROM entry_feedback WHERE run_id = ? AND result_id = ?`,
		runID, resultID,
	)
	var f EntryFeedback
	if err := row.Scan(&f.RunID, &f.ResultID, &f.Rating, &f.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}

// GetEntryFeedbackMap returns a map of result_id → rating for a run.
func (db *DB) GetEntryFeedbackMap(runID string) (map[string]string, error) {
	rows, err := db.conn.Query(
		`SELECT result_id, rating FROM entry_feedback WHERE run_id = ?`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	m := make(map[string]string)
	for rows.Next() {
		var id, rating string
		if err := rows.Scan(&id, &rating); err != nil {
			return nil, err
		}
		m[id] = rating
	}
	return m, rows.Err()
}
