//go:build sqlite_fts5

package history

import (
	"database/sql"
	"fmt"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS entries_fts USING fts5(
			job_id UNINDEXED,
			seq UNINDEXED,
			file_path,
			message,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsInsert(tx *sql.Tx, jobID string, seq int, filePath, message string) error {
	_, err := tx.Exec(`INSERT INTO entries_fts (job_id, seq, file_path, message) VALUES (?, ?, ?, ?)`,
		jobID, seq, filePath, message)
	if err != nil {
		return fmt.Errorf("history: insert fts: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, jobID string) error {
	if _, err := tx.Exec(`DELETE FROM entries_fts WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("history: clear fts: %w", err)
	}
	return nil
}

// Search runs an FTS5 query over log messages and file paths, best match first.
func (db *DB) Search(query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT `+hitColumns+`,
		       snippet(entries_fts, 3, '[', ']', '...', 16)
		FROM entries_fts f
		JOIN log_entries e ON e.job_id = f.job_id AND e.seq = f.seq
		JOIN compile_jobs j ON j.id = e.job_id
		WHERE entries_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("history: search: %w", err)
	}
	return scanHits(rows)
}
