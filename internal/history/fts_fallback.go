//go:build !sqlite_fts5

package history

import (
	"database/sql"
	"fmt"
)

// Without FTS5 the search reads log_entries directly.
func initFTS(_ *sql.DB) error { return nil }

func ftsInsert(_ *sql.Tx, _ string, _ int, _, _ string) error { return nil }

func ftsDelete(_ *sql.Tx, _ string) error { return nil }

// Search performs a LIKE-based search (fallback when FTS5 is not compiled in),
// newest job first.
func (db *DB) Search(query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + query + "%"
	rows, err := db.conn.Query(`
		SELECT `+hitColumns+`, substr(e.message, 1, 120)
		FROM log_entries e
		JOIN compile_jobs j ON j.id = e.job_id
		WHERE e.message LIKE ? OR e.file_path LIKE ?
		ORDER BY j.started_at DESC, e.seq
		LIMIT ?
	`, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("history: search: %w", err)
	}
	return scanHits(rows)
}
