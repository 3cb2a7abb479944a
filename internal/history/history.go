// Package history persists finished compile jobs in SQLite, with optional
// FTS5 search over their log messages.
package history

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the subset of DB the compile pipeline and the watcher depend on.
type Store interface {
	Record(job Job) error
	List(limit int) ([]Job, error)
	Get(id string) (*Job, error)
	Search(query string, limit int) ([]Hit, error)
	GetChecksum(path string) (string, error)
	SetChecksum(path, sum string) error
}

var _ Store = (*DB)(nil)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS compile_jobs (
	id          TEXT PRIMARY KEY,
	target_file TEXT NOT NULL,
	program     TEXT NOT NULL DEFAULT '',
	engine      TEXT NOT NULL DEFAULT '',
	state       TEXT NOT NULL,
	succeeded   INTEGER NOT NULL DEFAULT 0,
	exit_code   INTEGER NOT NULL DEFAULT 0,
	failed_tool TEXT NOT NULL DEFAULT '',
	message     TEXT NOT NULL DEFAULT '',
	started_at  DATETIME NOT NULL,
	finished_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS log_entries (
	job_id        TEXT NOT NULL REFERENCES compile_jobs(id) ON DELETE CASCADE,
	seq           INTEGER NOT NULL,
	type          INTEGER NOT NULL,
	file_path     TEXT NOT NULL DEFAULT '',
	line          INTEGER NOT NULL DEFAULT -1,
	col           INTEGER NOT NULL DEFAULT 1,
	message       TEXT NOT NULL DEFAULT '',
	log_file_path TEXT NOT NULL DEFAULT '',
	log_line      INTEGER NOT NULL DEFAULT -1,
	PRIMARY KEY (job_id, seq)
);

CREATE TABLE IF NOT EXISTS source_checksums (
	path       TEXT PRIMARY KEY,
	checksum   TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_compile_jobs_started ON compile_jobs(started_at);
CREATE INDEX IF NOT EXISTS idx_compile_jobs_target ON compile_jobs(target_file);
`

// DB wraps a sql.DB with history operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("history: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("history: apply schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("history: apply fts schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
