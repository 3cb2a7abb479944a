package history

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/weavetex/internal/apperr"
	"github.com/starford/weavetex/internal/models"
)

// Hit is a log entry matching a search, with the job it belongs to.
type Hit struct {
	JobID      string          `json:"job_id"`
	TargetFile string          `json:"target_file"`
	StartedAt  time.Time       `json:"started_at"`
	Entry      models.LogEntry `json:"entry"`
	Snippet    string          `json:"snippet"`
}

// Job is one finished compile job.
type Job struct {
	ID         string            `json:"id"`
	TargetFile string            `json:"target_file"`
	Program    string            `json:"program,omitempty"`
	Engine     string            `json:"engine,omitempty"`
	State      string            `json:"state"`
	Succeeded  bool              `json:"succeeded"`
	ExitCode   int               `json:"exit_code"`
	FailedTool string            `json:"failed_tool,omitempty"`
	Message    string            `json:"message,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Entries    models.LogEntries `json:"entries,omitempty"`
}

// Record stores a job and its log entries, replacing any earlier row with the
// same id.
func (db *DB) Record(job Job) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("history: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.Exec(`
		INSERT INTO compile_jobs (id, target_file, program, engine, state, succeeded,
			exit_code, failed_tool, message, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state       = excluded.state,
			succeeded   = excluded.succeeded,
			exit_code   = excluded.exit_code,
			failed_tool = excluded.failed_tool,
			message     = excluded.message,
			finished_at = excluded.finished_at
	`, job.ID, job.TargetFile, job.Program, job.Engine, job.State, job.Succeeded,
		job.ExitCode, job.FailedTool, job.Message, job.StartedAt.UTC(), job.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("history: upsert job: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM log_entries WHERE job_id = ?`, job.ID); err != nil {
		return fmt.Errorf("history: clear entries: %w", err)
	}
	if err := ftsDelete(tx, job.ID); err != nil {
		return err
	}
	if len(job.Entries) > 0 {
		stmt, err := tx.Prepare(`
			INSERT INTO log_entries (job_id, seq, type, file_path, line, col, message, log_file_path, log_line)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("history: prepare entry insert: %w", err)
		}
		defer stmt.Close()
		for i, e := range job.Entries {
			if _, err := stmt.Exec(job.ID, i, int(e.Type), e.FilePath, e.Line, e.Column,
				e.Message, e.LogFilePath, e.LogLine); err != nil {
				return fmt.Errorf("history: insert entry: %w", err)
			}
			if err := ftsInsert(tx, job.ID, i, e.FilePath, e.Message); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

const jobColumns = `id, target_file, program, engine, state, succeeded, exit_code,
	failed_tool, message, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (Job, error) {
	var j Job
	err := s.Scan(&j.ID, &j.TargetFile, &j.Program, &j.Engine, &j.State, &j.Succeeded,
		&j.ExitCode, &j.FailedTool, &j.Message, &j.StartedAt, &j.FinishedAt)
	return j, err
}

// List returns the most recent jobs, newest first, without their entries.
func (db *DB) List(limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`SELECT `+jobColumns+` FROM compile_jobs
		ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("history: scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Get returns one job with its entries, or apperr.ErrNotFound.
func (db *DB) Get(id string) (*Job, error) {
	j, err := scanJob(db.conn.QueryRow(`SELECT `+jobColumns+` FROM compile_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("history: job %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("history: get job: %w", err)
	}

	rows, err := db.conn.Query(`
		SELECT type, file_path, line, col, message, log_file_path, log_line
		FROM log_entries WHERE job_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("history: entries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e models.LogEntry
		var typ int
		if err := rows.Scan(&typ, &e.FilePath, &e.Line, &e.Column, &e.Message, &e.LogFilePath, &e.LogLine); err != nil {
			return nil, fmt.Errorf("history: scan entry: %w", err)
		}
		e.Type = models.LogEntryType(typ)
		j.Entries = append(j.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &j, nil
}

// GetChecksum returns the last compiled checksum for path, or "" when unknown.
func (db *DB) GetChecksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM source_checksums WHERE path = ?`, path).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("history: get checksum: %w", err)
	}
	return cs, nil
}

// SetChecksum records the checksum of path as of its latest compile.
func (db *DB) SetChecksum(path, sum string) error {
	_, err := db.conn.Exec(`
		INSERT INTO source_checksums (path, checksum, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET checksum = excluded.checksum, updated_at = excluded.updated_at
	`, path, sum, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("history: set checksum: %w", err)
	}
	return nil
}

const hitColumns = `j.id, j.target_file, j.started_at, e.type, e.file_path, e.line, e.col,
	e.message, e.log_file_path, e.log_line`

func scanHits(rows *sql.Rows) ([]Hit, error) {
	defer rows.Close()
	var out []Hit
	for rows.Next() {
		var h Hit
		var typ int
		if err := rows.Scan(&h.JobID, &h.TargetFile, &h.StartedAt, &typ,
			&h.Entry.FilePath, &h.Entry.Line, &h.Entry.Column, &h.Entry.Message,
			&h.Entry.LogFilePath, &h.Entry.LogLine, &h.Snippet); err != nil {
			return nil, err
		}
		h.Entry.Type = models.LogEntryType(typ)
		out = append(out, h)
	}
	return out, rows.Err()
}
