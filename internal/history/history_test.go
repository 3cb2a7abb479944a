package history

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/weavetex/internal/apperr"
	"github.com/starford/weavetex/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	for _, table := range []string{"compile_jobs", "log_entries", "source_checksums"} {
		var count int
		if err := db.conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&count); err != nil {
			t.Fatalf("%s table missing: %v", table, err)
		}
	}
}

func TestRecordAndGet(t *testing.T) {
	db := testDB(t)
	start := time.Now().Add(-time.Second)
	job := Job{
		ID:         "job-1",
		TargetFile: "/docs/doc.tex",
		Program:    "pdflatex",
		State:      "failed",
		ExitCode:   1,
		Message:    "exit code 1",
		StartedAt:  start,
		FinishedAt: time.Now(),
		Entries: models.LogEntries{
			{Type: models.LogError, FilePath: "/docs/doc.tex", Line: 3, Column: 1, Message: "Undefined control sequence.", LogFilePath: "/docs/doc.log", LogLine: 40},
			{Type: models.LogBadBox, FilePath: "/docs/doc.tex", Line: -1, Column: 1, Message: "Overfull \\hbox", LogFilePath: "/docs/doc.log", LogLine: 52},
		},
	}
	if err := db.Record(job); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := db.Get("job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TargetFile != job.TargetFile || got.Succeeded || got.ExitCode != 1 || got.Program != "pdflatex" {
		t.Errorf("job = %+v", got)
	}
	if len(got.Entries) != 2 || got.Entries[1].Type != models.LogBadBox || got.Entries[0].Line != 3 {
		t.Errorf("entries = %+v", got.Entries)
	}

	// Re-recording replaces the entries.
	job.State, job.Succeeded, job.Entries = "succeeded", true, nil
	if err := db.Record(job); err != nil {
		t.Fatalf("Record again: %v", err)
	}
	got, _ = db.Get("job-1")
	if !got.Succeeded || len(got.Entries) != 0 {
		t.Errorf("after re-record = %+v", got)
	}
}

func TestGetMissing(t *testing.T) {
	db := testDB(t)
	if _, err := db.Get("nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Get missing = %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	db := testDB(t)
	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c"} {
		at := base.Add(time.Duration(i) * time.Minute)
		if err := db.Record(Job{ID: id, TargetFile: "doc.tex", State: "succeeded", StartedAt: at, FinishedAt: at}); err != nil {
			t.Fatal(err)
		}
	}
	jobs, err := db.List(2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != "c" || jobs[1].ID != "b" {
		t.Errorf("jobs = %+v", jobs)
	}
}

func TestChecksums(t *testing.T) {
	db := testDB(t)
	if cs, err := db.GetChecksum("doc.tex"); err != nil || cs != "" {
		t.Fatalf("unknown checksum = %q, %v", cs, err)
	}
	if err := db.SetChecksum("doc.tex", "abc"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetChecksum("doc.tex", "def"); err != nil {
		t.Fatal(err)
	}
	if cs, _ := db.GetChecksum("doc.tex"); cs != "def" {
		t.Errorf("checksum = %q", cs)
	}
}
