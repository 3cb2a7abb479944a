package history

import (
	"testing"
	"time"

	"github.com/starford/weavetex/internal/models"
)

func TestSearch(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	jobs := []Job{
		{
			ID: "a", TargetFile: "/d/thesis.tex", State: "failed", StartedAt: now, FinishedAt: now,
			Entries: models.LogEntries{
				{Type: models.LogError, FilePath: "/d/chapter.tex", Line: 3, Column: 1, Message: "Undefined control sequence."},
				{Type: models.LogWarning, FilePath: "/d/thesis.tex", Line: 9, Column: 1, Message: "Citation `knuth' undefined"},
			},
		},
		{
			ID: "b", TargetFile: "/d/report.Rnw", State: "failed", StartedAt: now, FinishedAt: now,
			Entries: models.LogEntries{
				{Type: models.LogError, FilePath: "/d/report.Rnw", Line: 12, Column: 1, Message: "object 'x' not found"},
			},
		},
	}
	for _, j := range jobs {
		if err := db.Record(j); err != nil {
			t.Fatal(err)
		}
	}

	hits, err := db.Search("control", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].JobID != "a" || hits[0].Entry.Line != 3 || hits[0].Entry.Type != models.LogError {
		t.Fatalf("hits = %+v", hits)
	}
	if hits[0].TargetFile != "/d/thesis.tex" || hits[0].Snippet == "" {
		t.Errorf("hit = %+v", hits[0])
	}

	hits, err = db.Search("found", 10)
	if err != nil || len(hits) != 1 || hits[0].JobID != "b" {
		t.Errorf("found hits = %+v, %v", hits, err)
	}

	// Re-recording replaces the searchable entries.
	jobs[1].Entries = nil
	if err := db.Record(jobs[1]); err != nil {
		t.Fatal(err)
	}
	if hits, _ := db.Search("found", 10); len(hits) != 0 {
		t.Errorf("stale hits = %+v", hits)
	}
}
