// Package testutil provides shared test helpers for documents, fake tools and
// the history database.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/weavetex/internal/history"
	"github.com/starford/weavetex/internal/process"
)

// TestHistory opens a temporary history database that is closed on cleanup.
func TestHistory(t *testing.T) *history.DB {
	t.Helper()
	db, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// WriteFile writes content to dir/name, creating parent directories, and
// returns the full path.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// FakeBin creates an empty file standing in for a tool binary so that
// process.Find resolves it inside dir.
func FakeBin(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := WriteFile(t, dir, name, "")
		if err := os.Chmod(path, 0o755); err != nil {
			t.Fatal(err)
		}
	}
}

// FakeExecutor records commands and answers them with Handle.
type FakeExecutor struct {
	// Handle produces the outcome for a command. Nil means exit code 0 with
	// no output.
	Handle func(ctx context.Context, cmd process.Command, onOutput func(string)) (process.Outcome, error)

	mu    sync.Mutex
	calls []process.Command
}

// Run implements process.Executor.
func (f *FakeExecutor) Run(ctx context.Context, cmd process.Command, onOutput func(string)) (process.Outcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()
	if f.Handle == nil {
		return process.Outcome{}, nil
	}
	return f.Handle(ctx, cmd, onOutput)
}

// Calls returns a copy of every command run so far.
func (f *FakeExecutor) Calls() []process.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]process.Command(nil), f.calls...)
}

// Count returns how many commands named name were run.
func (f *FakeExecutor) Count(name string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Name == name {
			n++
		}
	}
	return n
}

// Eventually polls cond until it holds or the timeout expires.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

// DocSynctex is a minimal uncompressed synctex file for ./doc.tex: page 1
// holds a vbox from line 1 and an hbox for line 5.
const DocSynctex = "SyncTeX Version:1\n" +
	"Input:1:./doc.tex\n" +
	"Output:pdf\n" +
	"Magnification:1000\n" +
	"Unit:1\n" +
	"X Offset:0\n" +
	"Y Offset:0\n" +
	"Content:\n" +
	"{1\n" +
	"[1,1:4736286,47362867:30785863,42626580,0\n" +
	"(1,5:4736286,6578176:30785863,657817,131563\n" +
	"]\n" +
	"}1\n" +
	"Postamble:\n"
