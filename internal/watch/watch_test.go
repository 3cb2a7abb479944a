package watch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/weavetex/internal/models"
	"github.com/starford/weavetex/internal/testutil"
)

type fakeStarter struct {
	mu      sync.Mutex
	busy    int
	starts  []string
	refused int
}

func (f *fakeStarter) Start(target, _ string, _ models.SourceLocation) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy > 0 {
		f.busy--
		f.refused++
		return false
	}
	f.starts = append(f.starts, target)
	return true
}

func (f *fakeStarter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func startWatcher(t *testing.T, target string, st Starter, opts ...Option) {
	t.Helper()
	opts = append([]Option{WithDebounce(50 * time.Millisecond), WithLogger(quietLogger())}, opts...)
	w, err := New(target, st, opts...)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(100 * time.Millisecond)
}

func realDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestWatch_WritesCoalesceIntoOneCompile(t *testing.T) {
	dir := realDir(t)
	target := testutil.WriteFile(t, dir, "doc.tex", "v0")
	st := &fakeStarter{}
	startWatcher(t, target, st)

	for _, v := range []string{"v1", "v2", "v3"} {
		if err := os.WriteFile(target, []byte(v), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	testutil.Eventually(t, 3*time.Second, func() bool { return st.count() == 1 })
	time.Sleep(150 * time.Millisecond)
	if n := st.count(); n != 1 {
		t.Fatalf("starts = %d, want 1", n)
	}
	if st.starts[0] != target {
		t.Errorf("target = %q, want %q", st.starts[0], target)
	}
}

func TestWatch_UnchangedContentSkipped(t *testing.T) {
	dir := realDir(t)
	target := testutil.WriteFile(t, dir, "doc.tex", "same")
	st := &fakeStarter{}
	startWatcher(t, target, st, WithChecksums(testutil.TestHistory(t)))

	if err := os.WriteFile(target, []byte("same"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	if n := st.count(); n != 0 {
		t.Fatalf("starts = %d, want 0", n)
	}
}

func TestWatch_ChapterAndBibTrigger(t *testing.T) {
	dir := realDir(t)
	target := testutil.WriteFile(t, dir, "doc.tex", "main")
	st := &fakeStarter{}
	startWatcher(t, target, st)

	if err := os.MkdirAll(filepath.Join(dir, "chapters"), 0o755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	testutil.WriteFile(t, dir, "chapters/intro.tex", "intro")
	testutil.Eventually(t, 3*time.Second, func() bool { return st.count() == 1 })

	testutil.WriteFile(t, dir, "refs.bib", "@book{a}")
	testutil.Eventually(t, 3*time.Second, func() bool { return st.count() == 2 })
}

func TestWatch_IgnoresGeneratedFiles(t *testing.T) {
	dir := realDir(t)
	target := testutil.WriteFile(t, dir, "doc.Rnw", "<<>>=\n1\n@\n")
	st := &fakeStarter{}
	startWatcher(t, target, st)

	testutil.WriteFile(t, dir, "doc.tex", "woven")
	testutil.WriteFile(t, dir, "doc-concordance.tex", "\\Sconcordance{}")
	testutil.WriteFile(t, dir, "doc.log", "log")
	time.Sleep(300 * time.Millisecond)
	if n := st.count(); n != 0 {
		t.Fatalf("starts = %d, want 0", n)
	}

	testutil.WriteFile(t, dir, "doc.Rnw", "<<>>=\n2\n@\n")
	testutil.Eventually(t, 3*time.Second, func() bool { return st.count() == 1 })
}

func TestWatch_RetriesWhileBusy(t *testing.T) {
	dir := realDir(t)
	target := testutil.WriteFile(t, dir, "doc.tex", "v0")
	st := &fakeStarter{busy: 2}
	startWatcher(t, target, st)

	testutil.WriteFile(t, dir, "doc.tex", "v1")
	testutil.Eventually(t, 3*time.Second, func() bool { return st.count() == 1 })
	st.mu.Lock()
	refused := st.refused
	st.mu.Unlock()
	if refused != 2 {
		t.Errorf("refused = %d, want 2", refused)
	}
}

func TestWatch_InitialCompile(t *testing.T) {
	dir := realDir(t)
	target := testutil.WriteFile(t, dir, "doc.tex", "v0")
	st := &fakeStarter{}
	startWatcher(t, target, st, WithInitialCompile())
	testutil.Eventually(t, time.Second, func() bool { return st.count() == 1 })
}

func TestRelevant(t *testing.T) {
	dir := realDir(t)
	target := testutil.WriteFile(t, dir, "paper.Rnw", "")
	w, err := New(target, &fakeStarter{})
	if err != nil {
		t.Fatal(err)
	}
	cases := map[string]bool{
		filepath.Join(dir, "paper.Rnw"):             true,
		filepath.Join(dir, "paper.tex"):             false,
		filepath.Join(dir, "paper-concordance.tex"): false,
		filepath.Join(dir, "appendix.tex"):          true,
		filepath.Join(dir, "style.STY"):             true,
		filepath.Join(dir, "paper.aux"):             false,
		filepath.Join(dir, "paper.pdf"):             false,
	}
	for path, want := range cases {
		if got := w.Relevant(path); got != want {
			t.Errorf("Relevant(%s) = %v, want %v", filepath.Base(path), got, want)
		}
	}
}
