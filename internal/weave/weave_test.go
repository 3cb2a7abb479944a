package weave

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/weavetex/internal/apperr"
	"github.com/starford/weavetex/internal/process"
	"github.com/starford/weavetex/internal/testutil"
)

const rnwSource = `\documentclass{article}
\begin{document}
Intro.
<<setup>>=
x <- 1
@
Middle.
<<plot, fig=TRUE>>=
plot(y)
@
\end{document}
`

func newEngine(t *testing.T, kind Kind, fake *testutil.FakeExecutor) *Engine {
	t.Helper()
	rhome := t.TempDir()
	testutil.FakeBin(t, filepath.Join(rhome, "bin"), "Rscript")
	e, err := New(kind, fake, Options{RHome: rhome}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestParseKind(t *testing.T) {
	for name, want := range map[string]Kind{"Sweave": Sweave, "knitr": Knitr, " KNITR ": Knitr} {
		got, err := ParseKind(name)
		if err != nil || got != want {
			t.Errorf("ParseKind(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseKind("pweave"); !errors.Is(err, apperr.ErrUnknownEngine) {
		t.Errorf("unknown engine err = %v", err)
	}
}

func TestChunkHeaders(t *testing.T) {
	got := ChunkHeaders([]byte(rnwSource))
	if len(got) != 2 || got[0] != 4 || got[1] != 8 {
		t.Errorf("headers = %v", got)
	}
}

func TestParseKnitrErrors_LabelShape(t *testing.T) {
	entries := parseKnitrErrors("Quitting from lines 10-12 (label)\nobject 'x' not found\n", nil, "/d/doc.Rnw")
	if len(entries) != 1 {
		t.Fatalf("entries = %+v", entries)
	}
	e := entries[0]
	if e.Line != 10 || e.Message != "object 'x' not found" || e.FilePath != "/d/doc.Rnw" || e.Column != 1 {
		t.Errorf("entry = %+v", e)
	}
}

func TestParseKnitrErrors_Shapes(t *testing.T) {
	tests := []struct {
		name   string
		output string
		line   int
		msg    string
	}{
		{"same line", "Quitting from lines 10-12: Error in eval(expr): object 'x' not found\n", 10, "object 'x' not found"},
		{"label with colon", "Quitting from lines 3-5 (chunk-a):\nError in f(): boom\n", 3, "boom"},
		{"bracket label", "Quitting from lines 7-9 [plot] (doc.Rnw)\nError in `eval()`:\n! object 'y' not found\n", 7, "object 'y' not found"},
		{"parse error offset", "Quitting from lines 10-12 (label)\nError in parse(text = x, srcfile = src): <text>:2:5: unexpected symbol\n", 12, "unexpected symbol"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := parseKnitrErrors(tt.output, nil, "doc.Rnw")
			if len(entries) != 1 {
				t.Fatalf("entries = %+v", entries)
			}
			if entries[0].Line != tt.line || entries[0].Message != tt.msg {
				t.Errorf("got line %d %q, want %d %q", entries[0].Line, entries[0].Message, tt.line, tt.msg)
			}
		})
	}
}

func TestParseSweaveErrors(t *testing.T) {
	output := "Writing to file doc.tex\n" +
		"Error:  chunk 2 (label = plot) \n" +
		"Error in plot(y) : object 'y' not found\n" +
		"Execution halted\n"
	entries := parseSweaveErrors(output, []byte(rnwSource), "doc.Rnw")
	if len(entries) != 1 {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].Line != 8 || entries[0].Message != "object 'y' not found" {
		t.Errorf("entry = %+v", entries[0])
	}

	entries = parseSweaveErrors("Error in Sweave(\"doc.Rnw\") : \n chunk 5 \nError : bad\n", []byte(rnwSource), "doc.Rnw")
	if len(entries) != 1 || entries[0].Line != -1 || entries[0].Message != "bad" {
		t.Errorf("unknown chunk = %+v", entries)
	}
}

func TestWeave_SweaveSuccessReadsConcordance(t *testing.T) {
	dir := t.TempDir()
	src := testutil.WriteFile(t, dir, "doc.Rnw", rnwSource)

	fake := &testutil.FakeExecutor{}
	fake.Handle = func(_ context.Context, cmd process.Command, onOutput func(string)) (process.Outcome, error) {
		testutil.WriteFile(t, cmd.Dir, "doc.tex", "tex\n")
		testutil.WriteFile(t, cmd.Dir, "doc-concordance.tex",
			"\\Sconcordance{concordance:doc.tex:doc.Rnw:1 3 1}\n")
		onOutput("Writing to file doc.tex\n")
		return process.Outcome{}, nil
	}
	e := newEngine(t, Sweave, fake)

	var out strings.Builder
	res, err := e.Weave(context.Background(), src, "", func(s string) { out.WriteString(s) })
	if err != nil {
		t.Fatalf("Weave: %v", err)
	}
	if !res.Succeeded || res.Concordances.Len() != 1 {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(out.String(), "Writing to file") {
		t.Errorf("output not streamed: %q", out.String())
	}

	calls := fake.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d", len(calls))
	}
	expr := calls[0].Args[len(calls[0].Args)-1]
	if expr != "utils::Sweave('doc.Rnw', encoding='UTF-8', concordance=TRUE)" {
		t.Errorf("expr = %s", expr)
	}
	if calls[0].Dir != dir {
		t.Errorf("dir = %s", calls[0].Dir)
	}
}

func TestWeave_KnitrFailureYieldsEntries(t *testing.T) {
	dir := t.TempDir()
	src := testutil.WriteFile(t, dir, "doc.Rnw", rnwSource)

	fake := &testutil.FakeExecutor{}
	fake.Handle = func(_ context.Context, cmd process.Command, _ func(string)) (process.Outcome, error) {
		expr := cmd.Args[len(cmd.Args)-1]
		if strings.Contains(expr, "requireNamespace") {
			return process.Outcome{}, nil
		}
		return process.Outcome{ExitCode: 1, Output: "Quitting from lines 10-12 (label)\nobject 'x' not found\n"}, nil
	}
	e := newEngine(t, Knitr, fake)
	e.opts.AlwaysEnableConcordance = true

	res, err := e.Weave(context.Background(), src, "latin1", nil)
	if err != nil {
		t.Fatalf("Weave: %v", err)
	}
	if res.Succeeded || len(res.Entries) != 1 || res.Entries[0].Line != 10 {
		t.Fatalf("result = %+v", res)
	}
	if res.Message != "" {
		t.Errorf("structured entries should replace the message, got %q", res.Message)
	}
	expr := fake.Calls()[1].Args[len(fake.Calls()[1].Args)-1]
	if !strings.Contains(expr, "opts_knit$set(concordance=TRUE)") || !strings.Contains(expr, "encoding='latin1'") {
		t.Errorf("expr = %s", expr)
	}
}

func TestWeave_FailureWithoutEntriesKeepsMessage(t *testing.T) {
	dir := t.TempDir()
	src := testutil.WriteFile(t, dir, "doc.Rnw", rnwSource)
	fake := &testutil.FakeExecutor{Handle: func(context.Context, process.Command, func(string)) (process.Outcome, error) {
		return process.Outcome{ExitCode: 2, Output: "Error: cannot open file 'doc.Rnw'\n"}, nil
	}}
	res, err := newEngine(t, Sweave, fake).Weave(context.Background(), src, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Succeeded || res.Message != "Error: cannot open file 'doc.Rnw'" {
		t.Errorf("result = %+v", res)
	}
}

func TestAvailable_KnitrMissing(t *testing.T) {
	fake := &testutil.FakeExecutor{Handle: func(context.Context, process.Command, func(string)) (process.Outcome, error) {
		return process.Outcome{ExitCode: 1}, nil
	}}
	err := newEngine(t, Knitr, fake).Available(context.Background())
	if !errors.Is(err, apperr.ErrUnavailable) {
		t.Errorf("Available = %v", err)
	}
	if err := newEngine(t, Sweave, fake).Available(context.Background()); err != nil {
		t.Errorf("sweave needs no probe: %v", err)
	}
}

func TestTangleAndDiff(t *testing.T) {
	dir := t.TempDir()
	src := testutil.WriteFile(t, dir, "doc.Rnw", rnwSource)
	previous := []byte("x <- 1\n")

	fake := &testutil.FakeExecutor{}
	fake.Handle = func(_ context.Context, cmd process.Command, _ func(string)) (process.Outcome, error) {
		if cmd.Dir != "" {
			testutil.WriteFile(t, cmd.Dir, "doc.R", "x <- 1\nplot(y)\n")
		}
		return process.Outcome{}, nil
	}
	path, err := newEngine(t, Knitr, fake).Tangle(context.Background(), src, "", nil)
	if err != nil {
		t.Fatalf("Tangle: %v", err)
	}
	if path != filepath.Join(dir, "doc.R") {
		t.Errorf("path = %s", path)
	}
	expr := fake.Calls()[1].Args[len(fake.Calls()[1].Args)-1]
	if !strings.Contains(expr, "knitr::purl('doc.Rnw', output='doc.R'") {
		t.Errorf("expr = %s", expr)
	}

	current, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	diff, err := ScriptDiff("doc.R", previous, current)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(diff, "+plot(y)") || !strings.Contains(diff, "--- a/doc.R") {
		t.Errorf("diff = %s", diff)
	}
	if same, _ := ScriptDiff("doc.R", current, current); same != "" {
		t.Errorf("identical scripts diff = %q", same)
	}
}
