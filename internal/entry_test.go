package internal

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/weavetex/internal/process"
	"github.com/starford/weavetex/internal/testutil"
)

const passLog = "This is pdfTeX, Version 3.14159265\n(./doc.tex\n[1] (./doc.aux) )\nOutput written on doc.pdf (1 page).\n"

const failLog = "This is pdfTeX, Version 3.14159265\n(./doc.tex\n./doc.tex:3: Undefined control sequence.\nl.3 \\foo\n\n)\n"

func testConfig(t *testing.T) (*Config, string) {
	t.Helper()
	bin := t.TempDir()
	testutil.FakeBin(t, bin, "pdflatex", "xelatex", "bibtex", "makeindex")
	rhome := t.TempDir()
	testutil.FakeBin(t, filepath.Join(rhome, "bin"), "Rscript")

	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cfg := NewDefaultConfig()
	cfg.App.LogLevel = slog.LevelError
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "history.db")
	cfg.Compile.BinDir = bin
	cfg.Compile.RHome = rhome
	return cfg, dir
}

func texExec(t *testing.T, log string, code int) *testutil.FakeExecutor {
	return &testutil.FakeExecutor{Handle: func(_ context.Context, cmd process.Command, onOutput func(string)) (process.Outcome, error) {
		if cmd.Name != "pdflatex" {
			return process.Outcome{Output: "pdfTeX 3.14159265\n"}, nil
		}
		testutil.WriteFile(t, cmd.Dir, "doc.log", log)
		testutil.WriteFile(t, cmd.Dir, "doc.pdf", "%PDF-1.5\n")
		if onOutput != nil {
			onOutput("Output written on doc.pdf\n")
		}
		return process.Outcome{ExitCode: code}, nil
	}}
}

func TestCompile_Success(t *testing.T) {
	cfg, dir := testConfig(t)
	tex := testutil.WriteFile(t, dir, "doc.tex", "\\documentclass{article}\n")
	var out bytes.Buffer

	err := Compile(context.Background(), tex, "", WithConfig(cfg), WithOutput(&out), WithExecutor(texExec(t, passLog, 0)))
	if err != nil {
		t.Fatalf("Compile: %v\n%s", err, out.String())
	}
	for _, want := range []string{"==> compiling", "Output written on doc.pdf", "==> wrote"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestCompile_FailurePrintsEntries(t *testing.T) {
	cfg, dir := testConfig(t)
	tex := testutil.WriteFile(t, dir, "doc.tex", "x\n")
	var out bytes.Buffer

	err := Compile(context.Background(), tex, "", WithConfig(cfg), WithOutput(&out), WithExecutor(texExec(t, failLog, 1)))
	if !errors.Is(err, ErrCompileFailed) {
		t.Fatalf("err = %v, want ErrCompileFailed", err)
	}
	if !strings.Contains(out.String(), "doc.tex:3: error: Undefined control sequence.") {
		t.Errorf("output:\n%s", out.String())
	}
}

func TestCompile_RequiresConfig(t *testing.T) {
	if err := Compile(context.Background(), "doc.tex", ""); err == nil {
		t.Error("expected error without config")
	}
}

func tangleExec(t *testing.T, script string) *testutil.FakeExecutor {
	return &testutil.FakeExecutor{Handle: func(_ context.Context, cmd process.Command, onOutput func(string)) (process.Outcome, error) {
		if cmd.Dir != "" && strings.Contains(strings.Join(cmd.Args, " "), "Stangle") {
			testutil.WriteFile(t, cmd.Dir, "doc.R", script)
			if onOutput != nil {
				onOutput("Writing to file doc.R\n")
			}
		}
		return process.Outcome{}, nil
	}}
}

func TestTangle_Diff(t *testing.T) {
	cfg, dir := testConfig(t)
	rnw := testutil.WriteFile(t, dir, "doc.Rnw", "<<>>=\nx <- 2\n@\n")
	testutil.WriteFile(t, dir, "doc.R", "x <- 1\n")
	var out bytes.Buffer

	err := Tangle(context.Background(), rnw, "", "", true, WithConfig(cfg), WithOutput(&out), WithExecutor(tangleExec(t, "x <- 2\n")))
	if err != nil {
		t.Fatalf("Tangle: %v", err)
	}
	for _, want := range []string{"--- a/doc.R", "+++ b/doc.R", "-x <- 1", "+x <- 2"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("diff missing %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	if err := Tangle(context.Background(), rnw, "Sweave", "", true, WithConfig(cfg), WithOutput(&out), WithExecutor(tangleExec(t, "x <- 2\n"))); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "doc.R unchanged\n" {
		t.Errorf("second run = %q", got)
	}
}

func TestTangle_RejectsPlainTeX(t *testing.T) {
	cfg, dir := testConfig(t)
	tex := testutil.WriteFile(t, dir, "doc.tex", "x")
	if err := Tangle(context.Background(), tex, "", "", false, WithConfig(cfg), WithExecutor(&testutil.FakeExecutor{})); err == nil {
		t.Error("expected error for .tex target")
	}
}
