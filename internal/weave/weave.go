// Package weave turns literate R documents (.Rnw, .Snw, .nw) into LaTeX by
// running Sweave or knitr inside Rscript.
package weave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/weavetex/internal/apperr"
	"github.com/starford/weavetex/internal/concordance"
	"github.com/starford/weavetex/internal/models"
	"github.com/starford/weavetex/internal/process"
)

// Kind selects a weave engine.
type Kind int

const (
	Sweave Kind = iota
	Knitr
)

func (k Kind) String() string {
	switch k {
	case Sweave:
		return "sweave"
	case Knitr:
		return "knitr"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind maps an engine name ("Sweave", "knitr") to a Kind.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sweave":
		return Sweave, nil
	case "knitr":
		return Knitr, nil
	}
	return 0, fmt.Errorf("weave: %q: %w", name, apperr.ErrUnknownEngine)
}

// variant is the per-engine capability table.
type variant struct {
	// probe is an R expression that fails when the engine is not installed.
	// Empty means the engine ships with R.
	probe       string
	weaveExpr   func(file, encoding string, concordance bool) string
	tangleExpr  func(file, output, encoding string) string
	parseErrors func(output string, source []byte, sourceFile string) models.LogEntries
}

var variants = map[Kind]variant{
	Sweave: {
		weaveExpr: func(file, encoding string, _ bool) string {
			return fmt.Sprintf("utils::Sweave(%s, encoding=%s, concordance=TRUE)",
				rString(file), rString(encoding))
		},
		tangleExpr: func(file, _, encoding string) string {
			return fmt.Sprintf("utils::Stangle(%s, encoding=%s)", rString(file), rString(encoding))
		},
		parseErrors: parseSweaveErrors,
	},
	Knitr: {
		probe: `if (!requireNamespace("knitr", quietly=TRUE)) quit(status=1)`,
		weaveExpr: func(file, encoding string, concordance bool) string {
			expr := "library(knitr); "
			if concordance {
				expr += "opts_knit$set(concordance=TRUE); "
			}
			return expr + fmt.Sprintf("knit(%s, encoding=%s)", rString(file), rString(encoding))
		},
		tangleExpr: func(file, output, encoding string) string {
			return fmt.Sprintf("knitr::purl(%s, output=%s, encoding=%s)",
				rString(file), rString(output), rString(encoding))
		},
		parseErrors: parseKnitrErrors,
	},
}

// Options configures how R is located and invoked.
type Options struct {
	// RHome is the R installation root; Rscript is looked up in RHome/bin
	// before PATH.
	RHome string
	// AlwaysEnableConcordance forces concordance output for engines where it
	// is opt-in.
	AlwaysEnableConcordance bool
	// Env is the child environment; nil inherits the parent's.
	Env []string
}

// Result is the outcome of a weave.
type Result struct {
	Succeeded    bool
	Concordances *concordance.Concordances
	Entries      models.LogEntries
	Message      string
	ExitCode     int
}

// Engine runs one weave variant.
type Engine struct {
	kind   Kind
	impl   variant
	exec   process.Executor
	opts   Options
	logger *slog.Logger
}

// New creates an Engine of the given kind.
func New(kind Kind, exec process.Executor, opts Options, logger *slog.Logger) (*Engine, error) {
	impl, ok := variants[kind]
	if !ok {
		return nil, fmt.Errorf("weave: %v: %w", kind, apperr.ErrUnknownEngine)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{kind: kind, impl: impl, exec: exec, opts: opts, logger: logger}, nil
}

// Kind returns the engine variant.
func (e *Engine) Kind() Kind { return e.kind }

func (e *Engine) rscript() (string, error) {
	dir := ""
	if e.opts.RHome != "" {
		dir = filepath.Join(e.opts.RHome, "bin")
	}
	path, err := process.Find(dir, "Rscript")
	if err != nil {
		return "", fmt.Errorf("weave: Rscript: %w", apperr.ErrUnavailable)
	}
	return path, nil
}

func (e *Engine) command(rscript, dir, expr string) process.Command {
	return process.Command{
		Name: "Rscript",
		Path: rscript,
		Args: []string{"--vanilla", "-e", expr},
		Dir:  dir,
		Env:  e.opts.Env,
	}
}

// Available reports nil when R and the engine package can be used.
func (e *Engine) Available(ctx context.Context) error {
	rscript, err := e.rscript()
	if err != nil {
		return err
	}
	if e.impl.probe == "" {
		return nil
	}
	out, err := e.exec.Run(ctx, e.command(rscript, "", e.impl.probe), nil)
	if err != nil {
		return fmt.Errorf("weave: probe %s: %w", e.kind, err)
	}
	if out.ExitCode != 0 {
		return fmt.Errorf("weave: %s package is not installed: %w", e.kind, apperr.ErrUnavailable)
	}
	return nil
}

// Weave converts sourceFile into <stem>.tex next to it. A non-nil error means
// R could not be launched or ctx was cancelled; tool failures are reported in
// the Result.
func (e *Engine) Weave(ctx context.Context, sourceFile, encoding string, onOutput func(string)) (Result, error) {
	if err := e.Available(ctx); err != nil {
		return Result{}, err
	}
	rscript, err := e.rscript()
	if err != nil {
		return Result{}, err
	}
	if encoding == "" {
		encoding = "UTF-8"
	}

	dir, base := filepath.Dir(sourceFile), filepath.Base(sourceFile)
	expr := e.impl.weaveExpr(base, encoding, e.opts.AlwaysEnableConcordance)
	e.logger.Info("weave: running",
		slog.String("engine", e.kind.String()),
		slog.String("file", sourceFile))

	out, err := e.exec.Run(ctx, e.command(rscript, dir, expr), onOutput)
	if err != nil {
		return Result{ExitCode: out.ExitCode}, fmt.Errorf("weave: %s: %w", e.kind, err)
	}

	if out.ExitCode != 0 {
		res := Result{ExitCode: out.ExitCode}
		res.Entries = e.ParseOutputForErrors(out.Output, sourceFile)
		if len(res.Entries) == 0 {
			res.Message = failureMessage(e.kind, out)
		}
		return res, nil
	}

	cs, err := concordance.ReadIfExists(sourceFile)
	if err != nil {
		e.logger.Warn("weave: concordance unreadable",
			slog.String("path", concordance.FileFor(sourceFile)),
			slog.String("error", err.Error()))
		cs = nil
	}
	return Result{Succeeded: true, Concordances: cs}, nil
}

// ParseOutputForErrors extracts chunk errors from the engine's console output.
func (e *Engine) ParseOutputForErrors(output, sourceFile string) models.LogEntries {
	source, err := os.ReadFile(sourceFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		e.logger.Warn("weave: read source",
			slog.String("path", sourceFile),
			slog.String("error", err.Error()))
	}
	return e.impl.parseErrors(output, source, sourceFile)
}

// Tangle extracts the R code of sourceFile into <stem>.R and returns its path.
func (e *Engine) Tangle(ctx context.Context, sourceFile, encoding string, onOutput func(string)) (string, error) {
	if err := e.Available(ctx); err != nil {
		return "", err
	}
	rscript, err := e.rscript()
	if err != nil {
		return "", err
	}
	if encoding == "" {
		encoding = "UTF-8"
	}

	dir, base := filepath.Dir(sourceFile), filepath.Base(sourceFile)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	output := stem + ".R"
	expr := e.impl.tangleExpr(base, output, encoding)

	out, err := e.exec.Run(ctx, e.command(rscript, dir, expr), onOutput)
	if err != nil {
		return "", fmt.Errorf("weave: tangle %s: %w", sourceFile, err)
	}
	if out.ExitCode != 0 {
		return "", fmt.Errorf("weave: tangle %s: %s", sourceFile, failureMessage(e.kind, out))
	}
	return filepath.Join(dir, output), nil
}

func failureMessage(kind Kind, out process.Outcome) string {
	for _, line := range strings.Split(out.Output, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "Error") {
			return line
		}
	}
	return fmt.Sprintf("%s exited with code %d", kind, out.ExitCode)
}

// rString quotes s as a single-quoted R string literal.
func rString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}
