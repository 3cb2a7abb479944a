package latex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/weavetex/internal/process"
	"github.com/starford/weavetex/internal/texlog"
)

// DefaultMaxPasses bounds the number of TeX passes per run.
const DefaultMaxPasses = 10

// Phase is the step the runner is about to execute.
type Phase int

const (
	PhaseCompiling Phase = iota
	PhaseBibtex
	PhaseIndex
)

func (p Phase) String() string {
	switch p {
	case PhaseCompiling:
		return "compiling"
	case PhaseBibtex:
		return "bibtex"
	case PhaseIndex:
		return "makeindex"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Options controls the TeX command line.
type Options struct {
	FileLineError bool
	SyncTex       bool
	ShellEscape   bool
	// Version is the engine's --version banner; it selects MiKTeX flag
	// spellings.
	Version string
	// MaxPasses defaults to DefaultMaxPasses.
	MaxPasses int
}

// Hooks receive progress from a run. Either may be nil.
type Hooks struct {
	OnPhase  func(Phase)
	OnOutput func(string)
}

// Result summarizes a run.
type Result struct {
	ExitCode int
	// FailedTool names the tool whose non-zero exit ended the run.
	FailedTool   string
	Passes       int
	BibtexPasses int
	IndexPasses  int
	// Misses is the number of undefined citations after the last pass.
	Misses int
}

// Succeeded reports whether every tool exited zero.
func (r Result) Succeeded() bool {
	return r.ExitCode == 0 && r.FailedTool == ""
}

// Runner emulates texi2dvi over an Executor.
type Runner struct {
	exec   process.Executor
	tools  Toolchain
	logger *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(exec process.Executor, tools Toolchain, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{exec: exec, tools: tools, logger: logger}
}

// Toolchain returns the runner's toolchain.
func (r *Runner) Toolchain() Toolchain { return r.tools }

// Args returns the TeX command line for texFile.
func Args(texFile string, opts Options) []string {
	miktex := IsMiKTeX(opts.Version)
	args := []string{"-interaction=nonstopmode"}
	if opts.FileLineError && !miktex {
		args = append(args, "-file-line-error")
	}
	if opts.SyncTex {
		args = append(args, "-synctex=-1")
	}
	if opts.ShellEscape {
		if miktex {
			args = append(args, "--enable-write18")
		} else {
			args = append(args, "-shell-escape")
		}
	}
	return append(args, filepath.Base(texFile))
}

// run executes one tool invocation in the document directory.
type run struct {
	r     *Runner
	ctx   context.Context
	dir   string
	env   []string
	hooks Hooks
}

func (x *run) exec(phase Phase, name, path string, args []string) (process.Outcome, error) {
	if x.hooks.OnPhase != nil {
		x.hooks.OnPhase(phase)
	}
	x.r.logger.Debug("latex: exec",
		slog.String("tool", name),
		slog.String("args", strings.Join(args, " ")))
	out, err := x.r.exec.Run(x.ctx, process.Command{
		Name: name,
		Path: path,
		Args: args,
		Dir:  x.dir,
		Env:  x.env,
	}, x.hooks.OnOutput)
	if err != nil {
		return out, fmt.Errorf("latex: %s: %w", name, err)
	}
	return out, nil
}

// Run compiles texFile with program until undefined citations stop changing
// and the log no longer asks for a rerun, running bibtex and makeindex in
// between as needed. A non-zero exit of any tool ends the run and is recorded
// in Result.FailedTool. The returned error reports tools that could not be
// launched and cancellation.
func (r *Runner) Run(ctx context.Context, program Program, texFile string, opts Options, hooks Hooks) (Result, error) {
	texPath, err := r.tools.Find(string(program))
	if err != nil {
		return Result{ExitCode: -1}, err
	}
	maxPasses := opts.MaxPasses
	if maxPasses <= 0 {
		maxPasses = DefaultMaxPasses
	}

	dir := filepath.Dir(texFile)
	stem := strings.TrimSuffix(filepath.Base(texFile), filepath.Ext(texFile))
	logPath := filepath.Join(dir, stem+".log")
	idxPath := filepath.Join(dir, stem+".idx")
	args := Args(texFile, opts)

	x := &run{r: r, ctx: ctx, dir: dir, env: r.tools.Env(), hooks: hooks}
	var res Result

	texPass := func() (bool, error) {
		out, err := x.exec(PhaseCompiling, string(program), texPath, args)
		res.Passes++
		res.ExitCode = out.ExitCode
		if err != nil {
			return false, err
		}
		if out.ExitCode != 0 {
			res.FailedTool = string(program)
			return false, nil
		}
		return true, nil
	}

	ok, err := texPass()
	if err != nil || !ok {
		return res, err
	}
	misses, rerun := r.scanLog(logPath)
	res.Misses = misses

	prev := -1
	for res.Passes < maxPasses {
		if misses == prev && !rerun {
			break
		}
		hasIndex := fileExists(idxPath)
		if misses == 0 && !hasIndex && !rerun {
			break
		}
		prev = misses

		if misses > 0 {
			if bibtex, err := r.tools.Find("bibtex"); err == nil {
				out, err := x.exec(PhaseBibtex, "bibtex", bibtex, []string{stem})
				res.BibtexPasses++
				if err != nil {
					return res, err
				}
				if out.ExitCode != 0 {
					res.ExitCode, res.FailedTool = out.ExitCode, "bibtex"
					return res, nil
				}
			}
		}
		if hasIndex {
			if makeindex, err := r.tools.Find("makeindex"); err == nil {
				out, err := x.exec(PhaseIndex, "makeindex", makeindex, []string{stem + ".idx"})
				res.IndexPasses++
				if err != nil {
					return res, err
				}
				if out.ExitCode != 0 {
					res.ExitCode, res.FailedTool = out.ExitCode, "makeindex"
					return res, nil
				}
			}
		}

		if ok, err := texPass(); err != nil || !ok {
			return res, err
		}
		misses, rerun = r.scanLog(logPath)
		res.Misses = misses
	}

	r.logger.Info("latex: converged",
		slog.String("file", texFile),
		slog.Int("passes", res.Passes),
		slog.Int("bibtex", res.BibtexPasses),
		slog.Int("makeindex", res.IndexPasses),
		slog.Int("misses", res.Misses))
	return res, nil
}

func (r *Runner) scanLog(logPath string) (misses int, rerun bool) {
	data, err := os.ReadFile(logPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("latex: read log",
				slog.String("path", logPath),
				slog.String("error", err.Error()))
		}
		return 0, false
	}
	return texlog.CountCitationMisses(data), texlog.NeedsRerun(data)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
