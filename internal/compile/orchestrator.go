// Package compile sequences weaving, the LaTeX convergence loop and log
// interpretation for one compile job at a time, and reports progress as
// events.
package compile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/weavetex/internal/apperr"
	"github.com/starford/weavetex/internal/concordance"
	"github.com/starford/weavetex/internal/docfs"
	"github.com/starford/weavetex/internal/history"
	"github.com/starford/weavetex/internal/latex"
	"github.com/starford/weavetex/internal/magic"
	"github.com/starford/weavetex/internal/models"
	"github.com/starford/weavetex/internal/process"
	"github.com/starford/weavetex/internal/synctex"
	"github.com/starford/weavetex/internal/texlog"
	"github.com/starford/weavetex/internal/weave"
)

// TerminatedNotice is the Output text emitted when a job is terminated.
const TerminatedNotice = "\nCompilation terminated.\n"

// Request asks for one document to be compiled.
type Request struct {
	TargetFile string
	// Encoding is the source encoding; a "% !TeX encoding" comment wins.
	Encoding string
	// SourceLocation is the editor position to show in the PDF afterwards.
	SourceLocation models.SourceLocation
}

// Status describes the active job, if any.
type Status struct {
	Running    bool      `json:"running"`
	JobID      string    `json:"job_id,omitempty"`
	TargetFile string    `json:"target_file,omitempty"`
	State      string    `json:"state"`
	StartedAt  time.Time `json:"started_at,omitzero"`
}

type job struct {
	id        string
	req       Request
	startedAt time.Time
	cancel    context.CancelFunc

	mu         sync.Mutex
	state      JobState
	program    string
	engine     string
	terminated bool
	finished   bool
}

// outcome is what a pipeline run produced.
type outcome struct {
	target      string
	pdfPath     string
	succeeded   bool
	synctex     bool
	pdfLocation *models.PdfLocation
	entries     models.LogEntries
	message     string
	exitCode    int
	failedTool  string
}

// Orchestrator owns the single compile slot.
type Orchestrator struct {
	exec     process.Executor
	runner   *latex.Runner
	settings Settings

	logger     *slog.Logger
	emitter    Emitter
	recorder   Recorder
	terminator Terminator
	weavers    WeaverFactory
	lookupEnv  func(string) (string, bool)
	environ    []string
	filter     texlog.Filter
	aliaser    Aliaser
	searcher   *Searcher

	vmu      sync.Mutex
	versions map[latex.Program]string

	mu      sync.Mutex
	current *job
}

// New creates an Orchestrator that runs tools through exec. When exec is a
// Terminator (such as *process.Supervisor) it is also used for termination.
func New(exec process.Executor, settings Settings, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		exec:     exec,
		settings: settings,
		aliaser:  DefaultAliaser(),
		versions: make(map[latex.Program]string),
	}
	for _, opt := range opts {
		opt(o)
	}
	defaultOptions(o)
	if o.terminator == nil {
		if t, ok := exec.(Terminator); ok {
			o.terminator = t
		}
	}
	if o.weavers == nil {
		o.weavers = o.defaultWeaver
	}
	o.runner = latex.NewRunner(exec, latex.Toolchain{
		BinDir:  settings.BinDir,
		RHome:   settings.RHome,
		Environ: o.environ,
	}, o.logger)
	return o
}

func (o *Orchestrator) defaultWeaver(kind weave.Kind) (Weaver, error) {
	e, err := weave.New(kind, o.exec, weave.Options{
		RHome:                   o.settings.RHome,
		AlwaysEnableConcordance: o.settings.AlwaysEnableConcordance,
		Env:                     o.environ,
	}, o.logger)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Searcher returns the searcher used for post-compile forward search.
func (o *Orchestrator) Searcher() *Searcher { return o.searcher }

// Start begins compiling targetFile in the background. It returns false,
// without side effects, when a job is already active.
func (o *Orchestrator) Start(targetFile, encoding string, loc models.SourceLocation) bool {
	_, err := o.Submit(Request{TargetFile: targetFile, Encoding: encoding, SourceLocation: loc})
	return err == nil
}

// Submit is Start returning the new job id, or apperr.ErrJobActive.
func (o *Orchestrator) Submit(req Request) (string, error) {
	if abs, err := filepath.Abs(req.TargetFile); err == nil {
		req.TargetFile = abs
	}

	o.mu.Lock()
	if o.current != nil {
		o.mu.Unlock()
		return "", apperr.ErrJobActive
	}
	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		id:        uuid.NewString(),
		req:       req,
		startedAt: time.Now(),
		cancel:    cancel,
		state:     Started,
	}
	o.current = j
	o.mu.Unlock()

	o.logger.Info("compile: started",
		slog.String("job_id", j.id),
		slog.String("file", req.TargetFile))
	o.emit(j, EventStarted, StartedData{
		TargetFile: o.aliaser.Alias(req.TargetFile),
		PdfPath:    o.aliaser.Alias(PdfFor(req.TargetFile)),
	})

	go o.run(ctx, j)
	return j.id, nil
}

// IsRunning reports whether a job holds the compile slot.
func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current != nil
}

// Status returns the active job's state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	j := o.current
	o.mu.Unlock()
	if j == nil {
		return Status{State: Idle.String()}
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return Status{
		Running:    true,
		JobID:      j.id,
		TargetFile: j.req.TargetFile,
		State:      j.state.String(),
		StartedAt:  j.startedAt,
	}
}

// Terminate kills the active job's processes, waits up to the configured
// timeout for them to exit and frees the slot whether or not they did. It
// returns false when no job is active.
func (o *Orchestrator) Terminate() bool {
	o.mu.Lock()
	j := o.current
	o.mu.Unlock()
	if j == nil {
		return false
	}

	j.mu.Lock()
	if j.terminated || j.finished {
		j.mu.Unlock()
		return false
	}
	j.terminated = true
	j.mu.Unlock()

	j.cancel()
	if o.terminator != nil && !o.terminator.TerminateAll(o.settings.TerminateTimeout) {
		o.logger.Warn("compile: processes still running after terminate",
			slog.String("job_id", j.id),
			slog.Duration("timeout", o.settings.TerminateTimeout))
	}

	j.mu.Lock()
	j.state = Terminated
	j.mu.Unlock()
	o.release(j)

	o.logger.Info("compile: terminated", slog.String("job_id", j.id))
	o.emitter.Emit(Event{Type: EventOutput, JobID: j.id, Data: OutputData{Text: TerminatedNotice}})
	o.record(j, Terminated, outcome{target: j.req.TargetFile, message: "terminated"})
	return true
}

func (o *Orchestrator) release(j *job) {
	o.mu.Lock()
	if o.current == j {
		o.current = nil
	}
	o.mu.Unlock()
}

// emit delivers an event unless the job was terminated.
func (o *Orchestrator) emit(j *job, typ string, data any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.terminated {
		return
	}
	o.emitter.Emit(Event{Type: typ, JobID: j.id, Data: data})
}

func (o *Orchestrator) output(j *job) func(string) {
	return func(text string) {
		o.emit(j, EventOutput, OutputData{Text: text})
	}
}

func (o *Orchestrator) transition(j *job, to JobState) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.terminated || j.finished || j.state == to {
		return
	}
	if !j.state.CanTransition(to) {
		o.logger.Warn("compile: invalid transition",
			slog.String("job_id", j.id),
			slog.String("from", j.state.String()),
			slog.String("to", to.String()))
		return
	}
	j.state = to
}

func (o *Orchestrator) isTerminated(j *job) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.terminated
}

func (o *Orchestrator) run(ctx context.Context, j *job) {
	defer j.cancel()

	out, doc := o.pipeline(ctx, j)
	if o.isTerminated(j) {
		return
	}
	if doc != nil {
		o.cleanup(*doc, out.succeeded, out.entries)
	}
	o.finish(j, out)
}

func (o *Orchestrator) finish(j *job, out outcome) {
	final := Failed
	if out.succeeded {
		final = Succeeded
	} else if len(out.entries) == 0 && out.message == "" {
		out.message = "compilation failed"
	}

	j.mu.Lock()
	if j.terminated {
		j.mu.Unlock()
		return
	}
	j.state = final
	j.finished = true
	j.mu.Unlock()

	o.release(j)
	o.logger.Info("compile: completed",
		slog.String("job_id", j.id),
		slog.Bool("succeeded", out.succeeded),
		slog.Int("entries", len(out.entries)))

	if len(out.entries) > 0 {
		o.emit(j, EventErrors, ErrorsData{Entries: o.aliaser.entries(out.entries)})
	}
	done := CompletedData{
		Succeeded:        out.succeeded,
		TargetFile:       o.aliaser.Alias(out.target),
		PdfPath:          o.aliaser.Alias(out.pdfPath),
		SynctexAvailable: out.synctex,
		Message:          StripHTML(out.message),
	}
	if out.succeeded && out.synctex && out.pdfLocation != nil {
		loc := *out.pdfLocation
		loc.File = o.aliaser.Alias(loc.File)
		done.PdfLocation = &loc
	}
	if !out.succeeded {
		done.Entries = o.aliaser.entries(out.entries)
	}
	o.emit(j, EventCompleted, done)
	o.record(j, final, out)
}

func (o *Orchestrator) record(j *job, state JobState, out outcome) {
	if o.recorder == nil {
		return
	}
	j.mu.Lock()
	program, engine := j.program, j.engine
	j.mu.Unlock()

	target := out.target
	if target == "" {
		target = j.req.TargetFile
	}
	err := o.recorder.Record(history.Job{
		ID:         j.id,
		TargetFile: target,
		Program:    program,
		Engine:     engine,
		State:      state.String(),
		Succeeded:  out.succeeded,
		ExitCode:   out.exitCode,
		FailedTool: out.failedTool,
		Message:    out.message,
		StartedAt:  j.startedAt,
		FinishedAt: time.Now(),
		Entries:    out.entries,
	})
	if err != nil {
		o.logger.Warn("compile: record history",
			slog.String("job_id", j.id),
			slog.String("error", err.Error()))
	}
}

// choose applies the precedence magic comment > environment > project > global.
func (o *Orchestrator) choose(comments []models.MagicComment, scope, variable, env, project, global string) string {
	if v, ok := magic.Lookup(comments, scope, variable); ok && v != "" {
		return v
	}
	if v, ok := o.lookupEnv(env); ok && strings.TrimSpace(v) != "" {
		return v
	}
	if project != "" {
		return project
	}
	return global
}

func (o *Orchestrator) version(ctx context.Context, program latex.Program) string {
	o.vmu.Lock()
	v, ok := o.versions[program]
	o.vmu.Unlock()
	if ok {
		return v
	}
	v = o.runner.Toolchain().Version(ctx, o.exec, program)
	if v == "" {
		// Probe again next job; the binary may appear later.
		return v
	}
	o.vmu.Lock()
	o.versions[program] = v
	o.vmu.Unlock()
	return v
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// pipeline runs one job to completion. The returned doc is nil when the
// target could not be resolved.
func (o *Orchestrator) pipeline(ctx context.Context, j *job) (outcome, *docfs.Doc) {
	out := outcome{target: j.req.TargetFile, pdfPath: PdfFor(j.req.TargetFile), exitCode: -1}
	fail := func(err error) (outcome, *docfs.Doc) {
		out.message = err.Error()
		o.logger.Warn("compile: failed",
			slog.String("job_id", j.id),
			slog.String("error", err.Error()))
		return out, nil
	}

	doc, err := docfs.Resolve(j.req.TargetFile)
	if err != nil {
		return fail(err)
	}
	if strings.Contains(doc.Base(), " ") {
		return fail(fmt.Errorf("compile: %s: %w", doc.Base(), apperr.ErrSpaceInPath))
	}
	out.target, out.pdfPath = doc.Path(), doc.Sibling(".pdf")

	source, err := os.ReadFile(doc.Path())
	if err != nil {
		return fail(fmt.Errorf("compile: read source: %w", err))
	}
	comments := magic.Parse(source)
	encoding := orDefault(j.req.Encoding, "UTF-8")
	if v, ok := magic.Lookup(comments, "TeX", "encoding"); ok && v != "" {
		encoding = v
	}

	s := o.settings
	program, err := latex.ParseProgram(o.choose(comments, "TeX", "program", EnvProgram,
		s.ProjectProgram, orDefault(s.DefaultProgram, string(latex.PDFLaTeX))))
	if err != nil {
		return fail(err)
	}
	j.mu.Lock()
	j.program = string(program)
	j.mu.Unlock()

	texFile := doc.Path()
	var conc *concordance.Concordances
	if doc.Literate() {
		kind, err := weave.ParseKind(o.choose(comments, "Rnw", "weave", EnvEngine,
			s.ProjectEngine, orDefault(s.DefaultEngine, weave.Sweave.String())))
		if err != nil {
			return fail(err)
		}
		j.mu.Lock()
		j.engine = kind.String()
		j.mu.Unlock()

		o.removeStale(doc)
		w, err := o.weavers(kind)
		if err != nil {
			return fail(err)
		}
		o.transition(j, Weaving)
		res, err := w.Weave(ctx, doc.Path(), encoding, o.output(j))
		if err != nil {
			if ctx.Err() != nil {
				return out, nil
			}
			return fail(err)
		}
		if !res.Succeeded {
			out.entries = res.Entries
			out.exitCode = res.ExitCode
			out.failedTool = kind.String()
			if len(res.Entries) == 0 {
				out.message = res.Message
			}
			return out, &doc
		}
		texFile = doc.Sibling(".tex")
		conc = res.Concordances
	}
	if conc == nil {
		if conc, err = concordance.ReadIfExists(doc.Path()); err != nil {
			o.logger.Warn("compile: concordance unreadable",
				slog.String("path", concordance.FileFor(doc.Path())),
				slog.String("error", err.Error()))
			conc = nil
		}
	}

	version := o.version(ctx, program)
	opts := latex.Options{
		FileLineError: !latex.IsMiKTeX(version),
		SyncTex:       !doc.Literate() || conc != nil,
		ShellEscape:   s.ShellEscape,
		Version:       version,
		MaxPasses:     s.MaxPasses,
	}

	o.transition(j, Compiling)
	res, err := o.runner.Run(ctx, program, texFile, opts, latex.Hooks{
		OnPhase: func(p latex.Phase) {
			switch p {
			case latex.PhaseBibtex:
				o.transition(j, BibtexPass)
			case latex.PhaseIndex:
				o.transition(j, IndexPass)
			default:
				o.transition(j, Compiling)
			}
		},
		OnOutput: o.output(j),
	})
	if err != nil {
		if ctx.Err() != nil {
			return out, nil
		}
		out.failedTool = string(program)
		out.message = err.Error()
		return out, &doc
	}

	entries, err := texlog.ParseFiles(texFile, res.BibtexPasses > 0, o.filter)
	if err != nil {
		o.logger.Warn("compile: parse logs",
			slog.String("file", texFile),
			slog.String("error", err.Error()))
	}
	if conc != nil {
		mapToSource(entries, texFile, conc)
	}
	out.entries = texlog.Reorder(entries, doc.Path())
	out.exitCode = res.ExitCode
	out.failedTool = res.FailedTool
	out.synctex = synctex.Available(out.pdfPath)
	out.succeeded = res.Succeeded() && !out.entries.HasErrors()

	if out.succeeded {
		o.searcher.Invalidate(out.pdfPath)
		if out.synctex && !j.req.SourceLocation.IsEmpty() {
			loc, err := o.searcher.Forward(out.pdfPath, j.req.SourceLocation, false)
			if err != nil {
				o.logger.Warn("compile: forward search",
					slog.String("pdf", out.pdfPath),
					slog.String("error", err.Error()))
			} else if !loc.IsEmpty() {
				out.pdfLocation = &loc
			}
		}
		return out, &doc
	}

	if !out.entries.HasErrors() {
		out.message = fmt.Sprintf("exit code %d", res.ExitCode)
		if res.FailedTool != "" && res.FailedTool != string(program) {
			out.message = fmt.Sprintf("%s: exit code %d", res.FailedTool, res.ExitCode)
		}
	}
	return out, &doc
}

// mapToSource rewrites entries about the woven .tex to literate source lines.
func mapToSource(entries models.LogEntries, texFile string, conc *concordance.Concordances) {
	texFile = filepath.Clean(texFile)
	for i := range entries {
		e := &entries[i]
		if e.Line <= 0 || filepath.Clean(e.FilePath) != texFile {
			continue
		}
		if m := conc.RnwLine(concordance.FileAndLine{File: e.FilePath, Line: e.Line}); !m.IsEmpty() {
			e.FilePath, e.Line = m.File, m.Line
		}
	}
}
