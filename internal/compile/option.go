package compile

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/starford/weavetex/internal/history"
	"github.com/starford/weavetex/internal/texlog"
	"github.com/starford/weavetex/internal/weave"
)

// Settings are the user and project defaults for a compile.
type Settings struct {
	DefaultProgram string
	DefaultEngine  string
	// ProjectProgram and ProjectEngine override the global defaults when set.
	ProjectProgram string
	ProjectEngine  string

	BinDir                  string
	RHome                   string
	ShellEscape             bool
	AlwaysEnableConcordance bool
	MaxPasses               int
	TerminateTimeout        time.Duration
}

// Environment variables that override project and global defaults.
const (
	EnvProgram = "WEAVETEX_TEX_PROGRAM"
	EnvEngine  = "WEAVETEX_WEAVE_ENGINE"
)

// Weaver converts a literate document into LaTeX.
type Weaver interface {
	Weave(ctx context.Context, sourceFile, encoding string, onOutput func(string)) (weave.Result, error)
}

// WeaverFactory builds the Weaver for an engine kind.
type WeaverFactory func(kind weave.Kind) (Weaver, error)

// Terminator kills every supervised child process.
type Terminator interface {
	TerminateAll(timeout time.Duration) bool
}

// Recorder persists finished jobs.
type Recorder interface {
	Record(job history.Job) error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithEmitter sets the event sink.
func WithEmitter(e Emitter) Option {
	return func(o *Orchestrator) { o.emitter = e }
}

// WithRecorder enables job history.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithTerminator overrides how running children are killed.
func WithTerminator(t Terminator) Option {
	return func(o *Orchestrator) { o.terminator = t }
}

// WithWeaverFactory overrides how weave engines are built.
func WithWeaverFactory(f WeaverFactory) Option {
	return func(o *Orchestrator) { o.weavers = f }
}

// WithLookupEnv overrides environment lookups for program and engine overrides.
func WithLookupEnv(f func(string) (string, bool)) Option {
	return func(o *Orchestrator) { o.lookupEnv = f }
}

// WithEnviron sets the base environment for child processes.
func WithEnviron(env []string) Option {
	return func(o *Orchestrator) { o.environ = env }
}

// WithLogFilter installs a filter for parsed log entries.
func WithLogFilter(f texlog.Filter) Option {
	return func(o *Orchestrator) { o.filter = f }
}

// WithAliaser overrides home-directory aliasing in events.
func WithAliaser(a Aliaser) Option {
	return func(o *Orchestrator) { o.aliaser = a }
}

// WithSearcher shares a Searcher (and its synctex cache) with other callers.
func WithSearcher(s *Searcher) Option {
	return func(o *Orchestrator) { o.searcher = s }
}

func defaultOptions(o *Orchestrator) {
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.emitter == nil {
		o.emitter = EmitterFunc(func(Event) {})
	}
	if o.lookupEnv == nil {
		o.lookupEnv = os.LookupEnv
	}
	if o.filter == nil {
		o.filter = texlog.Identity
	}
	if o.searcher == nil {
		o.searcher = NewSearcher(o.logger)
	}
	if o.settings.TerminateTimeout <= 0 {
		o.settings.TerminateTimeout = time.Second
	}
}
