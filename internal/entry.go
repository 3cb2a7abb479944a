// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/weavetex/internal/api"
	"github.com/starford/weavetex/internal/compile"
	"github.com/starford/weavetex/internal/docfs"
	"github.com/starford/weavetex/internal/history"
	"github.com/starford/weavetex/internal/jobservice"
	"github.com/starford/weavetex/internal/magic"
	"github.com/starford/weavetex/internal/mcpserver"
	"github.com/starford/weavetex/internal/process"
	"github.com/starford/weavetex/internal/sse"
	"github.com/starford/weavetex/internal/watch"
	"github.com/starford/weavetex/internal/weave"
)

// runtime is the shared wiring behind every command.
type runtime struct {
	cfg    *Config
	logger *slog.Logger
	exec   process.Executor
	db     *history.DB
	search *compile.Searcher
}

func (app *application) setup(logTo io.Writer) (*runtime, error) {
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(logTo, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	rt := &runtime{
		cfg:    cfg,
		logger: logger,
		exec:   app.exec,
		search: compile.NewSearcher(logger),
	}
	if rt.exec == nil {
		rt.exec = process.NewSupervisor(logger)
	}
	if cfg.SQLite.Enabled() {
		db, err := history.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("init history: %w", err)
		}
		rt.db = db
	}
	return rt, nil
}

func (rt *runtime) close() {
	if rt.db != nil {
		rt.db.Close()
	}
}

// store returns the history store, or a nil interface when disabled.
func (rt *runtime) store() history.Store {
	if rt.db == nil {
		return nil
	}
	return rt.db
}

func (rt *runtime) orchestrator(emitter compile.Emitter) *compile.Orchestrator {
	opts := []compile.Option{
		compile.WithLogger(rt.logger),
		compile.WithEmitter(emitter),
		compile.WithSearcher(rt.search),
	}
	if rt.db != nil {
		opts = append(opts, compile.WithRecorder(rt.db))
	}
	return compile.New(rt.exec, rt.cfg.Compile.Settings(), opts...)
}

func (rt *runtime) watcher(target, encoding string, starter watch.Starter, initial bool) (*watch.Watcher, error) {
	opts := []watch.Option{
		watch.WithDebounce(rt.cfg.Watch.Debounce),
		watch.WithEncoding(encoding),
		watch.WithLogger(rt.logger),
	}
	if rt.db != nil {
		opts = append(opts, watch.WithChecksums(rt.db))
	}
	if initial {
		opts = append(opts, watch.WithInitialCompile())
	}
	return watch.New(target, starter, opts...)
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)
	rt, err := app.setup(os.Stdout)
	if err != nil {
		return err
	}
	defer rt.close()

	cfg := rt.cfg
	logger := rt.logger
	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("workspace_root", cfg.Workspace.Root),
		slog.String("log_level", cfg.App.LogLevel.String()))

	broker := sse.NewBroker(cfg.Events.FlushInterval)
	defer broker.Close()

	orch := rt.orchestrator(broker)
	svc := jobservice.NewService(orch, rt.search, rt.store())
	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker, cfg.Workspace.Root)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Watch.Target != "" {
		w, err := rt.watcher(cfg.Watch.Target, "", orch, false)
		if err != nil {
			return fmt.Errorf("init watcher: %w", err)
		}
		g.Go(func() error {
			return w.Run(gCtx)
		})
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		if orch.Terminate() {
			logger.Info("Terminated running compile job")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// ErrCompileFailed is returned by Compile when the job did not succeed.
var ErrCompileFailed = errors.New("compile failed")

// Compile runs one job for target in the foreground and prints its output.
func Compile(ctx context.Context, target, encoding string, opts ...Option) error {
	app := newApplication(opts)
	rt, err := app.setup(os.Stderr)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	con := newConsole(app.out)
	orch := rt.orchestrator(con)
	if _, err := orch.Submit(compile.Request{TargetFile: target, Encoding: encoding}); err != nil {
		return err
	}

	select {
	case done := <-con.done:
		if !done.Succeeded {
			return ErrCompileFailed
		}
		return nil
	case <-ctx.Done():
		orch.Terminate()
		return ctx.Err()
	}
}

// Watch compiles target now and again whenever its sources change.
func Watch(ctx context.Context, target, encoding string, opts ...Option) error {
	app := newApplication(opts)
	rt, err := app.setup(os.Stderr)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch := rt.orchestrator(newConsole(app.out))
	w, err := rt.watcher(target, encoding, orch, true)
	if err != nil {
		return err
	}
	defer orch.Terminate()
	return w.Run(ctx)
}

// ServeMCP serves the compile tools over stdio.
func ServeMCP(_ context.Context, opts ...Option) error {
	app := newApplication(opts)
	rt, err := app.setup(os.Stderr)
	if err != nil {
		return err
	}
	defer rt.close()

	orch := rt.orchestrator(nil)
	defer orch.Terminate()
	svc := jobservice.NewService(orch, rt.search, rt.store())
	return mcpserver.New(svc, rt.cfg.MCP.WaitTimeout).ServeStdio()
}

// Tangle extracts the R code of a literate target. With diff it prints the
// changes against the previous script instead of the tool output.
func Tangle(ctx context.Context, target, engine, encoding string, diff bool, opts ...Option) error {
	app := newApplication(opts)
	rt, err := app.setup(os.Stderr)
	if err != nil {
		return err
	}
	defer rt.close()

	doc, err := docfs.Resolve(target)
	if err != nil {
		return err
	}
	if !doc.Literate() {
		return fmt.Errorf("tangle: %s is not a literate source", doc.Base())
	}
	source, err := os.ReadFile(doc.Path())
	if err != nil {
		return err
	}
	if engine == "" {
		engine, _ = magic.Lookup(magic.Parse(source), "Rnw", "weave")
	}
	if engine == "" {
		engine = rt.cfg.Compile.DefaultEngine
	}
	kind, err := weave.ParseKind(engine)
	if err != nil {
		return err
	}
	eng, err := weave.New(kind, rt.exec, weave.Options{RHome: rt.cfg.Compile.RHome}, rt.logger)
	if err != nil {
		return err
	}

	script := doc.Sibling(".R")
	previous, _ := os.ReadFile(script)

	var onOutput func(string)
	if !diff {
		onOutput = func(s string) { fmt.Fprint(app.out, s) }
	}
	written, err := eng.Tangle(ctx, doc.Path(), encoding, onOutput)
	if err != nil {
		return err
	}
	if !diff {
		fmt.Fprintf(app.out, "==> wrote %s\n", written)
		return nil
	}

	current, err := os.ReadFile(written)
	if err != nil {
		return err
	}
	text, err := weave.ScriptDiff(filepath.Base(written), previous, current)
	if err != nil {
		return err
	}
	if text == "" {
		fmt.Fprintf(app.out, "%s unchanged\n", filepath.Base(written))
		return nil
	}
	fmt.Fprint(app.out, text)
	return nil
}
