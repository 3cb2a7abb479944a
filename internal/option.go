package internal

import (
	"io"
	"os"

	"github.com/starford/weavetex/internal/process"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config *Config
	out    io.Writer
	exec   process.Executor
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithOutput sets where one-shot commands print tool output and results.
func WithOutput(w io.Writer) Option {
	return func(a *application) {
		a.out = w
	}
}

// WithExecutor replaces the process supervisor, mainly for tests.
func WithExecutor(e process.Executor) Option {
	return func(a *application) {
		a.exec = e
	}
}

func newApplication(opts []Option) *application {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.out == nil {
		app.out = os.Stdout
	}
	return app
}
