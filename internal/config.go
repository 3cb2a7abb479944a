package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/weavetex/internal/compile"
	"github.com/starford/weavetex/internal/latex"
	"github.com/starford/weavetex/internal/weave"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	SQLite    SQLiteConfig      `yaml:"sqlite"`
	Auth      AuthConfig        `yaml:"auth"`
	Workspace WorkspaceConfig   `yaml:"workspace"`
	Compile   CompileConfig     `yaml:"compile"`
	Watch     WatchConfig       `yaml:"watch"`
	Events    EventsConfig      `yaml:"events"`
	MCP       MCPConfig         `yaml:"mcp"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for _, v := range []validation.Validatable{
		&c.App, &c.SQLite, &c.Auth, &c.Compile, &c.Watch, &c.Events, &c.MCP,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SQLiteConfig holds the job history database location. An empty path
// disables history.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return nil
}

// Enabled reports whether job history is persisted.
func (c *SQLiteConfig) Enabled() bool { return c.Path != "" }

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// WorkspaceConfig confines the HTTP surface to one directory tree.
type WorkspaceConfig struct {
	Root string `yaml:"root"`
}

// CompileConfig holds the defaults handed to the orchestrator.
type CompileConfig struct {
	DefaultProgram          string        `yaml:"default_program"`
	DefaultEngine           string        `yaml:"default_engine"`
	ProjectProgram          string        `yaml:"project_program"`
	ProjectEngine           string        `yaml:"project_engine"`
	BinDir                  string        `yaml:"bin_dir"`
	RHome                   string        `yaml:"r_home"`
	ShellEscape             bool          `yaml:"shell_escape"`
	AlwaysEnableConcordance bool          `yaml:"always_enable_concordance"`
	MaxPasses               int           `yaml:"max_passes"`
	TerminateTimeout        time.Duration `yaml:"terminate_timeout"`
}

func programRule(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	_, err := latex.ParseProgram(s)
	return err
}

func engineRule(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	_, err := weave.ParseKind(s)
	return err
}

// Validate validates the compile configuration.
func (c *CompileConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DefaultProgram, validation.By(programRule)),
		validation.Field(&c.ProjectProgram, validation.By(programRule)),
		validation.Field(&c.DefaultEngine, validation.By(engineRule)),
		validation.Field(&c.ProjectEngine, validation.By(engineRule)),
		validation.Field(&c.MaxPasses, validation.Min(0), validation.Max(100)),
		validation.Field(&c.TerminateTimeout, validation.Min(time.Duration(0))),
	)
}

// WatchConfig tunes the auto-recompile watcher. When Target is set, serve
// also recompiles it on change.
type WatchConfig struct {
	Target   string        `yaml:"target"`
	Debounce time.Duration `yaml:"debounce"`
}

// Validate validates the watch configuration.
func (c *WatchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.Required, validation.Min(10*time.Millisecond)),
	)
}

// EventsConfig tunes the SSE event stream.
type EventsConfig struct {
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// Validate validates the events configuration.
func (c *EventsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.FlushInterval, validation.Required, validation.Min(time.Millisecond)),
	)
}

// MCPConfig tunes the MCP tool server.
type MCPConfig struct {
	WaitTimeout time.Duration `yaml:"wait_timeout"`
}

// Validate validates the MCP configuration.
func (c *MCPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.WaitTimeout, validation.Required, validation.Min(time.Second)),
	)
}

// Settings converts the compile section into orchestrator settings.
func (c *CompileConfig) Settings() compile.Settings {
	return compile.Settings{
		DefaultProgram:          c.DefaultProgram,
		DefaultEngine:           c.DefaultEngine,
		ProjectProgram:          c.ProjectProgram,
		ProjectEngine:           c.ProjectEngine,
		BinDir:                  c.BinDir,
		RHome:                   c.RHome,
		ShellEscape:             c.ShellEscape,
		AlwaysEnableConcordance: c.AlwaysEnableConcordance,
		MaxPasses:               c.MaxPasses,
		TerminateTimeout:        c.TerminateTimeout,
	}
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		SQLite: SQLiteConfig{
			Path: "./weavetex.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Compile: CompileConfig{
			DefaultProgram:   string(latex.PDFLaTeX),
			DefaultEngine:    weave.Sweave.String(),
			MaxPasses:        latex.DefaultMaxPasses,
			TerminateTimeout: time.Second,
		},
		Watch: WatchConfig{
			Debounce: 300 * time.Millisecond,
		},
		Events: EventsConfig{
			FlushInterval: 100 * time.Millisecond,
		},
		MCP: MCPConfig{
			WaitTimeout: 5 * time.Minute,
		},
	}
}
