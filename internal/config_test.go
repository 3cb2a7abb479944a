package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pkgconfig "github.com/starford/weavetex/pkg/config"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	s := cfg.Compile.Settings()
	if s.DefaultProgram != "pdflatex" || s.DefaultEngine != "Sweave" || s.MaxPasses != 10 {
		t.Errorf("settings = %+v", s)
	}
}

func TestCompileConfig_RejectsUnknownNames(t *testing.T) {
	cases := map[string]func(*CompileConfig){
		"program":         func(c *CompileConfig) { c.DefaultProgram = "lualatex" },
		"project program": func(c *CompileConfig) { c.ProjectProgram = "context" },
		"engine":          func(c *CompileConfig) { c.DefaultEngine = "pweave" },
		"passes":          func(c *CompileConfig) { c.MaxPasses = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			mutate(&cfg.Compile)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	cfg := NewDefaultConfig()
	cfg.Compile.DefaultProgram = "XeLaTeX"
	cfg.Compile.ProjectEngine = "knitr"
	if err := cfg.Validate(); err != nil {
		t.Errorf("mixed case names should pass: %v", err)
	}
}

func TestLoad_YAMLWithEnv(t *testing.T) {
	t.Setenv("WEAVETEX_TEST_TOKEN", "s3cret")
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
app:
  log_level: debug
  http:
    port: 9090
auth:
  mode: token
  token: ${WEAVETEX_TEST_TOKEN}
compile:
  default_program: xelatex
  default_engine: knitr
  max_passes: 5
  terminate_timeout: 2s
watch:
  debounce: 500ms
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.HTTP.Address() != ":9090" || cfg.Auth.Token != "s3cret" {
		t.Errorf("app/auth = %+v %+v", cfg.App, cfg.Auth)
	}
	if cfg.Compile.DefaultProgram != "xelatex" || cfg.Compile.MaxPasses != 5 || cfg.Compile.TerminateTimeout != 2*time.Second {
		t.Errorf("compile = %+v", cfg.Compile)
	}
	if cfg.Watch.Debounce != 500*time.Millisecond {
		t.Errorf("debounce = %v", cfg.Watch.Debounce)
	}
	if cfg.Events.FlushInterval != 100*time.Millisecond {
		t.Errorf("events default lost: %v", cfg.Events.FlushInterval)
	}
}
