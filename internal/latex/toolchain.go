// Package latex drives the TeX engine, bibtex and makeindex until the
// document's cross references converge.
package latex

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/weavetex/internal/apperr"
	"github.com/starford/weavetex/internal/process"
)

// Program is a TeX engine that produces PDF.
type Program string

const (
	PDFLaTeX Program = "pdflatex"
	XeLaTeX  Program = "xelatex"
)

// ParseProgram maps a program name such as "XeLaTeX" to a Program.
func ParseProgram(name string) (Program, error) {
	switch p := Program(strings.ToLower(strings.TrimSpace(name))); p {
	case PDFLaTeX, XeLaTeX:
		return p, nil
	}
	return "", fmt.Errorf("latex: %q: %w", name, apperr.ErrUnknownProgram)
}

// Toolchain locates TeX binaries and composes their environment.
type Toolchain struct {
	// BinDir is searched before PATH.
	BinDir string
	// RHome adds R's bundled texmf tree (Sweave.sty, bibliography styles)
	// to the TeX search paths.
	RHome string
	// Environ is the base environment; nil means os.Environ().
	Environ []string
}

// Find resolves a tool binary.
func (tc Toolchain) Find(name string) (string, error) {
	path, err := process.Find(tc.BinDir, name)
	if err != nil {
		return "", fmt.Errorf("latex: %s: %w", name, apperr.ErrUnavailable)
	}
	return path, nil
}

// Env returns the child environment with TeX input paths extended.
func (tc Toolchain) Env() []string {
	base := tc.Environ
	if base == nil {
		base = os.Environ()
	}
	return InputsEnv(base, tc.RHome)
}

// Version returns the first line of "<program> --version", or "" when the
// program cannot be run.
func (tc Toolchain) Version(ctx context.Context, exec process.Executor, program Program) string {
	path, err := tc.Find(string(program))
	if err != nil {
		return ""
	}
	out, err := exec.Run(ctx, process.Command{
		Name: string(program) + " --version",
		Path: path,
		Args: []string{"--version"},
	}, nil)
	if err != nil || out.ExitCode != 0 {
		return ""
	}
	first, _, _ := strings.Cut(out.Output, "\n")
	return strings.TrimSpace(first)
}

// IsMiKTeX reports whether a version string belongs to a MiKTeX engine.
func IsMiKTeX(version string) bool {
	return strings.Contains(version, "MiKTeX")
}

// inputVars maps each TeX search variable to its directory below R's texmf.
var inputVars = []struct {
	name   string
	subdir string
}{
	{"TEXINPUTS", filepath.Join("tex", "latex")},
	{"BIBINPUTS", filepath.Join("bibtex", "bib")},
	{"BSTINPUTS", filepath.Join("bibtex", "bst")},
}

// InputsEnv appends R's texmf directories to TEXINPUTS, BIBINPUTS and
// BSTINPUTS in environ, keeping the user's values first. Each value ends with
// an empty path segment so TeX also searches its default locations.
func InputsEnv(environ []string, rHome string) []string {
	sep := string(os.PathListSeparator)
	out := make([]string, 0, len(environ)+len(inputVars))
	existing := make(map[string]string)
	for _, kv := range environ {
		k, v, _ := strings.Cut(kv, "=")
		handled := false
		for _, iv := range inputVars {
			if k == iv.name {
				existing[k] = v
				handled = true
			}
		}
		if !handled {
			out = append(out, kv)
		}
	}

	for _, iv := range inputVars {
		var parts []string
		if v := strings.TrimRight(existing[iv.name], sep); v != "" {
			parts = append(parts, v)
		}
		if rHome != "" {
			parts = append(parts, filepath.Join(rHome, "share", "texmf", iv.subdir))
		}
		parts = append(parts, "")
		out = append(out, iv.name+"="+strings.Join(parts, sep))
	}
	return out
}
