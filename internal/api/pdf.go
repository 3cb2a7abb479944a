package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// PdfHandler serves compiled PDFs from inside a workspace root.
type PdfHandler struct {
	root string
}

// NewPdfHandler creates a handler confined to root. An empty root allows
// any absolute path.
func NewPdfHandler(root string) *PdfHandler {
	if root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
		if real, err := resolveLinks(root); err == nil {
			root = real
		}
	}
	return &PdfHandler{root: root}
}

// within resolves name, following symlinks, and rejects paths that end up
// outside the root.
func within(root, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("file is required")
	}
	abs, err := filepath.Abs(name)
	if err != nil {
		return "", err
	}
	if root == "" {
		return abs, nil
	}
	real, err := resolveLinks(abs)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", name, err)
	}
	if real != root && !strings.HasPrefix(real, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes workspace root")
	}
	return real, nil
}

// resolveLinks evaluates symlinks in the longest existing prefix of path and
// appends the missing tail unchanged.
func resolveLinks(path string) (string, error) {
	var tail []string
	for {
		real, err := filepath.EvalSymlinks(path)
		if err == nil {
			return filepath.Join(append([]string{real}, tail...)...), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(path)
		if parent == path {
			return "", err
		}
		tail = append([]string{filepath.Base(path)}, tail...)
		path = parent
	}
}

// ServeFile handles GET /api/pdf?file=<path>.
//
//	@Summary		Download a compiled PDF
//	@Tags			pdf
//	@Produce		application/pdf
//	@Param			file	query	string	true	"Absolute path of the PDF"
//	@Success		200
//	@Failure		400		{object}	errorResponse
//	@Failure		404		{object}	errorResponse
//	@Security		BearerAuth
//	@Router			/pdf [get]
func (h *PdfHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	abs, err := within(h.root, r.URL.Query().Get("file"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !strings.EqualFold(filepath.Ext(abs), ".pdf") {
		writeError(w, http.StatusBadRequest, "not a pdf")
		return
	}
	if info, statErr := os.Stat(abs); statErr != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	http.ServeFile(w, r, abs)
}
