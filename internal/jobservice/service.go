// Package jobservice is the request-facing facade over the compile
// orchestrator, synctex search and job history.
package jobservice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/weavetex/internal/apperr"
	"github.com/starford/weavetex/internal/compile"
	"github.com/starford/weavetex/internal/history"
	"github.com/starford/weavetex/internal/models"
)

// ErrInvalid wraps request validation failures.
var ErrInvalid = errors.New("invalid request")

// CompileRequest asks for one compile.
type CompileRequest struct {
	TargetFile string                `json:"target_file"`
	Encoding   string                `json:"encoding,omitempty"`
	Location   models.SourceLocation `json:"location,omitzero"`
}

// Validate implements validation.Validatable.
func (r CompileRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.TargetFile, validation.Required),
	)
}

// ForwardRequest asks where a source line appears in a PDF.
type ForwardRequest struct {
	PdfPath   string `json:"pdf_path,omitempty"`
	File      string `json:"file"`
	Line      int    `json:"line"`
	Column    int    `json:"column,omitempty"`
	FromClick bool   `json:"from_click,omitempty"`
}

// Validate implements validation.Validatable.
func (r ForwardRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.File, validation.Required),
		validation.Field(&r.Line, validation.Required, validation.Min(1)),
	)
}

// InverseRequest asks which source line produced a point in a PDF.
type InverseRequest struct {
	PdfPath string  `json:"pdf_path"`
	Page    int     `json:"page"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

// Validate implements validation.Validatable.
func (r InverseRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.PdfPath, validation.Required),
		validation.Field(&r.Page, validation.Required, validation.Min(1)),
	)
}

// Compiler is the part of the orchestrator the service drives.
type Compiler interface {
	Submit(req compile.Request) (string, error)
	Terminate() bool
	Status() compile.Status
}

// Service coordinates compile jobs, synctex lookups and history.
type Service struct {
	compiler Compiler
	search   *compile.Searcher
	store    history.Store
}

// NewService creates a new job service. store may be nil, in which case
// history queries report apperr.ErrUnavailable.
func NewService(compiler Compiler, search *compile.Searcher, store history.Store) *Service {
	return &Service{compiler: compiler, search: search, store: store}
}

// Compile starts a job and returns its id.
func (s *Service) Compile(_ context.Context, req CompileRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := os.Stat(req.TargetFile); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", apperr.ErrNotFound
		}
		return "", err
	}
	return s.compiler.Submit(compile.Request{
		TargetFile:     req.TargetFile,
		Encoding:       req.Encoding,
		SourceLocation: req.Location,
	})
}

// Terminate stops the active job. It reports whether one was running.
func (s *Service) Terminate(_ context.Context) bool {
	return s.compiler.Terminate()
}

// Status returns the active job's state.
func (s *Service) Status(_ context.Context) compile.Status {
	return s.compiler.Status()
}

// Forward runs a forward synctex search. An empty PdfPath means the PDF
// beside the source file.
func (s *Service) Forward(_ context.Context, req ForwardRequest) (models.PdfLocation, error) {
	if err := req.Validate(); err != nil {
		return models.PdfLocation{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	pdf := req.PdfPath
	if pdf == "" {
		pdf = compile.PdfFor(req.File)
	}
	loc, err := s.search.Forward(absPath(pdf), models.SourceLocation{
		File:   absPath(req.File),
		Line:   req.Line,
		Column: req.Column,
	}, req.FromClick)
	return loc, notFound(err)
}

// Inverse runs an inverse synctex search.
func (s *Service) Inverse(_ context.Context, req InverseRequest) (models.SourceLocation, error) {
	if err := req.Validate(); err != nil {
		return models.SourceLocation{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	loc, err := s.search.Inverse(models.PdfLocation{
		File: absPath(req.PdfPath),
		Page: req.Page,
		X:    req.X,
		Y:    req.Y,
	})
	return loc, notFound(err)
}

// History lists recent jobs, newest first.
func (s *Service) History(_ context.Context, limit int) ([]history.Job, error) {
	if s.store == nil {
		return nil, apperr.ErrUnavailable
	}
	jobs, err := s.store.List(limit)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []history.Job{}
	}
	return jobs, nil
}

// Search finds recorded log entries whose message or file matches query.
func (s *Service) Search(_ context.Context, query string, limit int) ([]history.Hit, error) {
	if s.store == nil {
		return nil, apperr.ErrUnavailable
	}
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalid)
	}
	hits, err := s.store.Search(query, limit)
	if err != nil {
		return nil, err
	}
	if hits == nil {
		hits = []history.Hit{}
	}
	return hits, nil
}

// Job returns one finished job with its log entries.
func (s *Service) Job(_ context.Context, id string) (*history.Job, error) {
	if s.store == nil {
		return nil, apperr.ErrUnavailable
	}
	return s.store.Get(id)
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// notFound folds a missing PDF into apperr.ErrNotFound, which a missing
// synctex sidecar already reports.
func notFound(err error) error {
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %v", apperr.ErrNotFound, err)
	}
	return err
}
