package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/weavetex/internal/apperr"
	"github.com/starford/weavetex/internal/jobservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc  *jobservice.Service
	root string
}

// NewHandler creates a new Handler. Compile targets must live under root
// when it is non-empty.
func NewHandler(svc *jobservice.Service, root string) *Handler {
	return &Handler{svc: svc, root: NewPdfHandler(root).root}
}

// confine applies the workspace root to the source and PDF paths of a
// synctex query. Empty paths pass through.
func (h *Handler) confine(file, pdf string) (string, string, error) {
	paths := [2]string{file, pdf}
	for i, p := range paths {
		if p == "" {
			continue
		}
		abs, err := within(h.root, p)
		if err != nil {
			return "", "", err
		}
		paths[i] = abs
	}
	return paths[0], paths[1], nil
}

// writeServiceError maps service errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, jobservice.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperr.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, apperr.ErrJobActive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, apperr.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// Compile handles POST /api/compile.
//
//	@Summary		Start compiling a document
//	@Tags			compile
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CompileRequest	true	"Document to compile"
//	@Success		202		{object}	CompileResponse
//	@Failure		400		{object}	errorResponse
//	@Failure		404		{object}	errorResponse
//	@Failure		409		{object}	errorResponse
//	@Security		BearerAuth
//	@Router			/compile [post]
func (h *Handler) Compile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req CompileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.TargetFile != "" {
		abs, err := within(h.root, req.TargetFile)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.TargetFile = abs
	}
	id, err := h.svc.Compile(r.Context(), req)
	if err != nil {
		writeServiceError(w, "compile", err)
		return
	}
	writeJSON(w, http.StatusAccepted, CompileResponse{JobID: id})
}

// Terminate handles POST /api/terminate.
//
//	@Summary		Stop the running compile
//	@Tags			compile
//	@Produce		json
//	@Success		200	{object}	TerminateResponse
//	@Security		BearerAuth
//	@Router			/terminate [post]
func (h *Handler) Terminate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, TerminateResponse{Terminated: h.svc.Terminate(r.Context())})
}

// Status handles GET /api/status.
//
//	@Summary		Report the active compile job
//	@Tags			compile
//	@Produce		json
//	@Success		200	{object}	compile.Status
//	@Security		BearerAuth
//	@Router			/status [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status(r.Context()))
}

// Forward handles GET /api/synctex/forward.
//
//	@Summary		Map a source line to a PDF position
//	@Tags			synctex
//	@Produce		json
//	@Param			file		query		string	true	"Source file"
//	@Param			line		query		int		true	"1-based line"
//	@Param			column		query		int		false	"Column"
//	@Param			pdf			query		string	false	"PDF path; defaults to the source's sibling"
//	@Param			from_click	query		bool	false	"Skip clamping to page content"
//	@Success		200			{object}	models.PdfLocation
//	@Failure		400			{object}	errorResponse
//	@Failure		404			{object}	errorResponse
//	@Security		BearerAuth
//	@Router			/synctex/forward [get]
func (h *Handler) Forward(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	line, _ := strconv.Atoi(q.Get("line"))
	column, _ := strconv.Atoi(q.Get("column"))
	fromClick, _ := strconv.ParseBool(q.Get("from_click"))
	file, pdf, err := h.confine(q.Get("file"), q.Get("pdf"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	loc, err := h.svc.Forward(r.Context(), jobservice.ForwardRequest{
		PdfPath:   pdf,
		File:      file,
		Line:      line,
		Column:    column,
		FromClick: fromClick,
	})
	if err != nil {
		writeServiceError(w, "forward search", err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

// Inverse handles GET /api/synctex/inverse.
//
//	@Summary		Map a PDF position to a source line
//	@Tags			synctex
//	@Produce		json
//	@Param			pdf		query		string	true	"PDF path"
//	@Param			page	query		int		true	"1-based page"
//	@Param			x		query		number	true	"X in big points"
//	@Param			y		query		number	true	"Y in big points from the top"
//	@Success		200		{object}	models.SourceLocation
//	@Failure		400		{object}	errorResponse
//	@Failure		404		{object}	errorResponse
//	@Security		BearerAuth
//	@Router			/synctex/inverse [get]
func (h *Handler) Inverse(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	x, _ := strconv.ParseFloat(q.Get("x"), 64)
	y, _ := strconv.ParseFloat(q.Get("y"), 64)
	_, pdf, err := h.confine("", q.Get("pdf"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	loc, err := h.svc.Inverse(r.Context(), jobservice.InverseRequest{
		PdfPath: pdf,
		Page:    page,
		X:       x,
		Y:       y,
	})
	if err != nil {
		writeServiceError(w, "inverse search", err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

// History handles GET /api/history.
//
//	@Summary		List finished compile jobs, newest first
//	@Tags			history
//	@Produce		json
//	@Param			limit	query		int	false	"Max jobs"
//	@Success		200		{object}	HistoryResponse
//	@Security		BearerAuth
//	@Router			/history [get]
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	jobs, err := h.svc.History(r.Context(), limit)
	if err != nil {
		writeServiceError(w, "list history", err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Jobs: jobs})
}

// Search handles GET /api/history/search.
//
//	@Summary		Search recorded errors and warnings
//	@Tags			history
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errorResponse
//	@Security		BearerAuth
//	@Router			/history/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	hits, err := h.svc.Search(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		writeServiceError(w, "search history", err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: hits})
}

// Job handles GET /api/history/{id}.
//
//	@Summary		Get one finished job with its log entries
//	@Tags			history
//	@Produce		json
//	@Param			id	path		string	true	"Job id"
//	@Success		200	{object}	history.Job
//	@Failure		404	{object}	errorResponse
//	@Security		BearerAuth
//	@Router			/history/{id} [get]
func (h *Handler) Job(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.Job(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, "get job", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
