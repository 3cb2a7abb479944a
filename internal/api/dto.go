package api

import (
	"github.com/starford/weavetex/internal/history"
	"github.com/starford/weavetex/internal/jobservice"
)

// CompileRequest is the request body for starting a compile.
type CompileRequest = jobservice.CompileRequest

// CompileResponse is returned when a job has been accepted.
type CompileResponse struct {
	JobID string `json:"job_id" example:"0b8f3c2e-5f7a-4e8e-9d55-0d6a2a1f3c11" validate:"required"`
}

// TerminateResponse reports whether a running job was stopped.
type TerminateResponse struct {
	Terminated bool `json:"terminated" validate:"required"`
}

// HistoryResponse wraps a page of finished jobs.
type HistoryResponse struct {
	Jobs []history.Job `json:"jobs" validate:"required"`
}

// SearchResponse wraps log entry search hits.
type SearchResponse struct {
	Results []history.Hit `json:"results" validate:"required"`
}
