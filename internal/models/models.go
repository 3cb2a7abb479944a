// Package models defines the domain types shared by the compile pipeline.
package models

import "path/filepath"

// LogEntryType classifies a diagnostic extracted from a tool log.
type LogEntryType int

const (
	LogError LogEntryType = iota
	LogWarning
	LogBadBox
)

func (t LogEntryType) String() string {
	switch t {
	case LogError:
		return "error"
	case LogWarning:
		return "warning"
	case LogBadBox:
		return "badbox"
	default:
		return "unknown"
	}
}

// LogEntry is a single diagnostic produced by a LaTeX, BibTeX or weave run.
// Line is -1 when the tool did not report one.
type LogEntry struct {
	Type        LogEntryType `json:"type"`
	FilePath    string       `json:"file"`
	Line        int          `json:"line"`
	Column      int          `json:"column"`
	Message     string       `json:"message"`
	LogFilePath string       `json:"log_file"`
	LogLine     int          `json:"log_line"`
}

// LogEntries is an ordered sequence of diagnostics from one pass.
type LogEntries []LogEntry

// HasErrors reports whether any entry is error-typed.
func (e LogEntries) HasErrors() bool {
	for _, entry := range e {
		if entry.Type == LogError {
			return true
		}
	}
	return false
}

// Referenced returns the set of cleaned file and log paths the entries point at.
func (e LogEntries) Referenced() map[string]struct{} {
	out := make(map[string]struct{}, len(e))
	for _, entry := range e {
		if entry.FilePath != "" {
			out[filepath.Clean(entry.FilePath)] = struct{}{}
		}
		if entry.LogFilePath != "" {
			out[filepath.Clean(entry.LogFilePath)] = struct{}{}
		}
	}
	return out
}

// SourceLocation is a position in a source document. Column 0 means unknown.
type SourceLocation struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// IsEmpty reports whether the location carries no position.
func (l SourceLocation) IsEmpty() bool {
	return l.File == "" || l.Line <= 0
}

// PdfLocation is a rectangle on a PDF page, in big points from the top-left corner.
type PdfLocation struct {
	File      string  `json:"file"`
	Page      int     `json:"page"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
	FromClick bool    `json:"from_click"`
}

// IsEmpty reports whether the location carries no page.
func (l PdfLocation) IsEmpty() bool {
	return l.Page <= 0
}

// MagicComment is an in-document directive such as "% !TeX program = xelatex".
type MagicComment struct {
	Scope    string `json:"scope"`
	Variable string `json:"variable"`
	Value    string `json:"value"`
}
