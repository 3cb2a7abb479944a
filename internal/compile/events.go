package compile

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/starford/weavetex/internal/models"
)

// Event types delivered to an Emitter.
const (
	EventStarted   = "compile.started"
	EventOutput    = "compile.output"
	EventErrors    = "compile.errors"
	EventCompleted = "compile.completed"
)

// Event is one notification about a job.
type Event struct {
	Type  string `json:"type"`
	JobID string `json:"job_id"`
	Data  any    `json:"data"`
}

// Emitter receives job events in order.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

// Emit calls f(ev).
func (f EmitterFunc) Emit(ev Event) { f(ev) }

type StartedData struct {
	TargetFile string `json:"target_file"`
	PdfPath    string `json:"pdf_path"`
}

type OutputData struct {
	Text string `json:"text"`
}

type ErrorsData struct {
	Entries []EntryData `json:"entries"`
}

// EntryData is a LogEntry as shown to clients.
type EntryData struct {
	Type    int    `json:"type"`
	File    string `json:"file"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Message string `json:"message"`
	LogFile string `json:"log_file"`
	LogLine int    `json:"log_line"`
}

type CompletedData struct {
	Succeeded        bool                `json:"succeeded"`
	TargetFile       string              `json:"target_file"`
	PdfPath          string              `json:"pdf_path"`
	SynctexAvailable bool                `json:"synctex_available"`
	PdfLocation      *models.PdfLocation `json:"pdf_location,omitempty"`
	Message          string              `json:"message,omitempty"`
	Entries          []EntryData         `json:"entries,omitempty"`
}

// htmlTagRe only matches markup tags so TeX's "<recently read>" survives.
var htmlTagRe = regexp.MustCompile(`(?i)</?(?:a|b|i|u|em|strong|code|pre|tt|span|div|p|br|font|sup|sub)(?:\s[^<>]*)?/?>`)

// StripHTML removes HTML markup from a message.
func StripHTML(s string) string {
	return htmlTagRe.ReplaceAllString(s, "")
}

// Aliaser shortens paths under the user's home directory to "~/...".
type Aliaser struct {
	home string
}

// NewAliaser creates an Aliaser for home; an empty home disables aliasing.
func NewAliaser(home string) Aliaser {
	if home != "" {
		home = filepath.Clean(home)
	}
	return Aliaser{home: home}
}

// DefaultAliaser aliases the current user's home directory.
func DefaultAliaser() Aliaser {
	home, _ := os.UserHomeDir()
	return NewAliaser(home)
}

// Alias returns path with the home prefix replaced by "~".
func (a Aliaser) Alias(path string) string {
	if a.home == "" || path == "" {
		return path
	}
	if path == a.home {
		return "~"
	}
	if rest, ok := strings.CutPrefix(path, a.home+string(filepath.Separator)); ok {
		return "~/" + filepath.ToSlash(rest)
	}
	return path
}

func (a Aliaser) entries(entries models.LogEntries) []EntryData {
	out := make([]EntryData, 0, len(entries))
	for _, e := range entries {
		out = append(out, EntryData{
			Type:    int(e.Type),
			File:    a.Alias(e.FilePath),
			Line:    e.Line,
			Column:  1,
			Message: StripHTML(e.Message),
			LogFile: a.Alias(e.LogFilePath),
			LogLine: e.LogLine,
		})
	}
	return out
}
