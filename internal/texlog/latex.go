// Package texlog parses LaTeX .log and BibTeX .blg files into log entries.
package texlog

import (
	"bufio"
	"bytes"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/starford/weavetex/internal/models"
)

// TeX wraps log output at this many bytes per line.
const maxPrintLine = 79

var (
	fileLineErrorRe = regexp.MustCompile(`^((?:[A-Za-z]:)?[^:\s][^:]*):(\d+): (.+)$`)
	bangErrorRe     = regexp.MustCompile(`^! (.+)$`)
	lineRefRe       = regexp.MustCompile(`^l\.(\d+)`)
	warningRe       = regexp.MustCompile(`^(LaTeX|LaTeX Font|Package (\S+)|Class (\S+)|pdfTeX) [Ww]arning: (.*)$`)
	inputLineRe     = regexp.MustCompile(`on input line (\d+)`)
	badBoxRe        = regexp.MustCompile(`^(?:Over|Under)full \\[hv]box `)
	badBoxLineRe    = regexp.MustCompile(`at lines? (\d+)`)
	citationMissRe  = regexp.MustCompile(`^(?:LaTeX|Package natbib) Warning: Citation .*undefined`)
)

// Filter post-processes entries, e.g. to drop known-noisy diagnostics.
type Filter func(models.LogEntries) models.LogEntries

// Identity is the default Filter.
func Identity(entries models.LogEntries) models.LogEntries { return entries }

type logLine struct {
	text string
	num  int // 1-based physical line where the logical line starts
}

// unwrap joins physical lines TeX split at maxPrintLine.
func unwrap(data []byte) []logLine {
	var out []logLine
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var cur strings.Builder
	start, n := 0, 0
	joining := false
	for sc.Scan() {
		n++
		text := strings.TrimRight(sc.Text(), "\r")
		if !joining {
			start = n
			cur.Reset()
		}
		cur.WriteString(text)
		joining = len(text) == maxPrintLine
		if !joining {
			out = append(out, logLine{text: cur.String(), num: start})
		}
	}
	if joining {
		out = append(out, logLine{text: cur.String(), num: start})
	}
	return out
}

// fileStack tracks which input file TeX is reading, from the "(file" and ")"
// markers it writes to the log.
type fileStack struct {
	dir   string
	files []string
}

func (s *fileStack) scan(text string) {
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '(':
			j := i + 1
			for j < len(text) && !strings.ContainsRune(" \t()[]{}", rune(text[j])) {
				j++
			}
			s.files = append(s.files, strings.Trim(text[i+1:j], `"`))
			i = j - 1
		case ')':
			if len(s.files) > 0 {
				s.files = s.files[:len(s.files)-1]
			}
		}
	}
}

// current returns the innermost entry that looks like a file path.
func (s *fileStack) current() string {
	for i := len(s.files) - 1; i >= 0; i-- {
		name := s.files[i]
		if strings.Contains(name, ".") || strings.ContainsRune(name, '/') {
			return resolve(s.dir, name)
		}
	}
	return ""
}

func resolve(dir, name string) string {
	if name == "" {
		return ""
	}
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	return filepath.Join(dir, name)
}

// ParseLatex parses the contents of a LaTeX .log file. Relative file names in
// the log are resolved against the log's directory.
func ParseLatex(logPath string, data []byte, filter Filter) models.LogEntries {
	if filter == nil {
		filter = Identity
	}
	dir := filepath.Dir(logPath)
	lines := unwrap(data)
	stack := &fileStack{dir: dir}

	var out models.LogEntries
	add := func(typ models.LogEntryType, file string, line int, msg string, logLine int) {
		out = append(out, models.LogEntry{
			Type:        typ,
			FilePath:    file,
			Line:        line,
			Column:      1,
			Message:     strings.TrimSpace(msg),
			LogFilePath: logPath,
			LogLine:     logLine,
		})
	}

	for i := 0; i < len(lines); i++ {
		ll := lines[i]
		text := ll.text

		if m := fileLineErrorRe.FindStringSubmatch(text); m != nil && looksLikeFile(m[1]) {
			line, _ := strconv.Atoi(m[2])
			add(models.LogError, resolve(dir, m[1]), line, m[3], ll.num)
			i = skipErrorContext(lines, i)
			continue
		}

		if m := bangErrorRe.FindStringSubmatch(text); m != nil {
			line := -1
			for j := i + 1; j < len(lines) && j <= i+10; j++ {
				if lm := lineRefRe.FindStringSubmatch(lines[j].text); lm != nil {
					line, _ = strconv.Atoi(lm[1])
					break
				}
			}
			add(models.LogError, stack.current(), line, m[1], ll.num)
			i = skipErrorContext(lines, i)
			continue
		}

		if m := warningRe.FindStringSubmatch(text); m != nil {
			name := m[2]
			if name == "" {
				name = m[3]
			}
			msg := m[4]
			if name != "" {
				prefix := "(" + name + ")"
				for i+1 < len(lines) && strings.HasPrefix(lines[i+1].text, prefix) {
					i++
					msg += " " + strings.TrimSpace(strings.TrimPrefix(lines[i].text, prefix))
				}
			}
			line := -1
			if lm := inputLineRe.FindStringSubmatch(msg); lm != nil {
				line, _ = strconv.Atoi(lm[1])
			}
			add(models.LogWarning, stack.current(), line, msg, ll.num)
			continue
		}

		if badBoxRe.MatchString(text) {
			line := -1
			if lm := badBoxLineRe.FindStringSubmatch(text); lm != nil {
				line, _ = strconv.Atoi(lm[1])
			}
			add(models.LogBadBox, stack.current(), line, text, ll.num)
			// The box dump that follows can contain unbalanced parentheses.
			for i+1 < len(lines) && strings.TrimSpace(lines[i+1].text) != "" {
				i++
			}
			continue
		}

		stack.scan(text)
	}

	return filter(out)
}

// skipErrorContext returns the index of the last line belonging to the error
// starting at i: through the "l.N" context line and its continuation.
func skipErrorContext(lines []logLine, i int) int {
	for j := i + 1; j < len(lines) && j <= i+10; j++ {
		if lineRefRe.MatchString(lines[j].text) {
			if j+1 < len(lines) && strings.TrimSpace(lines[j+1].text) != "" {
				return j + 1
			}
			return j
		}
	}
	return i
}

func looksLikeFile(name string) bool {
	return filepath.Ext(name) != "" && !strings.Contains(name, " ")
}

// CountCitationMisses counts "Citation ... undefined" warnings.
func CountCitationMisses(data []byte) int {
	n := 0
	for _, ll := range unwrap(data) {
		if citationMissRe.MatchString(ll.text) {
			n++
		}
	}
	return n
}

// NeedsRerun reports whether the log asks for another TeX pass.
func NeedsRerun(data []byte) bool {
	return bytes.Contains(data, []byte("Rerun to get"))
}
