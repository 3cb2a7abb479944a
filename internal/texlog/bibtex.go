package texlog

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/starford/weavetex/internal/models"
)

var (
	bibWarningRe     = regexp.MustCompile(`^Warning--(.+)$`)
	bibWarnLocRe     = regexp.MustCompile(`^--line (\d+) of file (.+)$`)
	bibErrLocRe      = regexp.MustCompile(`^(.*)---line (\d+) of file (.+)$`)
	bibWhileReadRe   = regexp.MustCompile(`^(.*)---while reading file (.+)$`)
	bibCouldntOpenRe = regexp.MustCompile(`^I couldn't open (?:database|style|auxiliary) file (.+)$`)
)

// ParseBibtex parses the contents of a BibTeX .blg file.
func ParseBibtex(blgPath string, data []byte, filter Filter) models.LogEntries {
	if filter == nil {
		filter = Identity
	}
	dir := filepath.Dir(blgPath)
	lines := unwrap(data)

	var out models.LogEntries
	add := func(typ models.LogEntryType, file string, line int, msg string, logLine int) {
		out = append(out, models.LogEntry{
			Type:        typ,
			FilePath:    file,
			Line:        line,
			Column:      1,
			Message:     strings.TrimSpace(msg),
			LogFilePath: blgPath,
			LogLine:     logLine,
		})
	}

	for i := 0; i < len(lines); i++ {
		text := lines[i].text
		num := lines[i].num

		if m := bibWarningRe.FindStringSubmatch(text); m != nil {
			file, line := "", -1
			if i+1 < len(lines) {
				if lm := bibWarnLocRe.FindStringSubmatch(lines[i+1].text); lm != nil {
					line, _ = strconv.Atoi(lm[1])
					file = resolve(dir, strings.TrimSpace(lm[2]))
					i++
				}
			}
			add(models.LogWarning, file, line, m[1], num)
			continue
		}

		if m := bibErrLocRe.FindStringSubmatch(text); m != nil {
			line, _ := strconv.Atoi(m[2])
			file := resolve(dir, strings.TrimSpace(m[3]))
			if strings.TrimSpace(m[1]) == "" {
				// A bare location continues the error on the previous line.
				if n := len(out); n > 0 && i > 0 && out[n-1].LogLine == lines[i-1].num && out[n-1].Line == -1 {
					out[n-1].FilePath = file
					out[n-1].Line = line
				}
				continue
			}
			add(models.LogError, file, line, m[1], num)
			continue
		}

		if m := bibWhileReadRe.FindStringSubmatch(text); m != nil {
			if strings.TrimSpace(m[1]) != "" {
				add(models.LogError, resolve(dir, strings.TrimSpace(m[2])), -1, m[1], num)
			}
			continue
		}

		if m := bibCouldntOpenRe.FindStringSubmatch(text); m != nil {
			add(models.LogError, resolve(dir, strings.TrimSpace(m[1])), -1, text, num)
			continue
		}
	}

	return filter(out)
}
