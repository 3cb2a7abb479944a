package weave

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/starford/weavetex/internal/models"
)

var (
	chunkHeaderRe = regexp.MustCompile(`^\s*<<.*>>=\s*$`)
	errorPrefixRe = regexp.MustCompile(`^Error(?:\s+in\s+.*?)?\s*:\s*`)

	sweaveChunkRe = regexp.MustCompile(`chunk (\d+)(?:\s*\(label\s*=\s*[^)]*\))?\s*$`)

	// R parse errors embedded in a chunk message: "<text>:2:3: unexpected symbol".
	parseErrorRe = regexp.MustCompile(`^<text>:(\d+):(\d+):\s*(.*)$`)
)

// ChunkHeaders returns the 1-based line numbers of every "<<...>>=" line.
func ChunkHeaders(source []byte) []int {
	var lines []int
	for i, line := range strings.Split(string(source), "\n") {
		if chunkHeaderRe.MatchString(strings.TrimRight(line, "\r")) {
			lines = append(lines, i+1)
		}
	}
	return lines
}

func splitLines(output string) []string {
	return strings.Split(strings.ReplaceAll(output, "\r\n", "\n"), "\n")
}

// messageAfter returns the first meaningful message line at or after lines[i],
// with R's "Error in ...:" and rlang's "! " prefixes removed.
func messageAfter(lines []string, i int) string {
	for ; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		line = strings.TrimPrefix(line, "! ")
		if loc := errorPrefixRe.FindStringIndex(line); loc != nil {
			line = strings.TrimSpace(line[loc[1]:])
			if line == "" {
				continue
			}
		}
		return line
	}
	return ""
}

func chunkError(sourceFile string, line int, message string) models.LogEntry {
	return models.LogEntry{
		Type:        models.LogError,
		FilePath:    sourceFile,
		Line:        line,
		Column:      1,
		Message:     message,
		LogFilePath: sourceFile,
		LogLine:     -1,
	}
}

// parseSweaveErrors recognizes "Error: chunk N (label = x)" followed by the
// R error on the next line, and maps chunk N to its header line.
func parseSweaveErrors(output string, source []byte, sourceFile string) models.LogEntries {
	headers := ChunkHeaders(source)
	lines := splitLines(output)

	var entries models.LogEntries
	for i, raw := range lines {
		m := sweaveChunkRe.FindStringSubmatch(strings.TrimSpace(raw))
		if m == nil {
			continue
		}
		chunk, _ := strconv.Atoi(m[1])
		line := -1
		if chunk >= 1 && chunk <= len(headers) {
			line = headers[chunk-1]
		}
		msg := messageAfter(lines, i+1)
		if msg == "" {
			msg = "error in chunk " + m[1]
		}
		entries = append(entries, chunkError(sourceFile, line, msg))
	}
	return entries
}

// knitrShape is one historical form of knitr's "Quitting from lines" report.
// Shapes are tried in order; the first that matches a line wins.
type knitrShape struct {
	re *regexp.Regexp
	// inline is the submatch index holding a same-line message, or 0 when
	// the message follows on the next line.
	inline int
}

var knitrShapes = []knitrShape{
	// knitr >= 1.43: "Quitting from lines 10-12 [label] (doc.Rnw)"
	{re: regexp.MustCompile(`^Quitting from lines (\d+)-(\d+) \[[^\]]*\](?: \([^)]*\))?\s*:?\s*$`)},
	// "Quitting from lines 10-12 (label)" with the message on the next line.
	{re: regexp.MustCompile(`^Quitting from lines (\d+)-(\d+) \([^)]*\)\s*:?\s*$`)},
	// "Quitting from lines 10-12: Error in eval(expr): object 'x' not found"
	{re: regexp.MustCompile(`^Quitting from lines (\d+)-(\d+)\s*(?:\([^)]*\))?\s*:\s*(\S.*)$`), inline: 3},
}

// parseKnitrErrors recognizes every knitr error shape in knitrShapes.
func parseKnitrErrors(output string, _ []byte, sourceFile string) models.LogEntries {
	lines := splitLines(output)

	var entries models.LogEntries
	for i, raw := range lines {
		text := strings.TrimSpace(raw)
		for _, shape := range knitrShapes {
			m := shape.re.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			line, _ := strconv.Atoi(m[1])
			var msg string
			if shape.inline > 0 {
				msg = messageAfter([]string{m[shape.inline]}, 0)
			} else {
				msg = messageAfter(lines, i+1)
			}
			if pm := parseErrorRe.FindStringSubmatch(msg); pm != nil {
				offset, _ := strconv.Atoi(pm[1])
				line += offset
				msg = pm[3]
			}
			if msg == "" {
				msg = "error in lines " + m[1] + "-" + m[2]
			}
			entries = append(entries, chunkError(sourceFile, line, msg))
			break
		}
	}
	return entries
}
