// Package magic extracts "% !Scope variable = value" directives from the
// leading comment block of a TeX or literate source document.
package magic

import (
	"bufio"
	"bytes"
	"regexp"
	"strings"

	"github.com/starford/weavetex/internal/models"
)

var directiveRe = regexp.MustCompile(`^%+\s*!\s*([A-Za-z]+)\s+([A-Za-z]+)\s*=\s*(.*?)\s*$`)

// Parse returns the magic comments found before the first line that is
// neither blank nor a comment.
func Parse(data []byte) []models.MagicComment {
	var out []models.MagicComment

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	first := true
	for sc.Scan() {
		line := sc.Text()
		if first {
			line = strings.TrimPrefix(line, "\ufeff")
			first = false
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "%") {
			break
		}
		m := directiveRe.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		out = append(out, models.MagicComment{
			Scope:    m[1],
			Variable: m[2],
			Value:    m[3],
		})
	}
	return out
}

// Lookup returns the value of the last comment matching scope and variable,
// compared case-insensitively.
func Lookup(comments []models.MagicComment, scope, variable string) (string, bool) {
	value, found := "", false
	for _, c := range comments {
		if strings.EqualFold(c.Scope, scope) && strings.EqualFold(c.Variable, variable) {
			value, found = c.Value, true
		}
	}
	return value, found
}
