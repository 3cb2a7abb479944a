package weave

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// ScriptDiff returns a unified diff between two versions of a tangled script.
// It returns "" when they are identical.
func ScriptDiff(name string, previous, current []byte) (string, error) {
	if string(previous) == string(current) {
		return "", nil
	}
	u := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(previous)),
		B:        difflib.SplitLines(string(current)),
		FromFile: "a/" + name,
		ToFile:   "b/" + name,
		Context:  3,
	}
	out, err := difflib.GetUnifiedDiffString(u)
	if err != nil {
		return "", fmt.Errorf("weave: diff %s: %w", name, err)
	}
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return out, nil
}
