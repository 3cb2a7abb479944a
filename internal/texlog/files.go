package texlog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/weavetex/internal/models"
)

// ParseFiles parses the .log written beside texPath and, when bibtex ran in
// the same run, the .blg. A .blg left over from an earlier run is ignored.
// Missing logs yield no entries.
func ParseFiles(texPath string, bibtexRan bool, filter Filter) (models.LogEntries, error) {
	stem := strings.TrimSuffix(texPath, filepath.Ext(texPath))

	var out models.LogEntries

	logPath := stem + ".log"
	data, err := os.ReadFile(logPath)
	switch {
	case err == nil:
		out = append(out, ParseLatex(logPath, data, filter)...)
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("texlog: read %s: %w", logPath, err)
	}

	if !bibtexRan {
		return out, nil
	}
	blgPath := stem + ".blg"
	data, err = os.ReadFile(blgPath)
	switch {
	case err == nil:
		out = append(out, ParseBibtex(blgPath, data, filter)...)
	case !errors.Is(err, os.ErrNotExist):
		return out, fmt.Errorf("texlog: read %s: %w", blgPath, err)
	}

	return out, nil
}

// Reorder moves entries about target ahead of entries about other files,
// keeping relative order within each group.
func Reorder(entries models.LogEntries, target string) models.LogEntries {
	target = filepath.Clean(target)
	out := make(models.LogEntries, 0, len(entries))
	var rest models.LogEntries
	for _, e := range entries {
		if e.FilePath != "" && filepath.Clean(e.FilePath) == target {
			out = append(out, e)
		} else {
			rest = append(rest, e)
		}
	}
	return append(out, rest...)
}
