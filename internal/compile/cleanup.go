package compile

import (
	"log/slog"
	"path/filepath"

	"github.com/starford/weavetex/internal/concordance"
	"github.com/starford/weavetex/internal/docfs"
	"github.com/starford/weavetex/internal/models"
)

// staleExts are removed before weaving so a failed weave cannot leave results
// of an earlier run behind.
var staleExts = []string{".log", ".blg", ".synctex", ".synctex.gz"}

func (o *Orchestrator) removeStale(doc docfs.Doc) {
	dir, err := docfs.NewDir(doc.Dir())
	if err != nil {
		o.logger.Warn("compile: open document dir",
			slog.String("path", doc.Dir()),
			slog.String("error", err.Error()))
		return
	}
	for _, ext := range staleExts {
		if err := dir.Remove(doc.Sibling(ext)); err != nil {
			o.logger.Warn("compile: remove stale file",
				slog.String("path", doc.Sibling(ext)),
				slog.String("error", err.Error()))
		}
	}
	if err := concordance.RemovePrevious(doc.Path()); err != nil {
		o.logger.Warn("compile: remove concordance",
			slog.String("path", concordance.FileFor(doc.Path())),
			slog.String("error", err.Error()))
	}
}

// cleanup removes auxiliary files: .out and .aux always, .bbl when the
// directory has a .bib file, and .blg after a successful compile. Files that
// a log entry points at are kept.
func (o *Orchestrator) cleanup(doc docfs.Doc, succeeded bool, entries models.LogEntries) {
	dir, err := docfs.NewDir(doc.Dir())
	if err != nil {
		o.logger.Warn("compile: open document dir",
			slog.String("path", doc.Dir()),
			slog.String("error", err.Error()))
		return
	}

	exts := []string{".out", ".aux"}
	if dir.HasExt(".bib") {
		exts = append(exts, ".bbl")
	}
	if succeeded {
		exts = append(exts, ".blg")
	}

	keep := entries.Referenced()
	for _, ext := range exts {
		path := doc.Sibling(ext)
		if _, ok := keep[filepath.Clean(path)]; ok {
			continue
		}
		if err := dir.Remove(path); err != nil {
			o.logger.Warn("compile: cleanup",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}
}
