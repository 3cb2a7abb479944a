package compile

import (
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/starford/weavetex/internal/concordance"
	"github.com/starford/weavetex/internal/models"
	"github.com/starford/weavetex/internal/synctex"
)

// Searcher answers forward and inverse searches. Concordance mapping wraps
// the synctex query so each side works on its own line numbers.
type Searcher struct {
	cache  *synctex.Cache
	logger *slog.Logger
}

// NewSearcher creates a Searcher with its own synctex cache.
func NewSearcher(logger *slog.Logger) *Searcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{cache: synctex.NewCache(), logger: logger}
}

// PdfFor returns the PDF produced for a source document.
func PdfFor(source string) string {
	return strings.TrimSuffix(source, filepath.Ext(source)) + ".pdf"
}

func (s *Searcher) concordances(pdfPath string) *concordance.Concordances {
	cs, err := concordance.ReadIfExists(pdfPath)
	if err != nil {
		s.logger.Warn("compile: concordance unreadable",
			slog.String("path", concordance.FileFor(pdfPath)),
			slog.String("error", err.Error()))
		return nil
	}
	return cs
}

// Forward maps a source location to pdfPath. Locations not produced by a
// click are clamped to the top of the page content.
func (s *Searcher) Forward(pdfPath string, loc models.SourceLocation, fromClick bool) (models.PdfLocation, error) {
	ix, err := s.cache.Get(pdfPath)
	if err != nil {
		return models.PdfLocation{}, err
	}

	query := loc
	if mapped := s.concordances(pdfPath).TexLine(concordance.FileAndLine{File: loc.File, Line: loc.Line}); !mapped.IsEmpty() {
		query.File, query.Line = mapped.File, mapped.Line
	}

	result := ix.ForwardSearch(query)
	if result.IsEmpty() {
		return result, nil
	}
	result.FromClick = fromClick
	if !fromClick {
		result = synctex.ClampToContent(result, ix.TopOfPageContent(result.Page))
	}
	return result, nil
}

// Inverse maps a point on a PDF page back to its source.
func (s *Searcher) Inverse(loc models.PdfLocation) (models.SourceLocation, error) {
	ix, err := s.cache.Get(loc.File)
	if err != nil {
		return models.SourceLocation{}, err
	}
	src := ix.InverseSearch(loc)
	if src.IsEmpty() {
		return src, nil
	}
	if mapped := s.concordances(loc.File).RnwLine(concordance.FileAndLine{File: src.File, Line: src.Line}); !mapped.IsEmpty() {
		src.File, src.Line = mapped.File, mapped.Line
	}
	return src, nil
}

// TopOfPage returns where content starts on a page of pdfPath.
func (s *Searcher) TopOfPage(pdfPath string, page int) (models.PdfLocation, error) {
	ix, err := s.cache.Get(pdfPath)
	if err != nil {
		return models.PdfLocation{}, err
	}
	return ix.TopOfPageContent(page), nil
}

// Invalidate drops the cached synctex index for pdfPath.
func (s *Searcher) Invalidate(pdfPath string) {
	s.cache.Invalidate(pdfPath)
}
