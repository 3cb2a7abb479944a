package synctex

import (
	"compress/gzip"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/weavetex/internal/models"
)

// bp renders a big-point value in scaled points.
func bp(v float64) string {
	return fmt.Sprintf("%.2f", v*spPerBP)
}

func box(kind byte, tag, line int, h, v, w, ht, d float64) string {
	return fmt.Sprintf("%c%d,%d:%s,%s:%s,%s,%s", kind, tag, line, bp(h), bp(v), bp(w), bp(ht), bp(d))
}

func sampleSynctex() string {
	lines := []string{
		"SyncTeX Version:1",
		"Input:1:./doc.tex",
		"Input:2:/abs/chapter.tex",
		"Output:pdf",
		"Magnification:1000",
		"Unit:1",
		"X Offset:0",
		"Y Offset:0",
		"Content:",
		"!120",
		"{1",
		box('[', 1, 1, 72, 720, 468, 648, 0),
		box('(', 1, 5, 72, 100, 468, 10, 2),
		box('(', 1, 5, 72, 112, 200, 10, 2),
		box('(', 1, 7, 72, 130, 468, 10, 2),
		fmt.Sprintf("x1,9:%s,%s", bp(100), bp(140)),
		box('(', 2, 3, 72, 160, 468, 10, 2),
		"]",
		"}1",
		"{2",
		box('[', 1, 20, 72, 700, 468, 600, 0),
		box('(', 1, 20, 80, 200, 300, 10, 2),
		"]",
		"}2",
		"Postamble:",
		"Count:9",
	}
	return strings.Join(lines, "\n") + "\n"
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-3
}

func testIndex(t *testing.T) (*Index, string) {
	t.Helper()
	dir := t.TempDir()
	ix, err := Parse(strings.NewReader(sampleSynctex()), dir)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return ix, dir
}

func TestForwardSearch_ExactLine(t *testing.T) {
	ix, dir := testIndex(t)
	loc := ix.ForwardSearch(models.SourceLocation{File: filepath.Join(dir, "doc.tex"), Line: 5})
	if loc.Page != 1 {
		t.Fatalf("page = %d", loc.Page)
	}
	if !near(loc.X, 72) || !near(loc.Y, 90) || !near(loc.Width, 468) || !near(loc.Height, 24) {
		t.Errorf("rect = %+v", loc)
	}
}

func TestForwardSearch_NearestLine(t *testing.T) {
	ix, dir := testIndex(t)
	loc := ix.ForwardSearch(models.SourceLocation{File: filepath.Join(dir, "doc.tex"), Line: 6})
	if !near(loc.Y, 120) {
		t.Errorf("line 6 should resolve to following line 7, got %+v", loc)
	}

	loc = ix.ForwardSearch(models.SourceLocation{File: filepath.Join(dir, "doc.tex"), Line: 9})
	if loc.Page != 1 || !near(loc.X, 100) || !near(loc.Y, 140) {
		t.Errorf("point record = %+v", loc)
	}

	loc = ix.ForwardSearch(models.SourceLocation{File: filepath.Join(dir, "doc.tex"), Line: 20})
	if loc.Page != 2 || !near(loc.Y, 190) {
		t.Errorf("page 2 = %+v", loc)
	}
}

func TestForwardSearch_OtherInputAndUnknown(t *testing.T) {
	ix, _ := testIndex(t)
	loc := ix.ForwardSearch(models.SourceLocation{File: "/abs/chapter.tex", Line: 3})
	if loc.Page != 1 || !near(loc.Y, 150) {
		t.Errorf("chapter = %+v", loc)
	}
	if loc := ix.ForwardSearch(models.SourceLocation{File: "/nowhere/x.tex", Line: 1}); !loc.IsEmpty() {
		t.Errorf("unknown file = %+v", loc)
	}
}

func TestInverseSearch(t *testing.T) {
	ix, dir := testIndex(t)

	src := ix.InverseSearch(models.PdfLocation{Page: 1, X: 100, Y: 95})
	if src.File != filepath.Join(dir, "doc.tex") || src.Line != 5 {
		t.Errorf("inside box = %+v", src)
	}

	src = ix.InverseSearch(models.PdfLocation{Page: 1, X: 600, Y: 95})
	if src.Line != 9 {
		t.Errorf("outside boxes should pick nearest record, got %+v", src)
	}

	if src := ix.InverseSearch(models.PdfLocation{Page: 7, X: 1, Y: 1}); !src.IsEmpty() {
		t.Errorf("missing page = %+v", src)
	}
}

func TestTopOfPageContentAndClamp(t *testing.T) {
	ix, _ := testIndex(t)
	top := ix.TopOfPageContent(2)
	if !near(top.X, 72) || !near(top.Y, 100) {
		t.Errorf("top of page 2 = %+v", top)
	}

	loc := models.PdfLocation{Page: 2, X: 10, Y: 50}
	clamped := ClampToContent(loc, top)
	if !near(clamped.X, 72) || !near(clamped.Y, 100) {
		t.Errorf("clamped = %+v", clamped)
	}

	loc.FromClick = true
	if got := ClampToContent(loc, top); got.Y != 50 {
		t.Errorf("click location should not be clamped: %+v", got)
	}
}

func writeGzip(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	gz := gzip.NewWriter(f)
	if _, err := gz.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOpenGzipAndCache(t *testing.T) {
	dir := t.TempDir()
	pdf := filepath.Join(dir, "doc.pdf")
	if err := os.WriteFile(pdf, []byte("%PDF-1.5"), 0o644); err != nil {
		t.Fatal(err)
	}
	if Available(pdf) {
		t.Fatal("no sidecar yet")
	}
	if _, err := Open(pdf); !IsNoSidecar(err) {
		t.Fatalf("Open without sidecar: %v", err)
	}

	writeGzip(t, filepath.Join(dir, "doc.synctex.gz"), sampleSynctex())
	if !Available(pdf) {
		t.Fatal("sidecar should be found")
	}

	cache := NewCache()
	first, err := cache.Get(pdf)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	loc := first.ForwardSearch(models.SourceLocation{File: filepath.Join(dir, "doc.tex"), Line: 5})
	if loc.File != pdf || loc.Page != 1 {
		t.Errorf("forward via gzip = %+v", loc)
	}

	second, _ := cache.Get(pdf)
	if first != second {
		t.Error("unchanged pdf should reuse cached index")
	}

	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(pdf, later, later); err != nil {
		t.Fatal(err)
	}
	third, _ := cache.Get(pdf)
	if third == first {
		t.Error("mtime change should re-parse")
	}
}
