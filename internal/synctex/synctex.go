// Package synctex reads the .synctex(.gz) sidecar written by pdfTeX/XeTeX and
// answers forward (source to PDF) and inverse (PDF to source) queries.
package synctex

import (
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/starford/weavetex/internal/apperr"
	"github.com/starford/weavetex/internal/models"
)

// Scaled points per PDF big point.
const spPerBP = 65781.76

type record struct {
	kind  byte
	tag   int
	line  int
	page  int
	h, v  float64 // big points, top-left origin
	w     float64
	ht    float64
	depth float64
}

func (r record) isBox() bool {
	return r.kind == '(' || r.kind == '[' || r.kind == 'h' || r.kind == 'v'
}

func (r record) isHBox() bool {
	return r.kind == '(' || r.kind == 'h'
}

func (r record) top() float64    { return r.v - r.ht }
func (r record) bottom() float64 { return r.v + r.depth }
func (r record) left() float64   { return math.Min(r.h, r.h+r.w) }
func (r record) right() float64  { return math.Max(r.h, r.h+r.w) }

func (r record) contains(x, y float64) bool {
	return x >= r.left() && x <= r.right() && y >= r.top() && y <= r.bottom()
}

// Index is a parsed synctex file.
type Index struct {
	pdfPath string
	inputs  map[int]string
	records []record
}

// FileFor returns the sidecar path for pdfPath, preferring the compressed form.
// It returns apperr.ErrNotFound when neither exists.
func FileFor(pdfPath string) (string, error) {
	stem := strings.TrimSuffix(pdfPath, filepath.Ext(pdfPath))
	for _, candidate := range []string{stem + ".synctex.gz", stem + ".synctex"} {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("synctex: no sidecar for %s: %w", pdfPath, apperr.ErrNotFound)
}

// Available reports whether a synctex sidecar exists for pdfPath.
func Available(pdfPath string) bool {
	_, err := FileFor(pdfPath)
	return err == nil
}

// Open parses the sidecar belonging to pdfPath.
func Open(pdfPath string) (*Index, error) {
	path, err := FileFor(pdfPath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("synctex: open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("synctex: gunzip %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	ix, err := Parse(r, filepath.Dir(pdfPath))
	if err != nil {
		return nil, err
	}
	ix.pdfPath = pdfPath
	return ix, nil
}

// Parse reads synctex text. Relative input names resolve against baseDir.
func Parse(r io.Reader, baseDir string) (*Index, error) {
	ix := &Index{inputs: make(map[int]string)}

	unit, mag := 1.0, 1.0
	xOff, yOff := 0.0, 0.0
	toBP := func(v float64, off float64) float64 {
		return (v*unit*mag + off) / spPerBP
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	page := 0
	inContent := false
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}

		if !inContent {
			key, value, ok := strings.Cut(line, ":")
			if !ok {
				continue
			}
			switch key {
			case "Input":
				tagStr, name, ok := strings.Cut(value, ":")
				if !ok {
					continue
				}
				tag, err := strconv.Atoi(tagStr)
				if err != nil {
					return nil, fmt.Errorf("synctex: bad input tag %q", line)
				}
				ix.inputs[tag] = resolve(baseDir, name)
			case "Unit":
				unit = parseFloat(value, 1)
			case "Magnification":
				mag = parseFloat(value, 1000) / 1000
			case "X Offset":
				xOff = parseFloat(value, 0)
			case "Y Offset":
				yOff = parseFloat(value, 0)
			case "Content":
				inContent = true
			}
			continue
		}

		switch line[0] {
		case 'I':
			// "Input:" records may also appear inside the content section.
			if strings.HasPrefix(line, "Input:") {
				tagStr, name, ok := strings.Cut(strings.TrimPrefix(line, "Input:"), ":")
				if tag, err := strconv.Atoi(tagStr); ok && err == nil {
					ix.inputs[tag] = resolve(baseDir, name)
				}
			}
		case '{':
			page = int(parseFloat(line[1:], 0))
		case '}':
			page = 0
		case '[', '(', 'h', 'v', 'x', 'k', 'g', '$':
			if page == 0 {
				continue
			}
			rec, ok := parseRecord(line)
			if !ok {
				continue
			}
			rec.page = page
			rec.h = toBP(rec.h, xOff)
			rec.v = toBP(rec.v, yOff)
			rec.w = toBP(rec.w, 0)
			rec.ht = toBP(rec.ht, 0)
			rec.depth = toBP(rec.depth, 0)
			ix.records = append(ix.records, rec)
		case 'P':
			if strings.HasPrefix(line, "Postamble") {
				inContent = false
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("synctex: read: %w", err)
	}
	return ix, nil
}

// parseRecord parses "<kind>tag,line[,column]:h,v[:W,H,D]" and "k…:h,v:W".
func parseRecord(line string) (record, bool) {
	rec := record{kind: line[0]}
	fields := strings.Split(line[1:], ":")
	if len(fields) < 2 {
		return rec, false
	}
	link := strings.Split(fields[0], ",")
	if len(link) < 2 {
		return rec, false
	}
	var err error
	if rec.tag, err = strconv.Atoi(link[0]); err != nil {
		return rec, false
	}
	if rec.line, err = strconv.Atoi(link[1]); err != nil {
		return rec, false
	}
	point := strings.Split(fields[1], ",")
	if len(point) < 2 {
		return rec, false
	}
	rec.h = parseFloat(point[0], 0)
	rec.v = parseFloat(point[1], 0)
	if len(fields) > 2 {
		size := strings.Split(fields[2], ",")
		rec.w = parseFloat(size[0], 0)
		if len(size) >= 3 {
			rec.ht = parseFloat(size[1], 0)
			rec.depth = parseFloat(size[2], 0)
		}
	}
	return rec, true
}

func parseFloat(s string, def float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return def
	}
	return f
}

func resolve(baseDir, name string) string {
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	return filepath.Join(baseDir, name)
}

func (ix *Index) tagFor(file string) (int, bool) {
	clean := filepath.Clean(file)
	for tag, name := range ix.inputs {
		if name == clean {
			return tag, true
		}
	}
	// Fall back to the base name; engines record inputs as they were typed.
	base := filepath.Base(clean)
	for tag, name := range ix.inputs {
		if filepath.Base(name) == base {
			return tag, true
		}
	}
	return 0, false
}

// ForwardSearch returns the PDF rectangle for a source line. When the exact
// line produced no output, the closest following line is used, then the
// closest preceding one. The result is empty when nothing matches.
func (ix *Index) ForwardSearch(loc models.SourceLocation) models.PdfLocation {
	tag, ok := ix.tagFor(loc.File)
	if !ok || loc.Line <= 0 {
		return models.PdfLocation{}
	}

	bestLine, bestDist := 0, math.MaxInt
	for _, r := range ix.records {
		if r.tag != tag {
			continue
		}
		dist := r.line - loc.Line
		if dist < 0 {
			// Prefer following lines over preceding ones at equal distance.
			dist = -dist*2 + 1
		} else {
			dist *= 2
		}
		if dist < bestDist {
			bestLine, bestDist = r.line, dist
		}
	}
	if bestLine == 0 {
		return models.PdfLocation{}
	}

	page := 0
	var matches []record
	for _, r := range ix.records {
		if r.tag != tag || r.line != bestLine {
			continue
		}
		if page == 0 {
			page = r.page
		}
		if r.page == page {
			matches = append(matches, r)
		}
	}

	boxes := matches[:0:0]
	for _, r := range matches {
		if r.isHBox() {
			boxes = append(boxes, r)
		}
	}
	if len(boxes) == 0 {
		first := matches[0]
		return models.PdfLocation{File: ix.pdfPath, Page: page, X: first.h, Y: first.top()}
	}

	left, top := boxes[0].left(), boxes[0].top()
	right, bottom := boxes[0].right(), boxes[0].bottom()
	for _, r := range boxes[1:] {
		left = math.Min(left, r.left())
		top = math.Min(top, r.top())
		right = math.Max(right, r.right())
		bottom = math.Max(bottom, r.bottom())
	}
	return models.PdfLocation{
		File:   ix.pdfPath,
		Page:   page,
		X:      left,
		Y:      top,
		Width:  right - left,
		Height: bottom - top,
	}
}

// InverseSearch returns the source line for a point on a PDF page: the
// smallest box containing the point, else the nearest record on the page.
func (ix *Index) InverseSearch(loc models.PdfLocation) models.SourceLocation {
	var best *record
	bestArea := math.Inf(1)
	for i := range ix.records {
		r := &ix.records[i]
		if r.page != loc.Page || !r.isBox() || !r.contains(loc.X, loc.Y) {
			continue
		}
		area := (r.right() - r.left()) * (r.bottom() - r.top())
		if area < bestArea || (area == bestArea && r.isHBox() && !best.isHBox()) {
			best, bestArea = r, area
		}
	}

	if best == nil {
		bestDist := math.Inf(1)
		for i := range ix.records {
			r := &ix.records[i]
			if r.page != loc.Page {
				continue
			}
			d := math.Hypot(loc.X-r.h, loc.Y-r.v)
			if d < bestDist {
				best, bestDist = r, d
			}
		}
	}
	if best == nil {
		return models.SourceLocation{}
	}
	file, ok := ix.inputs[best.tag]
	if !ok {
		return models.SourceLocation{}
	}
	return models.SourceLocation{File: file, Line: best.line}
}

// TopOfPageContent returns the top-left corner of the content on page.
func (ix *Index) TopOfPageContent(page int) models.PdfLocation {
	loc := models.PdfLocation{File: ix.pdfPath, Page: page}
	found := false
	for _, r := range ix.records {
		if r.page != page || !r.isBox() {
			continue
		}
		if !found {
			loc.X, loc.Y = r.left(), r.top()
			found = true
			continue
		}
		loc.X = math.Min(loc.X, r.left())
		loc.Y = math.Min(loc.Y, r.top())
	}
	return loc
}

// ClampToContent keeps a location that was not produced by a click from
// pointing above or left of the rendered content of its page.
func ClampToContent(loc, top models.PdfLocation) models.PdfLocation {
	if loc.FromClick || loc.Page != top.Page {
		return loc
	}
	loc.X = math.Max(loc.X, top.X)
	loc.Y = math.Max(loc.Y, top.Y)
	return loc
}

// IsNoSidecar reports whether err means the PDF has no synctex data.
func IsNoSidecar(err error) bool {
	return errors.Is(err, apperr.ErrNotFound)
}
