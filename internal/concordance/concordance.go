// Package concordance maps lines between a literate source document and the
// .tex file generated from it by weaving.
//
// The side file is the "<stem>-concordance.tex" that Sweave and knitr write
// beside the generated document. Each \Sconcordance record has the shape
//
//	concordance:<output>:<input>:[ofs <n>:]<first> <count> <delta> <count> <delta> ...
//
// where <first> is the input line of output line n+1 and each (count, delta)
// pair says that the next count output lines advance the input line by delta.
package concordance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Suffix is appended to the document stem to name the side file.
const Suffix = "-concordance.tex"

var recordRe = regexp.MustCompile(`\\Sconcordance\{([^}]*)\}`)

// FileAndLine identifies a line in a file. The zero value is the empty result.
type FileAndLine struct {
	File string
	Line int
}

// IsEmpty reports whether the lookup found nothing.
func (f FileAndLine) IsEmpty() bool {
	return f.File == "" || f.Line <= 0
}

// Concordance maps the lines of one output file to one input file.
type Concordance struct {
	OutputFile string
	InputFile  string
	Offset     int
	// inputLines[i] is the input line for output line Offset+i+1.
	inputLines []int
}

// New builds a Concordance from an explicit line table.
func New(outputFile, inputFile string, offset int, inputLines []int) *Concordance {
	return &Concordance{
		OutputFile: filepath.Clean(outputFile),
		InputFile:  filepath.Clean(inputFile),
		Offset:     offset,
		inputLines: append([]int(nil), inputLines...),
	}
}

// RnwLine returns the input line for an output line, or 0.
func (c *Concordance) RnwLine(texLine int) int {
	i := texLine - c.Offset - 1
	if i < 0 || i >= len(c.inputLines) {
		return 0
	}
	return c.inputLines[i]
}

// TexLine returns the first output line generated from rnwLine. When no
// output line maps to it exactly, the nearest preceding mapped input line is
// used. Returns 0 when rnwLine precedes every mapped line.
func (c *Concordance) TexLine(rnwLine int) int {
	best, bestInput := 0, 0
	for i, in := range c.inputLines {
		if in == rnwLine {
			return c.Offset + i + 1
		}
		if in < rnwLine && in > bestInput {
			best, bestInput = c.Offset+i+1, in
		}
	}
	return best
}

// Encode renders the record in \Sconcordance form, with file names relative
// to baseDir.
func (c *Concordance) Encode(baseDir string) string {
	var b strings.Builder
	b.WriteString(`\Sconcordance{concordance:`)
	b.WriteString(relTo(baseDir, c.OutputFile))
	b.WriteByte(':')
	b.WriteString(relTo(baseDir, c.InputFile))
	b.WriteByte(':')
	if c.Offset > 0 {
		fmt.Fprintf(&b, "ofs %d:", c.Offset)
	}
	if len(c.inputLines) > 0 {
		b.WriteString(strconv.Itoa(c.inputLines[0]))
		for i := 1; i < len(c.inputLines); {
			delta := c.inputLines[i] - c.inputLines[i-1]
			n := 1
			for i+n < len(c.inputLines) && c.inputLines[i+n]-c.inputLines[i+n-1] == delta {
				n++
			}
			fmt.Fprintf(&b, " %d %d", n, delta)
			i += n
		}
	}
	b.WriteString("}\n")
	return b.String()
}

// Concordances is every record from one side file.
type Concordances struct {
	items []*Concordance
}

// Len returns the number of records.
func (cs *Concordances) Len() int {
	if cs == nil {
		return 0
	}
	return len(cs.items)
}

// Add appends a record.
func (cs *Concordances) Add(c *Concordance) {
	cs.items = append(cs.items, c)
}

// TexLine maps a literate source location to the generated file. The result
// is empty when no record covers the input file.
func (cs *Concordances) TexLine(loc FileAndLine) FileAndLine {
	if cs == nil {
		return FileAndLine{}
	}
	file := filepath.Clean(loc.File)
	for _, c := range cs.items {
		if c.InputFile != file {
			continue
		}
		if line := c.TexLine(loc.Line); line > 0 {
			return FileAndLine{File: c.OutputFile, Line: line}
		}
	}
	return FileAndLine{}
}

// RnwLine maps a generated-file location back to the literate source. The
// result is empty when no record covers the line.
func (cs *Concordances) RnwLine(loc FileAndLine) FileAndLine {
	if cs == nil {
		return FileAndLine{}
	}
	file := filepath.Clean(loc.File)
	for _, c := range cs.items {
		if c.OutputFile != file {
			continue
		}
		if line := c.RnwLine(loc.Line); line > 0 {
			return FileAndLine{File: c.InputFile, Line: line}
		}
	}
	return FileAndLine{}
}

// Encode renders every record, file names relative to baseDir.
func (cs *Concordances) Encode(baseDir string) string {
	var b strings.Builder
	for _, c := range cs.items {
		b.WriteString(c.Encode(baseDir))
	}
	return b.String()
}

// Parse reads \Sconcordance records. Relative names resolve against baseDir.
func Parse(data []byte, baseDir string) (*Concordances, error) {
	// Records are split across lines with a trailing "%".
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.ReplaceAll(text, "%\n", "")

	cs := &Concordances{}
	for _, m := range recordRe.FindAllStringSubmatch(text, -1) {
		c, err := parseRecord(m[1], baseDir)
		if err != nil {
			return nil, err
		}
		cs.items = append(cs.items, c)
	}
	return cs, nil
}

func parseRecord(body, baseDir string) (*Concordance, error) {
	parts := strings.Split(strings.TrimSpace(body), ":")
	if len(parts) < 4 || parts[0] != "concordance" {
		return nil, fmt.Errorf("concordance: malformed record %q", body)
	}
	c := &Concordance{
		OutputFile: resolve(baseDir, parts[1]),
		InputFile:  resolve(baseDir, parts[2]),
	}
	values := parts[3]
	if strings.HasPrefix(values, "ofs ") {
		ofs, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(values, "ofs ")))
		if err != nil {
			return nil, fmt.Errorf("concordance: bad offset in %q: %w", body, err)
		}
		c.Offset = ofs
		if len(parts) < 5 {
			return nil, fmt.Errorf("concordance: missing values in %q", body)
		}
		values = parts[4]
	}

	fields := strings.Fields(values)
	if len(fields) == 0 || len(fields)%2 == 0 {
		return nil, fmt.Errorf("concordance: bad value count in %q", body)
	}
	nums := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("concordance: bad value %q: %w", f, err)
		}
		nums[i] = n
	}

	c.inputLines = []int{nums[0]}
	for i := 1; i+1 < len(nums); i += 2 {
		count, delta := nums[i], nums[i+1]
		for k := 0; k < count; k++ {
			c.inputLines = append(c.inputLines, c.inputLines[len(c.inputLines)-1]+delta)
		}
	}
	return c, nil
}

// FileFor returns the side-file path for a target document (.Rnw or .tex).
func FileFor(targetPath string) string {
	stem := strings.TrimSuffix(targetPath, filepath.Ext(targetPath))
	return stem + Suffix
}

// ReadIfExists loads the side file for targetPath. It returns nil, nil when
// there is none.
func ReadIfExists(targetPath string) (*Concordances, error) {
	path := FileFor(targetPath)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("concordance: read %s: %w", path, err)
	}
	cs, err := Parse(data, filepath.Dir(targetPath))
	if err != nil {
		return nil, err
	}
	if cs.Len() == 0 {
		return nil, nil
	}
	return cs, nil
}

// RemovePrevious deletes the side file for targetPath if present.
func RemovePrevious(targetPath string) error {
	path := FileFor(targetPath)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("concordance: remove %s: %w", path, err)
	}
	return nil
}

func resolve(baseDir, name string) string {
	name = strings.TrimSpace(name)
	if filepath.IsAbs(name) || baseDir == "" {
		return filepath.Clean(name)
	}
	return filepath.Join(baseDir, name)
}

func relTo(baseDir, path string) string {
	if baseDir == "" {
		return path
	}
	if rel, err := filepath.Rel(baseDir, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return path
}
