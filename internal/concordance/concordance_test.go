package concordance

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// sweaveTable is the line table Sweave produces for a document with two code
// chunks whose headers sit on lines 4 and 9 of doc.Rnw.
var sweaveTable = []int{1, 1, 2, 2, 3, 4, 4, 5, 6, 6, 7, 8, 9, 9, 10, 10, 10, 10, 10, 11, 12}

func sweaveConcordances(dir string) *Concordances {
	cs := &Concordances{}
	cs.Add(New(filepath.Join(dir, "doc.tex"), filepath.Join(dir, "doc.Rnw"), 0, sweaveTable))
	return cs
}

func TestRoundTrip_ChunkBodies(t *testing.T) {
	dir := t.TempDir()
	cs := sweaveConcordances(dir)
	rnw := filepath.Join(dir, "doc.Rnw")

	for _, line := range []int{5, 6, 10} {
		tex := cs.TexLine(FileAndLine{File: rnw, Line: line})
		if tex.IsEmpty() {
			t.Fatalf("TexLine(%d) empty", line)
		}
		if tex.File != filepath.Join(dir, "doc.tex") {
			t.Errorf("TexLine(%d) file = %q", line, tex.File)
		}
		back := cs.RnwLine(tex)
		if back.File != rnw || back.Line != line {
			t.Errorf("round trip %d -> %d -> %+v", line, tex.Line, back)
		}
	}
}

func TestTexLine_FirstMatchAndFallback(t *testing.T) {
	dir := t.TempDir()
	cs := sweaveConcordances(dir)
	rnw := filepath.Join(dir, "doc.Rnw")

	if got := cs.TexLine(FileAndLine{File: rnw, Line: 10}); got.Line != 15 {
		t.Errorf("TexLine(10) = %d, want first output line 15", got.Line)
	}
	if got := cs.TexLine(FileAndLine{File: rnw, Line: 40}); got.Line != 21 {
		t.Errorf("TexLine past end = %d, want nearest preceding 21", got.Line)
	}
	if got := cs.TexLine(FileAndLine{File: filepath.Join(dir, "other.Rnw"), Line: 3}); !got.IsEmpty() {
		t.Errorf("unknown file should map to empty, got %+v", got)
	}
	if got := cs.RnwLine(FileAndLine{File: filepath.Join(dir, "doc.tex"), Line: 99}); !got.IsEmpty() {
		t.Errorf("out-of-range tex line should map to empty, got %+v", got)
	}
}

func TestNilConcordancesAreEmpty(t *testing.T) {
	var cs *Concordances
	if !cs.TexLine(FileAndLine{File: "a", Line: 1}).IsEmpty() {
		t.Error("nil TexLine should be empty")
	}
	if !cs.RnwLine(FileAndLine{File: "a", Line: 1}).IsEmpty() {
		t.Error("nil RnwLine should be empty")
	}
}

func TestEncodeParse(t *testing.T) {
	dir := t.TempDir()
	cs := sweaveConcordances(dir)
	text := cs.Encode(dir)
	if !strings.HasPrefix(text, `\Sconcordance{concordance:doc.tex:doc.Rnw:1 1 0 1 1 1 0`) {
		t.Errorf("encoded = %q", text)
	}

	parsed, err := Parse([]byte(text), dir)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Len() != 1 {
		t.Fatalf("records = %d", parsed.Len())
	}
	got := parsed.items[0].inputLines
	if len(got) != len(sweaveTable) {
		t.Fatalf("table length = %d, want %d", len(got), len(sweaveTable))
	}
	for i := range got {
		if got[i] != sweaveTable[i] {
			t.Fatalf("table[%d] = %d, want %d", i, got[i], sweaveTable[i])
		}
	}
}

func TestParse_SplitLinesAndOffset(t *testing.T) {
	data := "\\Sconcordance{concordance:main.tex:child.Rnw:ofs 10:%\n3 2 1}\n"
	cs, err := Parse([]byte(data), "/proj")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := cs.RnwLine(FileAndLine{File: "/proj/main.tex", Line: 11}); got.File != "/proj/child.Rnw" || got.Line != 3 {
		t.Errorf("RnwLine(11) = %+v", got)
	}
	if got := cs.RnwLine(FileAndLine{File: "/proj/main.tex", Line: 13}); got.Line != 5 {
		t.Errorf("RnwLine(13) = %+v", got)
	}
	if got := cs.RnwLine(FileAndLine{File: "/proj/main.tex", Line: 10}); !got.IsEmpty() {
		t.Errorf("line before offset should be empty, got %+v", got)
	}
}

func TestParse_Malformed(t *testing.T) {
	if _, err := Parse([]byte(`\Sconcordance{concordance:a.tex:a.Rnw:1 2}`), "/x"); err == nil {
		t.Error("even value count should fail")
	}
	if _, err := Parse([]byte(`\Sconcordance{bogus}`), "/x"); err == nil {
		t.Error("missing prefix should fail")
	}
}

func TestReadIfExistsAndRemovePrevious(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "doc.Rnw")

	cs, err := ReadIfExists(target)
	if err != nil || cs != nil {
		t.Fatalf("absent side file: cs=%v err=%v", cs, err)
	}

	side := filepath.Join(dir, "doc-concordance.tex")
	if FileFor(target) != side || FileFor(filepath.Join(dir, "doc.tex")) != side {
		t.Fatalf("FileFor mismatch: %s", FileFor(target))
	}
	if err := os.WriteFile(side, []byte(sweaveConcordances(dir).Encode(dir)), 0o644); err != nil {
		t.Fatal(err)
	}

	cs, err = ReadIfExists(filepath.Join(dir, "doc.tex"))
	if err != nil || cs.Len() != 1 {
		t.Fatalf("ReadIfExists: cs=%v err=%v", cs, err)
	}

	if err := RemovePrevious(target); err != nil {
		t.Fatalf("RemovePrevious: %v", err)
	}
	if _, err := os.Stat(side); !os.IsNotExist(err) {
		t.Error("side file still present")
	}
	if err := RemovePrevious(target); err != nil {
		t.Errorf("second RemovePrevious: %v", err)
	}
}
