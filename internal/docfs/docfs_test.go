package docfs

import (
	"os"
	"path/filepath"
	"testing"
)

func tempDir(t *testing.T) (string, *Dir) {
	t.Helper()
	root := t.TempDir()
	d, err := NewDir(root)
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}
	return d.root, d
}

func TestResolve_Symlink(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "doc.Rnw")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(root, "link.Rnw")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	doc, err := Resolve(link)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want, _ := filepath.EvalSymlinks(target)
	if doc.Path() != want {
		t.Errorf("path = %q, want %q", doc.Path(), want)
	}
	if !doc.Literate() {
		t.Error("Rnw should be literate")
	}
	if doc.Sibling(".tex") != filepath.Join(filepath.Dir(want), "doc.tex") {
		t.Errorf("sibling = %q", doc.Sibling(".tex"))
	}
}

func TestResolve_Missing(t *testing.T) {
	if _, err := Resolve(filepath.Join(t.TempDir(), "nope.tex")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDoc_Extensions(t *testing.T) {
	cases := map[string]bool{
		"/a/doc.tex": false,
		"/a/doc.Rnw": true,
		"/a/doc.SNW": true,
		"/a/doc.nw":  true,
		"/a/doc.Rmd": false,
	}
	for path, want := range cases {
		if got := NewDoc(path).Literate(); got != want {
			t.Errorf("Literate(%s) = %v, want %v", path, got, want)
		}
	}
	if stem := NewDoc("/a/my.doc.tex").Stem(); stem != "my.doc" {
		t.Errorf("stem = %q", stem)
	}
}

func TestDir_RemoveAndExists(t *testing.T) {
	root, d := tempDir(t)
	_ = os.WriteFile(filepath.Join(root, "doc.aux"), []byte("x"), 0o644)

	if !d.Exists("doc.aux") {
		t.Fatal("doc.aux should exist")
	}
	if err := d.Remove("doc.aux"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if d.Exists("doc.aux") {
		t.Error("doc.aux should be gone")
	}
	if err := d.Remove("doc.aux"); err != nil {
		t.Errorf("removing a missing file should succeed: %v", err)
	}
}

func TestDir_RejectsEscape(t *testing.T) {
	_, d := tempDir(t)
	if err := d.Remove("../outside.aux"); err == nil {
		t.Error("expected traversal to be rejected")
	}
	if d.Exists("/etc/passwd") {
		t.Error("absolute path outside root should not be visible")
	}
}

func TestDir_HasExt(t *testing.T) {
	root, d := tempDir(t)
	if d.HasExt(".bib") {
		t.Error("no .bib yet")
	}
	_ = os.WriteFile(filepath.Join(root, "refs.bib"), []byte("@article{}"), 0o644)
	if !d.HasExt(".bib") {
		t.Error("refs.bib should be detected")
	}
}
