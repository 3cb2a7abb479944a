// Package docfs names a compile target and the ancillary files TeX tooling
// writes beside it, and performs file operations confined to its directory.
package docfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Literate source extensions (lower case) that require weaving.
var literateExts = map[string]struct{}{
	".rnw": {},
	".snw": {},
	".nw":  {},
}

// Doc is a document path plus helpers for its siblings.
type Doc struct {
	path string // absolute, symlink-free
	dir  string
}

// Resolve returns the Doc for path after resolving it to an absolute,
// symlink-free location. The file must exist.
func Resolve(path string) (Doc, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Doc{}, fmt.Errorf("docfs: resolve %s: %w", path, err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return Doc{}, fmt.Errorf("docfs: resolve %s: %w", path, err)
	}
	info, err := os.Stat(real)
	if err != nil {
		return Doc{}, fmt.Errorf("docfs: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return Doc{}, fmt.Errorf("docfs: %s is a directory", path)
	}
	return Doc{path: real, dir: filepath.Dir(real)}, nil
}

// NewDoc wraps an absolute path without touching the file system.
func NewDoc(path string) Doc {
	clean := filepath.Clean(path)
	return Doc{path: clean, dir: filepath.Dir(clean)}
}

// Path returns the document path.
func (d Doc) Path() string { return d.path }

// Dir returns the directory containing the document.
func (d Doc) Dir() string { return d.dir }

// Base returns the file name.
func (d Doc) Base() string { return filepath.Base(d.path) }

// Ext returns the lower-cased extension including the dot.
func (d Doc) Ext() string { return strings.ToLower(filepath.Ext(d.path)) }

// Stem returns the file name without its extension.
func (d Doc) Stem() string {
	base := d.Base()
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Literate reports whether the document must be woven before compiling.
func (d Doc) Literate() bool {
	_, ok := literateExts[d.Ext()]
	return ok
}

// Sibling returns the path of stem+ext in the document directory.
func (d Doc) Sibling(ext string) string {
	return filepath.Join(d.dir, d.Stem()+ext)
}

// Dir performs file operations confined to one directory.
type Dir struct {
	root string
}

// NewDir creates a Dir rooted at root. The directory must already exist.
func NewDir(root string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("docfs: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("docfs: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("docfs: root is not a directory: %s", abs)
	}
	return &Dir{root: abs}, nil
}

// safePath accepts a name relative to the root or an absolute path inside it,
// and rejects anything that escapes the root.
func (d *Dir) safePath(name string) (string, error) {
	var abs string
	if filepath.IsAbs(name) {
		abs = filepath.Clean(name)
	} else {
		abs = filepath.Join(d.root, filepath.Clean(name))
	}
	if !strings.HasPrefix(abs, d.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("docfs: path escapes document directory: %s", name)
	}
	return abs, nil
}

// Exists reports whether name exists as a regular file.
func (d *Dir) Exists(name string) bool {
	abs, err := d.safePath(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && !info.IsDir()
}

// Read returns the contents of name.
func (d *Dir) Read(name string) ([]byte, error) {
	abs, err := d.safePath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("docfs: read %s: %w", name, err)
	}
	return data, nil
}

// Remove deletes name. A missing file is not an error.
func (d *Dir) Remove(name string) error {
	abs, err := d.safePath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("docfs: remove %s: %w", name, err)
	}
	return nil
}

// HasExt reports whether the directory holds at least one file with ext.
func (d *Dir) HasExt(ext string) bool {
	matches, err := filepath.Glob(filepath.Join(d.root, "*"+ext))
	if err != nil {
		return false
	}
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && !info.IsDir() {
			return true
		}
	}
	return false
}
