// Package watch recompiles a document when its sources change on disk.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/weavetex/internal/checksum"
	"github.com/starford/weavetex/internal/concordance"
	"github.com/starford/weavetex/internal/docfs"
	"github.com/starford/weavetex/internal/models"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 300 * time.Millisecond

// Source extensions whose changes trigger a recompile.
var sourceExts = map[string]struct{}{
	".tex": {},
	".rnw": {},
	".snw": {},
	".nw":  {},
	".bib": {},
	".sty": {},
	".cls": {},
}

// Starter launches a compile. It returns false when one is already running.
type Starter interface {
	Start(targetFile, encoding string, loc models.SourceLocation) bool
}

// ChecksumStore remembers the last seen content digest per path.
type ChecksumStore interface {
	GetChecksum(path string) (string, error)
	SetChecksum(path, sum string) error
}

// Watcher drives a Starter from file system events under a document's
// directory.
type Watcher struct {
	target   docfs.Doc
	starter  Starter
	sums     ChecksumStore
	encoding string
	debounce time.Duration
	initial  bool
	logger   *slog.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the settle interval.
func WithDebounce(d time.Duration) Option { return func(w *Watcher) { w.debounce = d } }

// WithChecksums persists content digests in s instead of memory.
func WithChecksums(s ChecksumStore) Option { return func(w *Watcher) { w.sums = s } }

// WithEncoding sets the encoding passed to every compile.
func WithEncoding(enc string) Option { return func(w *Watcher) { w.encoding = enc } }

// WithInitialCompile compiles once before waiting for changes.
func WithInitialCompile() Option { return func(w *Watcher) { w.initial = true } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(w *Watcher) { w.logger = l } }

// New returns a Watcher for targetFile, which must exist.
func New(targetFile string, starter Starter, opts ...Option) (*Watcher, error) {
	doc, err := docfs.Resolve(targetFile)
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		target:   doc,
		starter:  starter,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	if w.sums == nil {
		w.sums = newMemSums()
	}
	return w, nil
}

// Relevant reports whether a change to path should trigger a recompile.
// The TeX file generated by weaving a literate target and concordance
// sidecars are excluded so a compile cannot retrigger itself.
func (w *Watcher) Relevant(path string) bool {
	if _, ok := sourceExts[strings.ToLower(filepath.Ext(path))]; !ok {
		return false
	}
	if strings.HasSuffix(path, concordance.Suffix) {
		return false
	}
	if w.target.Literate() && filepath.Clean(path) == w.target.Sibling(".tex") {
		return false
	}
	return true
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	root := w.target.Dir()
	if err := addDirsRecursive(fw, root); err != nil {
		return err
	}
	w.seed(root)
	w.logger.Info("watch: started",
		slog.String("target", w.target.Path()),
		slog.String("root", root))

	if w.initial {
		w.starter.Start(w.target.Path(), w.encoding, models.SourceLocation{})
	}

	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerCh <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(w.debounce)
			timerCh = timer.C
		} else {
			timer.Reset(w.debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			w.logger.Info("watch: stopped")
			return nil

		case <-timerCh:
			if !w.flush(pending) {
				schedule()
			}

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(fw, ev.Name); addErr != nil {
						w.logger.Warn("watch: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					continue
				}
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || !w.Relevant(ev.Name) {
				continue
			}
			pending[ev.Name] = struct{}{}
			schedule()

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watch: error", slog.String("error", watchErr.Error()))
		}
	}
}

// flush compiles when any pending path changed content. It returns false
// when the compile slot was busy and the changes must be retried.
func (w *Watcher) flush(pending map[string]struct{}) bool {
	changed := make(map[string]string)
	for path := range pending {
		sum, err := checksum.File(path)
		if err != nil {
			delete(pending, path)
			continue
		}
		if prev, _ := w.sums.GetChecksum(path); prev == sum {
			delete(pending, path)
			continue
		}
		changed[path] = sum
	}
	if len(changed) == 0 {
		return true
	}

	if !w.starter.Start(w.target.Path(), w.encoding, models.SourceLocation{}) {
		w.logger.Info("watch: compile busy, retrying", slog.Int("changed", len(changed)))
		return false
	}
	for path, sum := range changed {
		if err := w.sums.SetChecksum(path, sum); err != nil {
			w.logger.Warn("watch: store checksum failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
		delete(pending, path)
	}
	w.logger.Debug("watch: recompiling", slog.Int("changed", len(changed)))
	return true
}

// seed records digests of the sources present at startup so that touching
// a file without editing it does not recompile.
func (w *Watcher) seed(root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !w.Relevant(path) {
			return nil
		}
		if prev, _ := w.sums.GetChecksum(path); prev != "" {
			return nil
		}
		if sum, sumErr := checksum.File(path); sumErr == nil {
			_ = w.sums.SetChecksum(path, sum)
		}
		return nil
	})
}

func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

type memSums struct {
	mu   sync.Mutex
	sums map[string]string
}

func newMemSums() *memSums { return &memSums{sums: make(map[string]string)} }

func (m *memSums) GetChecksum(path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sums[path], nil
}

func (m *memSums) SetChecksum(path, sum string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sums[path] = sum
	return nil
}
