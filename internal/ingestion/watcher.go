package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/54b3r/chatedu-go/internal/courses"
)

// DefaultDebounce is how long a course folder must stay quiet before it is
// re-ingested.
const DefaultDebounce = 2 * time.Second

// Watcher re-ingests a course, replacing its points, whenever a document in
// its folder is created, written, removed, or renamed. Bursts of events for
// one course collapse into a single run after the debounce window.
type Watcher struct {
	runner   *Runner
	root     string
	debounce time.Duration
	log      *slog.Logger

	// OnResult, when set, is called after every watcher-triggered run.
	OnResult func(Result)

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewWatcher constructs a Watcher over the runner's course root.
func NewWatcher(runner *Runner, debounce time.Duration, log *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		runner:   runner,
		root:     filepath.Clean(runner.Lister().Root),
		debounce: debounce,
		log:      log,
		pending:  make(map[string]*time.Timer),
	}
}

// Run watches the course root until ctx is cancelled. Course folders created
// while running are picked up. Ingestion runs are serialised.
func (w *Watcher) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("ingestion: create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.root); err != nil {
		return fmt.Errorf("ingestion: watch %s: %w", w.root, err)
	}
	list, err := w.runner.Lister().List()
	if err != nil {
		return err
	}
	for _, c := range list {
		if err := fw.Add(c.Dir); err != nil {
			w.log.Warn("ingestion: could not watch course", slog.String("dir", c.Dir), slog.Any("error", err))
		}
	}
	w.log.Info("ingestion: watching course root", slog.String("root", w.root), slog.Int("courses", len(list)))

	due := make(chan string, 16)
	defer w.stopTimers()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if dir, isNewCourse := w.newCourseDir(ev); isNewCourse {
				if err := fw.Add(dir); err != nil {
					w.log.Warn("ingestion: could not watch new course", slog.String("dir", dir), slog.Any("error", err))
				}
			}
			if id, ok := w.courseFor(ev); ok {
				w.schedule(ctx, id, due)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("ingestion: watcher error", slog.Any("error", err))

		case id := <-due:
			res := w.runner.RunCourse(ctx, id, true)
			if w.OnResult != nil {
				w.OnResult(res)
			}
		}
	}
}

// courseFor maps a document event to its course id. Events on hidden files,
// non-document files, directories, and chmod-only changes are ignored.
func (w *Watcher) courseFor(ev fsnotify.Event) (string, bool) {
	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) &&
		!ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
		return "", false
	}
	if !courses.IsDocument(ev.Name) {
		return "", false
	}
	rel, err := filepath.Rel(w.root, filepath.Clean(ev.Name))
	if err != nil {
		return "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 || parts[0] == ".." || strings.HasPrefix(parts[0], ".") {
		return "", false
	}
	return parts[0], true
}

// newCourseDir reports whether ev created a visible directory directly under
// the root.
func (w *Watcher) newCourseDir(ev fsnotify.Event) (string, bool) {
	if !ev.Op.Has(fsnotify.Create) || filepath.Dir(filepath.Clean(ev.Name)) != w.root {
		return "", false
	}
	if strings.HasPrefix(filepath.Base(ev.Name), ".") {
		return "", false
	}
	info, err := os.Stat(ev.Name)
	if err != nil || !info.IsDir() {
		return "", false
	}
	return ev.Name, true
}

// schedule (re)arms the debounce timer of course id.
func (w *Watcher) schedule(ctx context.Context, id string, due chan<- string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[id]; ok {
		t.Stop()
	}
	w.pending[id] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, id)
		w.mu.Unlock()
		select {
		case due <- id:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, t := range w.pending {
		t.Stop()
		delete(w.pending, id)
	}
}
