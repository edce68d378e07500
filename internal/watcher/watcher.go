package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Aman-CERP/cgrep/internal/config"
	"github.com/Aman-CERP/cgrep/internal/scanner"
)

// DefaultPollInterval is used when fsnotify is unavailable.
const DefaultPollInterval = time.Second

// ErrNilReindex is returned by Run without a reindex callback.
var ErrNilReindex = errors.New("watcher: reindex callback is required")

// ReindexFunc applies one batch. It runs on its own goroutine, never
// concurrently with another batch.
type ReindexFunc func(ctx context.Context, b Batch) error

// Options configures a Watcher.
type Options struct {
	// Debounce is the quiet window before a reindex (0 = DefaultDebounce).
	Debounce time.Duration
	// MinInterval separates the end of one reindex from the start of the
	// next (0 = DefaultMinInterval).
	MinInterval time.Duration
	// PollInterval forces the polling source when positive.
	PollInterval time.Duration
	// Now overrides the clock.
	Now func() time.Time
}

// OptionsFromConfig maps the watch section of the configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	if cfg == nil {
		return Options{}
	}
	return Options{Debounce: cfg.Watch.Debounce, MinInterval: cfg.Watch.MinInterval}
}

// Watcher turns filesystem activity under a scanner's root into reindex
// batches.
type Watcher struct {
	sc    *scanner.Scanner
	root  string
	opts  Options
	sched *Scheduler

	// fsw is nil when polling.
	fsw      *fsnotify.Watcher
	snapshot map[string]fileState
}

// New creates a watcher over the scanner's root. It falls back to polling
// when fsnotify cannot be initialized.
func New(sc *scanner.Scanner, opts Options) (*Watcher, error) {
	if sc == nil {
		return nil, errors.New("watcher: scanner is required")
	}
	if opts.Debounce == 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.MinInterval == 0 {
		opts.MinInterval = DefaultMinInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	w := &Watcher{
		sc:    sc,
		root:  sc.Root(),
		opts:  opts,
		sched: NewScheduler(opts.Debounce, opts.MinInterval),
	}
	if opts.PollInterval <= 0 {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			slog.Warn("watch_fallback_polling", slog.String("error", err.Error()))
			w.opts.PollInterval = DefaultPollInterval
		} else {
			w.fsw = fsw
		}
	}
	return w, nil
}

// Polling reports whether the watcher uses the polling source.
func (w *Watcher) Polling() bool { return w.fsw == nil }

// Scheduler exposes the scheduler for status reporting.
func (w *Watcher) Scheduler() *Scheduler { return w.sched }

// Run watches until ctx is cancelled. A running batch is allowed to finish
// before Run returns. Reindex failures are logged and never stop the loop.
func (w *Watcher) Run(ctx context.Context, reindex ReindexFunc) error {
	if reindex == nil {
		return ErrNilReindex
	}

	var (
		fsEvents <-chan fsnotify.Event
		fsErrors <-chan error
		pollC    <-chan time.Time
	)
	if w.fsw != nil {
		defer w.fsw.Close()
		if _, err := w.addRecursive(w.root, false); err != nil {
			return fmt.Errorf("failed to watch %s: %w", w.root, err)
		}
		fsEvents, fsErrors = w.fsw.Events, w.fsw.Errors
	} else {
		w.snapshot = w.takeSnapshot(ctx)
		ticker := time.NewTicker(w.opts.PollInterval)
		defer ticker.Stop()
		pollC = ticker.C
	}

	slog.Info("watch_started",
		slog.String("root", w.root),
		slog.Bool("polling", w.Polling()),
		slog.Duration("debounce", w.opts.Debounce),
		slog.Duration("min_interval", w.opts.MinInterval))

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	var done chan error
	for {
		w.arm(timer)

		select {
		case <-ctx.Done():
			if done != nil {
				w.sched.Finish(w.opts.Now(), <-done)
			}
			slog.Info("watch_stopped", slog.String("root", w.root))
			return nil

		case ev, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			w.observe(w.handle(ev))

		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			slog.Warn("watch_error", slog.String("error", err.Error()))

		case <-pollC:
			next := w.takeSnapshot(ctx)
			w.observe(diffSnapshots(w.snapshot, next, w.opts.Now()))
			w.snapshot = next

		case <-timer.C:
			b, ok := w.sched.Next(w.opts.Now())
			if !ok {
				continue
			}
			slog.Info("watch_reindex_started",
				slog.Int("paths", len(b.Changes)),
				slog.Bool("full", b.Full))
			done = make(chan error, 1)
			go func(b Batch) { done <- reindex(ctx, b) }(b)

		case err := <-done:
			done = nil
			w.sched.Finish(w.opts.Now(), err)
			if err == nil {
				slog.Info("watch_reindex_complete", slog.String("state", w.sched.State().String()))
			}
		}
	}
}

// arm points the timer at the scheduler's next deadline.
func (w *Watcher) arm(timer *time.Timer) {
	deadline := w.sched.Deadline()
	if deadline.IsZero() {
		timer.Stop()
		return
	}
	timer.Reset(max(deadline.Sub(w.opts.Now()), 0))
}

func (w *Watcher) observe(events []FileEvent) {
	if len(events) == 0 {
		return
	}
	for _, ev := range events {
		if ev.Operation == OpGitignoreChange {
			w.sc.InvalidateGitignoreCache()
			break
		}
	}
	w.sched.Observe(w.opts.Now(), events...)
}

// handle converts one fsnotify event. A created directory is watched and
// the files already inside it are reported as created.
func (w *Watcher) handle(ev fsnotify.Event) []FileEvent {
	rel, ok := w.rel(ev.Name)
	if !ok {
		return nil
	}

	var op Operation
	switch {
	case ev.Has(fsnotify.Create):
		op = OpCreate
	case ev.Has(fsnotify.Write):
		op = OpModify
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		op = OpDelete
	default:
		// Chmod only.
		return nil
	}

	now := w.opts.Now()
	if special, ok := classify(rel, now); ok {
		return []FileEvent{special}
	}

	isDir := false
	if op != OpDelete {
		info, err := os.Stat(ev.Name)
		if err != nil {
			// Gone again before we looked.
			op = OpDelete
		} else {
			isDir = info.IsDir()
		}
	}
	if w.excluded(rel, isDir) {
		return nil
	}

	if isDir {
		if op != OpCreate {
			return nil
		}
		created, err := w.addRecursive(ev.Name, true)
		if err != nil {
			slog.Warn("watch_add_failed", slog.String("path", rel), slog.String("error", err.Error()))
		}
		return created
	}
	return []FileEvent{{Path: rel, Operation: op, IsDir: false, Timestamp: now}}
}

// addRecursive watches dir and every non-excluded directory below it. With
// report set it also returns a create event per file found.
func (w *Watcher) addRecursive(dir string, report bool) ([]FileEvent, error) {
	var created []FileEvent
	now := w.opts.Now()
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		rel, ok := w.rel(p)
		if d.IsDir() {
			if ok && w.excluded(rel, true) {
				return filepath.SkipDir
			}
			if err := w.fsw.Add(p); err != nil {
				slog.Debug("watch_add_failed", slog.String("path", p), slog.String("error", err.Error()))
			}
			return nil
		}
		if report && ok && !w.excluded(rel, false) {
			created = append(created, FileEvent{Path: rel, Operation: OpCreate, Timestamp: now})
		}
		return nil
	})
	return created, err
}

// excluded applies the scanner's rules to rel and all its ancestors.
func (w *Watcher) excluded(rel string, isDir bool) bool {
	parts := strings.Split(rel, "/")
	for i := 1; i < len(parts); i++ {
		if w.sc.Excluded(strings.Join(parts[:i], "/"), true) {
			return true
		}
	}
	return w.sc.Excluded(rel, isDir)
}

func (w *Watcher) rel(abs string) (string, bool) {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// classify recognizes files whose change invalidates the whole tree.
func classify(rel string, now time.Time) (FileEvent, bool) {
	switch {
	case path.Base(rel) == ".gitignore":
		return FileEvent{Path: rel, Operation: OpGitignoreChange, Timestamp: now}, true
	case rel == config.ProjectConfigFile:
		return FileEvent{Path: rel, Operation: OpConfigChange, Timestamp: now}, true
	}
	return FileEvent{}, false
}
