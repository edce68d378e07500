// Package watcher keeps the index current while a tree is being edited.
//
// Filesystem events from fsnotify (or a polling fallback where fsnotify is
// unavailable) feed a Scheduler, a pure state machine that coalesces events
// per path, waits for a quiet debounce window and enforces a minimum
// interval between reindex runs:
//
//	Idle -> PendingChange -> Debouncing -> Reindexing -> Idle
//
// The Scheduler never reads a clock; callers pass the current time, so the
// whole timing policy is testable with synthetic clocks. Watcher.Run owns
// the only timer and runs at most one reindex at a time. Events that arrive
// during a reindex are absorbed into the next cycle.
//
// Usage:
//
//	w, err := watcher.New(sc, watcher.Options{Debounce: 2 * time.Second})
//	if err != nil {
//	    return err
//	}
//	err = w.Run(ctx, func(ctx context.Context, b watcher.Batch) error {
//	    _, err := runner.Run(ctx, index.Options{Paths: b.Paths()})
//	    return err
//	})
package watcher
