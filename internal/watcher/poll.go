package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Aman-CERP/cgrep/internal/config"
)

// fileState is what polling compares between two walks.
type fileState struct {
	modTime time.Time
	size    int64
}

// takeSnapshot records every scanned file plus the root .gitignore and
// project config, which the scan itself skips as hidden files.
func (w *Watcher) takeSnapshot(ctx context.Context) map[string]fileState {
	snap := make(map[string]fileState)
	for res := range w.sc.Scan(ctx) {
		if res.File == nil {
			continue
		}
		snap[res.File.Path] = fileState{modTime: res.File.ModTime, size: res.File.Size}
	}
	for _, name := range []string{".gitignore", config.ProjectConfigFile} {
		if info, err := os.Stat(filepath.Join(w.root, name)); err == nil && !info.IsDir() {
			snap[name] = fileState{modTime: info.ModTime(), size: info.Size()}
		}
	}
	return snap
}

// diffSnapshots returns the events that turn prev into cur, sorted by path.
func diffSnapshots(prev, cur map[string]fileState, now time.Time) []FileEvent {
	var events []FileEvent
	emit := func(p string, op Operation) {
		if special, ok := classify(p, now); ok {
			events = append(events, special)
			return
		}
		events = append(events, FileEvent{Path: p, Operation: op, Timestamp: now})
	}

	for p, st := range cur {
		old, ok := prev[p]
		switch {
		case !ok:
			emit(p, OpCreate)
		case !old.modTime.Equal(st.modTime) || old.size != st.size:
			emit(p, OpModify)
		}
	}
	for p := range prev {
		if _, ok := cur[p]; !ok {
			emit(p, OpDelete)
		}
	}

	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })
	return events
}
