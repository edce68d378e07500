package watcher

import "time"

// Operation represents a file system operation type.
type Operation int

const (
	// OpCreate indicates a new file or directory was created.
	OpCreate Operation = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file or directory was deleted or renamed away.
	OpDelete
	// OpGitignoreChange indicates a .gitignore file changed. The exclusion
	// set moved, so the next reindex covers the whole tree.
	OpGitignoreChange
	// OpConfigChange indicates the project config file changed.
	OpConfigChange
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpGitignoreChange:
		return "GITIGNORE_CHANGE"
	case OpConfigChange:
		return "CONFIG_CHANGE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent represents a file system event.
type FileEvent struct {
	// Path is the slash-separated path relative to the watched root.
	Path      string
	Operation Operation
	IsDir     bool
	Timestamp time.Time
}

// fullReindex reports whether the event invalidates the whole tree.
func (e FileEvent) fullReindex() bool {
	return e.Operation == OpGitignoreChange || e.Operation == OpConfigChange
}

// pendingEvent is the coalesced state of one path.
type pendingEvent struct {
	event   FileEvent
	firstOp Operation
}

// coalesce merges a later event for the same path into an earlier one:
//   - CREATE + MODIFY = CREATE (file is still new)
//   - CREATE + DELETE = nothing (file never really existed)
//   - MODIFY + DELETE = DELETE (file is gone)
//   - DELETE + CREATE = MODIFY (file was replaced)
//
// It returns false when the two cancel out.
func coalesce(existing *pendingEvent, next FileEvent) (FileEvent, bool) {
	switch existing.firstOp {
	case OpCreate:
		switch next.Operation {
		case OpModify:
			kept := existing.event
			kept.Timestamp = next.Timestamp
			return kept, true
		case OpDelete:
			return FileEvent{}, false
		}
	case OpDelete:
		if next.Operation == OpCreate || next.Operation == OpModify {
			replaced := next
			replaced.Operation = OpModify
			return replaced, true
		}
	}
	return next, true
}
