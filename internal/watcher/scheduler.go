package watcher

import (
	"log/slog"
	"sort"
	"time"
)

// Default timing, matching config.NewConfig.
const (
	DefaultDebounce    = 2 * time.Second
	DefaultMinInterval = 5 * time.Second
)

// State is the scheduler's lifecycle state.
type State int

const (
	// StateIdle has nothing pending and nothing running.
	StateIdle State = iota
	// StatePendingChange has seen one burst of events.
	StatePendingChange
	// StateDebouncing has seen further events and keeps extending the quiet window.
	StateDebouncing
	// StateReindexing has handed a batch to the reindex callback.
	StateReindexing
)

// String returns the state's name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePendingChange:
		return "pending_change"
	case StateDebouncing:
		return "debouncing"
	case StateReindexing:
		return "reindexing"
	default:
		return "unknown"
	}
}

// Batch is one unit of reindex work.
type Batch struct {
	// Changes holds the coalesced events, sorted by path.
	Changes []FileEvent
	// Full asks for a whole-tree reindex; the exclusion set or the
	// configuration changed.
	Full bool
}

// Paths returns the changed paths, or nil for a full reindex.
func (b Batch) Paths() []string {
	if b.Full {
		return nil
	}
	out := make([]string, 0, len(b.Changes))
	for _, c := range b.Changes {
		out = append(out, c.Path)
	}
	return out
}

// Scheduler decides when to reindex. It holds no clock and no goroutine;
// every method takes the current time from the caller. It is not safe for
// concurrent use.
type Scheduler struct {
	debounce    time.Duration
	minInterval time.Duration

	state      State
	pending    map[string]*pendingEvent
	full       bool
	lastEvent  time.Time
	lastFinish time.Time
	// absorbed is set when events arrive while a batch is running.
	absorbed bool
}

// NewScheduler creates a scheduler. Non-positive durations disable the
// corresponding wait.
func NewScheduler(debounce, minInterval time.Duration) *Scheduler {
	return &Scheduler{
		debounce:    max(debounce, 0),
		minInterval: max(minInterval, 0),
		pending:     make(map[string]*pendingEvent),
	}
}

// State returns the current state.
func (s *Scheduler) State() State { return s.state }

// Pending returns the number of paths waiting for the next batch.
func (s *Scheduler) Pending() int { return len(s.pending) }

// Observe records events. Each call restarts the debounce window.
func (s *Scheduler) Observe(now time.Time, events ...FileEvent) {
	if len(events) == 0 {
		return
	}
	for _, ev := range events {
		if ev.fullReindex() {
			s.full = true
			continue
		}
		if ev.Path == "" {
			continue
		}
		existing, ok := s.pending[ev.Path]
		if !ok {
			s.pending[ev.Path] = &pendingEvent{event: ev, firstOp: ev.Operation}
			continue
		}
		merged, keep := coalesce(existing, ev)
		if !keep {
			delete(s.pending, ev.Path)
			continue
		}
		existing.event = merged
	}
	s.lastEvent = now

	switch s.state {
	case StateReindexing:
		s.absorbed = len(s.pending) > 0 || s.full
	case StateIdle:
		if s.hasWork() {
			s.state = StatePendingChange
		}
	default:
		if s.hasWork() {
			s.state = StateDebouncing
		} else {
			s.state = StateIdle
		}
	}
}

func (s *Scheduler) hasWork() bool {
	return len(s.pending) > 0 || s.full
}

// Deadline returns the earliest time Next can fire, or the zero time when
// nothing is pending or a batch is running.
func (s *Scheduler) Deadline() time.Time {
	if s.state != StatePendingChange && s.state != StateDebouncing {
		return time.Time{}
	}
	at := s.lastEvent.Add(s.debounce)
	if !s.lastFinish.IsZero() {
		if earliest := s.lastFinish.Add(s.minInterval); earliest.After(at) {
			at = earliest
		}
	}
	return at
}

// Next hands out a batch once the quiet window has passed and the minimum
// interval since the previous reindex has elapsed. The scheduler moves to
// Reindexing and clears its pending set; the caller must report the outcome
// through Finish.
func (s *Scheduler) Next(now time.Time) (Batch, bool) {
	deadline := s.Deadline()
	if deadline.IsZero() || now.Before(deadline) {
		return Batch{}, false
	}

	b := Batch{Full: s.full, Changes: make([]FileEvent, 0, len(s.pending))}
	for _, p := range s.pending {
		b.Changes = append(b.Changes, p.event)
	}
	sort.Slice(b.Changes, func(i, j int) bool { return b.Changes[i].Path < b.Changes[j].Path })

	s.pending = make(map[string]*pendingEvent)
	s.full = false
	s.absorbed = false
	s.state = StateReindexing
	return b, true
}

// Finish records the end of the running batch. A failed batch is logged
// and dropped; the next change starts a fresh cycle.
func (s *Scheduler) Finish(now time.Time, err error) {
	if s.state != StateReindexing {
		return
	}
	s.lastFinish = now
	if err != nil {
		slog.Warn("watch_reindex_failed", slog.String("error", err.Error()))
	}
	if s.absorbed && s.hasWork() {
		s.state = StatePendingChange
	} else {
		s.state = StateIdle
	}
	s.absorbed = false
}
