package watcher

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) time.Time { return t0.Add(d) }

func ev(p string, op Operation) FileEvent {
	return FileEvent{Path: p, Operation: op}
}

func TestScheduler_DebounceWindowRestartsOnEachEvent(t *testing.T) {
	s := NewScheduler(2*time.Second, 5*time.Second)
	assert.Equal(t, StateIdle, s.State())
	assert.True(t, s.Deadline().IsZero())

	// Given: a first change
	s.Observe(at(0), ev("a.go", OpModify))
	assert.Equal(t, StatePendingChange, s.State())
	assert.Equal(t, at(2*time.Second), s.Deadline())

	// When: another change lands inside the window
	_, ok := s.Next(at(time.Second))
	assert.False(t, ok)
	s.Observe(at(1500*time.Millisecond), ev("b.go", OpCreate))

	// Then: the window restarts from the latest event
	assert.Equal(t, StateDebouncing, s.State())
	_, ok = s.Next(at(3 * time.Second))
	assert.False(t, ok)

	b, ok := s.Next(at(3500 * time.Millisecond))
	require.True(t, ok)
	assert.Equal(t, StateReindexing, s.State())
	assert.False(t, b.Full)
	assert.Equal(t, []string{"a.go", "b.go"}, b.Paths())
	assert.Equal(t, 0, s.Pending())
	assert.True(t, s.Deadline().IsZero())
}

func TestScheduler_Coalescing(t *testing.T) {
	tests := []struct {
		name   string
		events []FileEvent
		want   []FileEvent
	}{
		{"create then modify stays create", []FileEvent{ev("x", OpCreate), ev("x", OpModify)}, []FileEvent{ev("x", OpCreate)}},
		{"modify then delete is delete", []FileEvent{ev("x", OpModify), ev("x", OpDelete)}, []FileEvent{ev("x", OpDelete)}},
		{"delete then create is modify", []FileEvent{ev("x", OpDelete), ev("x", OpCreate)}, []FileEvent{ev("x", OpModify)}},
		{"modify twice is modify", []FileEvent{ev("x", OpModify), ev("x", OpModify)}, []FileEvent{ev("x", OpModify)}},
		{"other paths are independent", []FileEvent{ev("x", OpCreate), ev("y", OpDelete), ev("x", OpDelete)}, []FileEvent{ev("y", OpDelete)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScheduler(time.Second, 0)
			s.Observe(at(0), tt.events...)
			b, ok := s.Next(at(time.Second))
			require.True(t, ok)
			assert.Equal(t, tt.want, b.Changes)
		})
	}
}

func TestScheduler_CreateThenDeleteCancelsToIdle(t *testing.T) {
	s := NewScheduler(time.Second, 0)

	s.Observe(at(0), ev("tmp.go", OpCreate))
	s.Observe(at(100*time.Millisecond), ev("tmp.go", OpDelete))

	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, 0, s.Pending())
	_, ok := s.Next(at(time.Hour))
	assert.False(t, ok)
}

func TestScheduler_MinIntervalSinceLastFinish(t *testing.T) {
	s := NewScheduler(2*time.Second, 5*time.Second)

	s.Observe(at(0), ev("a.go", OpModify))
	_, ok := s.Next(at(2 * time.Second))
	require.True(t, ok)
	s.Finish(at(3*time.Second), nil)
	assert.Equal(t, StateIdle, s.State())

	// Given: a change right after the previous run finished
	s.Observe(at(3500*time.Millisecond), ev("a.go", OpModify))

	// Then: the debounce alone would allow 5.5s, the interval holds it to 8s
	assert.Equal(t, at(8*time.Second), s.Deadline())
	_, ok = s.Next(at(6 * time.Second))
	assert.False(t, ok)
	_, ok = s.Next(at(8 * time.Second))
	assert.True(t, ok)
}

func TestScheduler_EventsDuringReindexAreAbsorbed(t *testing.T) {
	s := NewScheduler(time.Second, 0)

	s.Observe(at(0), ev("a.go", OpModify))
	first, ok := s.Next(at(time.Second))
	require.True(t, ok)
	assert.Equal(t, []string{"a.go"}, first.Paths())

	// When: files change while the batch runs
	s.Observe(at(1500*time.Millisecond), ev("b.go", OpModify), ev("a.go", OpModify))

	// Then: nothing fires until the running batch finishes
	assert.Equal(t, StateReindexing, s.State())
	_, ok = s.Next(at(time.Hour))
	assert.False(t, ok)

	s.Finish(at(2*time.Second), nil)
	assert.Equal(t, StatePendingChange, s.State())

	second, ok := s.Next(at(2500 * time.Millisecond))
	require.True(t, ok)
	assert.Equal(t, []string{"a.go", "b.go"}, second.Paths())
}

func TestScheduler_FailureReturnsToIdle(t *testing.T) {
	s := NewScheduler(time.Second, 0)

	s.Observe(at(0), ev("a.go", OpModify))
	_, ok := s.Next(at(time.Second))
	require.True(t, ok)

	s.Finish(at(2*time.Second), errors.New("disk full"))

	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, 0, s.Pending())
	_, ok = s.Next(at(time.Hour))
	assert.False(t, ok)

	// A later change starts a fresh cycle.
	s.Observe(at(3*time.Second), ev("c.go", OpCreate))
	assert.Equal(t, StatePendingChange, s.State())
}

func TestScheduler_GitignoreChangeRequestsFullReindex(t *testing.T) {
	s := NewScheduler(time.Second, 0)

	s.Observe(at(0), ev("a.go", OpModify), FileEvent{Path: ".gitignore", Operation: OpGitignoreChange})

	b, ok := s.Next(at(time.Second))
	require.True(t, ok)
	assert.True(t, b.Full)
	assert.Nil(t, b.Paths())
	assert.Equal(t, []string{"a.go"}, []string{b.Changes[0].Path})
}

func TestScheduler_FinishOutsideReindexIsIgnored(t *testing.T) {
	s := NewScheduler(time.Second, time.Minute)

	s.Finish(at(0), nil)
	s.Observe(at(time.Second), ev("a.go", OpModify))

	// No reindex ever ran, so the minimum interval does not apply.
	assert.Equal(t, at(2*time.Second), s.Deadline())
}

func TestStateAndOperationNames(t *testing.T) {
	assert.Equal(t, "debouncing", StateDebouncing.String())
	assert.Equal(t, "unknown", State(42).String())
	assert.Equal(t, "GITIGNORE_CHANGE", OpGitignoreChange.String())
	assert.Equal(t, "UNKNOWN", Operation(42).String())
}
