package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	cerrors "github.com/Aman-CERP/cgrep/internal/errors"
)

// lockRetryDelay is how often a blocked Lock polls the lock file.
const lockRetryDelay = 100 * time.Millisecond

// WriterLock keeps a second cgrep process from writing the same index.
// It wraps an flock on <dir>/index.lock.
type WriterLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewWriterLock returns the lock for the index in dir.
func NewWriterLock(dir string) *WriterLock {
	path := filepath.Join(dir, LockFileName)
	return &WriterLock{path: path, flock: flock.New(path)}
}

// Lock waits for the lock until ctx ends. A context ending while another
// process holds the lock yields an ERR_203_INDEX_LOCKED error.
func (l *WriterLock) Lock(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	ok, err := l.flock.TryLockContext(ctx, lockRetryDelay)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return cerrors.New(cerrors.ErrCodeIndexLocked, "index is locked by another cgrep process", ctx.Err()).
			WithDetail("lock", l.path).
			WithSuggestion("Wait for the running index or watch command to finish")
	}
	l.locked = true
	return nil
}

// TryLock acquires the lock without waiting.
func (l *WriterLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}
	ok, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	l.locked = ok
	return ok, nil
}

// Unlock releases the lock. Unlocking an unheld lock is a no-op.
func (l *WriterLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *WriterLock) Path() string {
	return l.path
}
