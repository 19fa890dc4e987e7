package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	rerrors "github.com/gravis-app/ragcore/internal/errors"
)

// IngestLock serializes writers of one corpus database across processes.
// Readers never take it: they work from immutable snapshots.
type IngestLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewIngestLock returns the lock guarding dbPath (<dbPath>.lock).
func NewIngestLock(dbPath string) *IngestLock {
	lockPath := dbPath + ".lock"
	return &IngestLock{path: lockPath, flock: flock.New(lockPath)}
}

// Path returns the lock file path.
func (l *IngestLock) Path() string {
	return l.path
}

// Acquire waits for the lock, polling every 100ms until ctx is done.
// Returns ErrStoreLocked when ctx expires first.
func (l *IngestLock) Acquire(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	ok, err := l.flock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		if ctx.Err() != nil {
			return rerrors.New(rerrors.ErrCodeStoreLocked, "corpus is locked by another ingest", ctx.Err()).
				WithDetail("lock", l.path)
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return rerrors.New(rerrors.ErrCodeStoreLocked, "corpus is locked by another ingest", nil).
			WithDetail("lock", l.path)
	}

	l.locked = true
	return nil
}

// TryAcquire takes the lock without waiting.
func (l *IngestLock) TryAcquire() (bool, error) {
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

// Release is safe to call on an unheld lock.
func (l *IngestLock) Release() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
