package store

import (
	"fmt"

	"github.com/gofrs/flock"
	"github.com/sqlguardian/auditor/internal/core"
)

// FileLock wraps an advisory file lock used for both the store file and
// the workbook/sentinel path: a single operator process holds each
// resource exclusively for the duration of a sync, and a concurrent
// second invocation fails fast rather than racing the first.
type FileLock struct {
	lock      *flock.Flock
	lockedErr error
}

// NewFileLock builds a lock bound to path; path itself is never opened for
// data, only used as a lock token (conventionally path+".lock"). Failing to
// acquire it surfaces as ErrStoreLocked.
func NewFileLock(path string) *FileLock {
	return &FileLock{lock: flock.New(path), lockedErr: core.ErrStoreLocked}
}

// NewWorkbookLock is identical to NewFileLock but surfaces ErrWorkbookLocked
// instead, so the CLI can map the two to distinct exit codes.
func NewWorkbookLock(path string) *FileLock {
	return &FileLock{lock: flock.New(path), lockedErr: core.ErrWorkbookLocked}
}

// TryLock acquires the lock without blocking. It returns the lock's
// configured sentinel error (wrapped with the lock path) when another
// process already holds it.
func (l *FileLock) TryLock() error {
	locked, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", l.lock.Path(), err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", l.lockedErr, l.lock.Path())
	}
	return nil
}

// Unlock releases the lock. Safe to call even if TryLock failed.
func (l *FileLock) Unlock() error {
	return l.lock.Unlock()
}
