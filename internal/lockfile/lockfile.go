// Package lockfile provides a cross-process, filesystem-based advisory lock,
// used as a fallback when the coordination substrate's database locks
// (internal/coordination) aren't available or applicable — for example,
// single-machine tools that want mutual exclusion without opening
// agentboard.db. It is advisory only: internal/coordination's locks table
// is the authoritative record of resource ownership for indexing agents.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/gcorroto/semantic-codebase-index/internal/codeerr"
)

const (
	retryAttempts = 20
	retryInterval = 200 * time.Millisecond
	staleAfter    = 10 * time.Second
)

// Lock is an exclusive, named filesystem lock backed by gofrs/flock.
type Lock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// New creates a lock file named "<resource>.lock" under dir.
func New(dir, resource string) *Lock {
	path := filepath.Join(dir, resource+".lock")
	return &Lock{path: path, flock: flock.New(path)}
}

// Acquire blocks until the lock is obtained, retrying up to 20 times at
// 200ms intervals per spec.md §5, reclaiming the lock file if it is older
// than 10s (considered stale/abandoned by a crashed holder).
func (l *Lock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return codeerr.IO("create lock directory", err)
	}

	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		acquired, err := l.flock.TryLock()
		if err != nil {
			lastErr = err
		} else if acquired {
			l.locked = true
			return nil
		}

		l.removeIfStale()
		time.Sleep(retryInterval)
	}

	if lastErr != nil {
		return codeerr.Storage(fmt.Sprintf("acquire lock %s", l.path), lastErr)
	}
	return codeerr.Storage(fmt.Sprintf("acquire lock %s: timed out after %d attempts", l.path, retryAttempts), nil)
}

// TryAcquire attempts a single non-blocking lock acquisition.
func (l *Lock) TryAcquire() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, codeerr.IO("create lock directory", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, codeerr.Storage(fmt.Sprintf("acquire lock %s", l.path), err)
	}
	l.locked = acquired
	return acquired, nil
}

// removeIfStale deletes the lock file if its mtime is older than
// staleAfter, on the assumption its holder crashed without releasing it.
// Best-effort: errors are ignored since another process may win the race.
func (l *Lock) removeIfStale() {
	info, err := os.Stat(l.path)
	if err != nil {
		return
	}
	if time.Since(info.ModTime()) > staleAfter {
		os.Remove(l.path)
	}
}

// Release releases the lock. Safe to call multiple times or when unlocked.
func (l *Lock) Release() error {
	if !l.locked {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		l.locked = false
		return codeerr.Storage(fmt.Sprintf("release lock %s", l.path), err)
	}
	l.locked = false
	return nil
}

// Path returns the path to the lock file.
func (l *Lock) Path() string { return l.path }

// IsLocked reports whether this instance currently holds the lock.
func (l *Lock) IsLocked() bool { return l.locked }
