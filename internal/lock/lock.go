// Package lock provides the per-target advisory lock that serializes
// mutating operations. Update, backup and restore pipelines hold it for
// their full duration; the OS releases it if the process dies.
package lock

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/bnema/stackops/internal/domain"
)

const lockFileName = ".stackops.lock"

// TargetLock is an acquired advisory lock on a target instance.
type TargetLock struct {
	fl *flock.Flock
}

// Acquire takes the advisory lock for a target without blocking. A held
// lock from any process yields ErrTargetLocked.
func Acquire(target domain.Instance) (*TargetLock, error) {
	fl := flock.New(filepath.Join(target.RootDir, lockFileName))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire target lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTargetLocked, target.ID)
	}
	return &TargetLock{fl: fl}, nil
}

// Release drops the lock. Safe to call on every exit path.
func (l *TargetLock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
