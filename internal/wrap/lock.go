// Package wrap deduplicates concurrent audit invocations behind an
// exclusive advisory file lock and a bounded-age output cache.
package wrap

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Lock is the cross-process mutual exclusion primitive serializing audit
// passes. Advisory: it only works because every caller goes through it.
type Lock interface {
	// Acquire blocks until the lock is held and returns the release
	// function. Acquisition failure is fatal for the caller: without the
	// lock the single-pass guarantee cannot be upheld.
	Acquire() (release func(), err error)
}

// FileLock implements Lock with flock(2) on a sentinel file. The file's
// content is irrelevant; only the lock state matters.
type FileLock struct {
	Path string
}

func (l *FileLock) Acquire() (func(), error) {
	f, err := os.OpenFile(l.Path, os.O_CREATE|os.O_RDWR, 0o666)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", l.Path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("acquire lock %s: %w", l.Path, err)
	}

	return func() {
		// Closing drops the flock even if the explicit unlock fails.
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}
