//go:build !windows
// +build !windows

// Package runlock provides cross-platform advisory single-instance
// locking and PID liveness checks, shared by the housekeeper and the
// core's own single-instance guard.
package runlock

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// Acquire takes a non-blocking exclusive advisory lock on path, creating
// it 0o600 if needed. locked is false (with a nil error) when another
// process already holds it.
func Acquire(path string) (locked bool, unlock func(), err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return false, nil, err
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return false, nil, nil
		}
		return false, nil, err
	}

	return true, func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}

// IsProcessAlive reports whether pid names a live process, via the
// null-signal idiom (kill(pid, 0)). known is false when the signal call
// itself failed for a reason other than "no such process" (e.g. some
// platform-specific errno this port doesn't special-case) — callers must
// treat known=false as alive: an indeterminate query must never be
// mistaken for "dead".
func IsProcessAlive(pid int) (alive bool, known bool) {
	if pid <= 0 {
		return false, true
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return true, false
	}

	err = proc.Signal(unix.Signal(0))
	if err == nil {
		return true, true
	}
	if errors.Is(err, os.ErrProcessDone) || errors.Is(err, unix.ESRCH) {
		return false, true
	}
	if errors.Is(err, unix.EPERM) {
		// Process exists but is owned by another user; we just can't
		// signal it. That is itself proof of life.
		return true, true
	}
	return true, false
}
