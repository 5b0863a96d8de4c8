//go:build windows
// +build windows

// Package runlock provides cross-platform advisory single-instance
// locking and PID liveness checks, shared by the housekeeper and the
// core's own single-instance guard.
package runlock

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// Acquire takes exclusive ownership of path via CreateFile's
// share-mode-0 semantics, mirroring the instance package's singleton lock.
func Acquire(path string) (locked bool, unlock func(), err error) {
	pathPtr, err := syscall.UTF16PtrFromString(path)
	if err != nil {
		return false, nil, err
	}

	handle, err := windows.CreateFile(
		pathPtr,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		0,
		nil,
		windows.CREATE_ALWAYS,
		windows.FILE_ATTRIBUTE_NORMAL,
		0,
	)
	if err != nil {
		return false, nil, nil
	}

	return true, func() { _ = windows.CloseHandle(handle) }, nil
}

// IsProcessAlive reports whether pid names a live process. known is false
// when OpenProcess failed for a reason that doesn't conclusively mean the
// process is gone — callers must treat known=false as alive: an
// indeterminate query must never be mistaken for "dead".
func IsProcessAlive(pid int) (alive bool, known bool) {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err == nil {
		windows.CloseHandle(handle)
		return true, true
	}
	if err == windows.ERROR_INVALID_PARAMETER {
		return false, true
	}
	if err == windows.ERROR_ACCESS_DENIED {
		// The process exists but we lack rights to query it; that is
		// itself proof of life.
		return true, true
	}
	return true, false
}
