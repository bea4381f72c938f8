//go:build windows

package lockfile

import (
	"os"
	"syscall"

	"golang.org/x/sys/windows"
)

// flockExclusiveNonBlock acquires an exclusive non-blocking lock on the file.
// Returns ErrLockBusy if any lock is already held.
func flockExclusiveNonBlock(f *os.File) error {
	const flags = windows.LOCKFILE_EXCLUSIVE_LOCK | windows.LOCKFILE_FAIL_IMMEDIATELY

	ol := &windows.Overlapped{}
	err := windows.LockFileEx(
		windows.Handle(f.Fd()),
		flags,
		0,
		0xFFFFFFFF,
		0xFFFFFFFF,
		ol,
	)
	if err == windows.ERROR_LOCK_VIOLATION || err == syscall.EWOULDBLOCK {
		return ErrLockBusy
	}
	return err
}

// flockUnlock releases a lock on the file.
func flockUnlock(f *os.File) error {
	ol := &windows.Overlapped{}
	return windows.UnlockFileEx(
		windows.Handle(f.Fd()),
		0,
		0xFFFFFFFF,
		0xFFFFFFFF,
		ol,
	)
}
