// Package lockfile provides per-volume advisory locks so two runners never
// consume the same change journal concurrently.
//
// A lock is a pid-stamped file under the run directory held with an
// exclusive non-blocking flock (LockFileEx on Windows). A crash leaves the
// file behind but the kernel drops the lock, so a stale file never blocks
// the next runner.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrLockBusy is returned when another process holds the lock.
var ErrLockBusy = errors.New("volume lock held by another process")

// Lock is one held volume lock.
type Lock struct {
	path string
	f    *os.File
}

// Acquire takes the exclusive lock for a volume, creating the run directory
// as needed. Returns ErrLockBusy (wrapped with the holder's pid when it can
// be read) if another live process holds it.
func Acquire(runDir, volume string) (*Lock, error) {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("lockfile: create run dir: %w", err)
	}
	path := filepath.Join(runDir, lockName(volume))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lockfile: open %s: %w", path, err)
	}
	if err := flockExclusiveNonBlock(f); err != nil {
		holder := readPID(f)
		_ = f.Close()
		if errors.Is(err, ErrLockBusy) && holder > 0 && isProcessRunning(holder) {
			return nil, fmt.Errorf("%w (pid %d)", ErrLockBusy, holder)
		}
		if errors.Is(err, ErrLockBusy) {
			return nil, ErrLockBusy
		}
		return nil, fmt.Errorf("lockfile: lock %s: %w", path, err)
	}

	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0)
		_ = f.Sync()
	}
	return &Lock{path: path, f: f}, nil
}

// Release drops the lock and removes the file. Safe to call once.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := flockUnlock(l.f)
	cerr := l.f.Close()
	l.f = nil
	_ = os.Remove(l.path)
	if err != nil {
		return fmt.Errorf("lockfile: unlock: %w", err)
	}
	return cerr
}

// Path returns the lock file path, mainly for logging.
func (l *Lock) Path() string { return l.path }

func readPID(f *os.File) int {
	buf := make([]byte, 32)
	n, err := f.ReadAt(buf, 0)
	if n == 0 && err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if err != nil {
		return 0
	}
	return pid
}

// lockName maps a volume spec onto a safe file name: "C:" → volume_c.lock,
// "/home/u" → volume_home_u.lock.
func lockName(volume string) string {
	s := strings.ToLower(volume)
	s = strings.TrimSuffix(s, ":")
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, s)
	mapped = strings.Trim(mapped, "_")
	if mapped == "" {
		mapped = "default"
	}
	return "volume_" + mapped + ".lock"
}
