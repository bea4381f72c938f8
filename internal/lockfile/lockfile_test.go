package lockfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	runDir := t.TempDir()

	l, err := Acquire(runDir, "C:")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(runDir, "volume_c.lock"), l.Path())

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	require.NoError(t, l.Release())
	_, err = os.Stat(l.Path())
	assert.True(t, os.IsNotExist(err))

	// Released lock can be taken again.
	l2, err := Acquire(runDir, "C:")
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}

func TestAcquireBusy(t *testing.T) {
	runDir := t.TempDir()

	l, err := Acquire(runDir, "C:")
	require.NoError(t, err)
	defer func() { _ = l.Release() }()

	_, err = Acquire(runDir, "C:")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLockBusy)
}

func TestDifferentVolumesIndependent(t *testing.T) {
	runDir := t.TempDir()

	c, err := Acquire(runDir, "C:")
	require.NoError(t, err)
	defer func() { _ = c.Release() }()

	d, err := Acquire(runDir, "D:")
	require.NoError(t, err)
	require.NoError(t, d.Release())
}

func TestStaleFileDoesNotBlock(t *testing.T) {
	runDir := t.TempDir()
	// A crashed runner leaves the file behind but the kernel dropped the lock.
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "volume_c.lock"), []byte("999999"), 0o644))

	l, err := Acquire(runDir, "C:")
	require.NoError(t, err)
	require.NoError(t, l.Release())
}

func TestReleaseNil(t *testing.T) {
	var l *Lock
	assert.NoError(t, l.Release())
}

func TestLockName(t *testing.T) {
	cases := map[string]string{
		"C:":          "volume_c.lock",
		"D:":          "volume_d.lock",
		"/home/alice": "volume_home_alice.lock",
		"":            "volume_default.lock",
	}
	for volume, want := range cases {
		assert.Equal(t, want, lockName(volume), "volume %q", volume)
	}
}
