package jsonl

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ubc-systopia/indaleko/internal/types"
)

func batchOf(n int, start time.Time) *types.Batch {
	b := &types.Batch{Volume: "C:", CycleStart: start}
	for i := 0; i < n; i++ {
		a := sampleActivity()
		a.ActivityID = a.ActivityID[:35] + string(rune('a'+i%26))
		b.Activities = append(b.Activities, a)
	}
	return b
}

func TestBackupWriterAppendsBatches(t *testing.T) {
	dir := t.TempDir()
	w, err := NewBackupWriter(dir, "C:", 100)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	start := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	path1, err := w.WriteBatch(batchOf(3, start))
	require.NoError(t, err)
	path2, err := w.WriteBatch(batchOf(2, start.Add(30*time.Second)))
	require.NoError(t, err)

	// Same file while under the rotation threshold.
	assert.Equal(t, path1, path2)
	assert.Equal(t, "activity_C_20260825T100000Z.jsonl", filepath.Base(path1))

	res, err := ReadFile(path1)
	require.NoError(t, err)
	assert.Len(t, res.Activities, 5)
	assert.Zero(t, res.Skipped)
}

func TestBackupWriterRotates(t *testing.T) {
	dir := t.TempDir()
	// Tiny threshold: every batch after the first rolls a new file.
	w, err := NewBackupWriter(dir, "C:", 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	w.maxBytes = 64

	start := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	path1, err := w.WriteBatch(batchOf(1, start))
	require.NoError(t, err)
	path2, err := w.WriteBatch(batchOf(1, start.Add(time.Minute)))
	require.NoError(t, err)
	assert.NotEqual(t, path1, path2)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestBackupWriterEmptyBatch(t *testing.T) {
	w, err := NewBackupWriter(t.TempDir(), "C:", 10)
	require.NoError(t, err)
	path, err := w.WriteBatch(&types.Batch{})
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestReadFileSkipsBadLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mixed.jsonl")

	good, err := MarshalActivity(sampleActivity())
	require.NoError(t, err)
	content := string(good) + "\n" +
		"{broken\n" +
		`{"activity_id":"n","timestamp":"2026-08-25T09:30:00","activity_type":"create","importance_score":0.5}` + "\n" +
		"\n" +
		string(good) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	res, err := ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, res.Activities, 2)
	assert.Equal(t, 2, res.Skipped)
	assert.Len(t, res.LineErrors, 2)
}
