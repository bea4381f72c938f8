package jsonl

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ubc-systopia/indaleko/internal/types"
)

// BackupWriter appends activity batches to JSONL files for durability.
// Files are named activity_<volume>_<cycle-start>.jsonl and rotate when
// they exceed the size threshold; each rotation starts a fresh file keyed
// by the current cycle start.
type BackupWriter struct {
	dir      string
	volume   string
	maxBytes int64

	file    *os.File
	written int64
}

// NewBackupWriter creates the backup directory if needed. maxSizeMB <= 0
// disables rotation.
func NewBackupWriter(dir, volume string, maxSizeMB int) (*BackupWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("jsonl: create backup dir: %w", err)
	}
	return &BackupWriter{
		dir:      dir,
		volume:   sanitizeVolume(volume),
		maxBytes: int64(maxSizeMB) * 1024 * 1024,
	}, nil
}

// WriteBatch appends every activity in the batch as one line each. A batch
// is written whole or not at all only at the file level; individual line
// marshal failures abort the batch since they indicate a programming error
// upstream, not bad input.
func (w *BackupWriter) WriteBatch(batch *types.Batch) (string, error) {
	if batch.Empty() {
		return "", nil
	}
	if err := w.ensureFile(batch.CycleStart); err != nil {
		return "", err
	}
	for _, a := range batch.Activities {
		line, err := MarshalActivity(a)
		if err != nil {
			return w.file.Name(), fmt.Errorf("jsonl: marshal %s: %w", a.ActivityID, err)
		}
		n, err := w.file.Write(append(line, '\n'))
		w.written += int64(n)
		if err != nil {
			return w.file.Name(), fmt.Errorf("jsonl: write backup: %w", err)
		}
	}
	if err := w.file.Sync(); err != nil {
		return w.file.Name(), fmt.Errorf("jsonl: sync backup: %w", err)
	}
	return w.file.Name(), nil
}

func (w *BackupWriter) ensureFile(cycleStart time.Time) error {
	if w.file != nil && (w.maxBytes <= 0 || w.written < w.maxBytes) {
		return nil
	}
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	name := fmt.Sprintf("activity_%s_%s.jsonl", w.volume, cycleStart.UTC().Format("20060102T150405Z"))
	f, err := os.OpenFile(filepath.Join(w.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("jsonl: open backup file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("jsonl: stat backup file: %w", err)
	}
	w.file = f
	w.written = info.Size()
	return nil
}

// Close flushes and releases the current file.
func (w *BackupWriter) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// sanitizeVolume strips characters that cannot appear in file names
// ("C:" → "C", "/home/alice" → "home_alice").
func sanitizeVolume(volume string) string {
	v := strings.TrimSuffix(volume, ":")
	v = strings.Trim(v, `\/`)
	replacer := strings.NewReplacer(`\`, "_", "/", "_", ":", "_", " ", "_")
	v = replacer.Replace(v)
	if v == "" {
		v = "root"
	}
	return v
}
