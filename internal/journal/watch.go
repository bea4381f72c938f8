package journal

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// maxBuffered bounds the watch backend's in-memory record buffer. When the
// consumer falls behind, the oldest records are dropped and counted as
// errors; the journal contract promises resumability, not a replicated log.
const maxBuffered = 65536

// WatchReader emulates a change journal on platforms without a native one.
// It watches a directory tree with fsnotify and synthesizes records with
// monotonically increasing pseudo-USNs. File reference numbers are stable
// per path for the lifetime of the reader, so rename pairing degrades to
// the resolver's probable-rename window.
type WatchReader struct {
	volume    string
	journalID string
	watcher   *fsnotify.Watcher
	counters  Counters

	mu       sync.Mutex
	buf      []Record
	firstUSN uint64
	nextUSN  uint64
	refs     map[string]uint64
	nextRef  uint64

	done chan struct{}
}

// NewWatchReader opens a watch-based reader rooted at the given directory.
// The directory must exist; a missing or non-directory volume is
// ErrUnsupportedVolume.
func NewWatchReader(volume string) (*WatchReader, error) {
	info, err := os.Stat(volume)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedVolume, volume)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("journal: create watcher: %w", err)
	}

	r := &WatchReader{
		volume:    volume,
		journalID: uuid.NewString(),
		watcher:   watcher,
		firstUSN:  1,
		nextUSN:   1,
		refs:      make(map[string]uint64),
		nextRef:   1,
		done:      make(chan struct{}),
	}

	// Watch the whole tree. fsnotify has no recursive mode; subdirectories
	// discovered later are added when their create events arrive.
	err = filepath.WalkDir(volume, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			r.counters.AddAccessError()
			return nil
		}
		if d.IsDir() {
			if werr := watcher.Add(path); werr != nil {
				r.counters.AddAccessError()
			}
		}
		return nil
	})
	if err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("journal: walk %s: %w", volume, err)
	}

	go r.pump()
	return r, nil
}

func (r *WatchReader) Volume() string      { return r.volume }
func (r *WatchReader) Counters() *Counters { return &r.counters }

// Metadata reports the emulated journal bounds. The journal id is minted
// once per reader, so a restarted process re-queries metadata and resumes
// from first_usn, exactly as an invalid native cursor would.
func (r *WatchReader) Metadata(_ context.Context) (Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Metadata{JournalID: r.journalID, FirstUSN: r.firstUSN, NextUSN: r.nextUSN}, nil
}

// Read returns buffered records with USN >= nextUSN, ascending, up to max.
// It never blocks waiting for new events.
func (r *WatchReader) Read(_ context.Context, nextUSN uint64, max int) ([]Record, uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if nextUSN > r.nextUSN {
		return nil, nextUSN, fmt.Errorf("%w: usn %d beyond journal end %d", ErrInvalidCursor, nextUSN, r.nextUSN)
	}

	out := make([]Record, 0, max)
	for _, rec := range r.buf {
		if rec.USN < nextUSN {
			continue
		}
		out = append(out, rec)
		if len(out) == max {
			break
		}
	}
	resume := nextUSN
	if n := len(out); n > 0 {
		resume = out[n-1].USN + 1
	}
	return out, resume, nil
}

// Close stops the event pump and releases the watcher.
func (r *WatchReader) Close() error {
	close(r.done)
	return r.watcher.Close()
}

func (r *WatchReader) pump() {
	for {
		select {
		case <-r.done:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			r.ingest(event)
		case _, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.counters.AddError()
		}
	}
}

// ingest converts one fsnotify event into a raw record.
func (r *WatchReader) ingest(event fsnotify.Event) {
	var reason ReasonMask
	switch {
	case event.Has(fsnotify.Create):
		reason = ReasonFileCreate
	case event.Has(fsnotify.Write):
		reason = ReasonDataOverwrite
	case event.Has(fsnotify.Remove):
		reason = ReasonFileDelete
	case event.Has(fsnotify.Rename):
		// fsnotify reports the old path only; the new path surfaces as a
		// separate create. No mapping exists for the NEW half here.
		reason = ReasonRenameOldName
	case event.Has(fsnotify.Chmod):
		reason = ReasonBasicInfoChange
	default:
		reason = 0 // normalizes to activity_type=unknown
	}

	var size int64
	isDir := false
	if info, err := os.Stat(event.Name); err == nil {
		size = info.Size()
		isDir = info.IsDir()
		if isDir && reason == ReasonFileCreate {
			if werr := r.watcher.Add(event.Name); werr != nil {
				r.counters.AddAccessError()
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec := Record{
		USN:           r.nextUSN,
		FileReference: r.refFor(event.Name),
		Reason:        reason,
		Timestamp:     time.Now().UTC(),
		Name:          filepath.Base(event.Name),
		Path:          event.Name,
		IsDirectory:   isDir,
		Size:          size,
		Volume:        r.volume,
	}
	r.nextUSN++

	r.buf = append(r.buf, rec)
	if len(r.buf) > maxBuffered {
		dropped := len(r.buf) - maxBuffered
		r.buf = r.buf[dropped:]
		r.firstUSN = r.buf[0].USN
		for i := 0; i < dropped; i++ {
			r.counters.AddError()
		}
	}
}

// refFor returns a stable synthetic file reference number for a path.
// Caller holds r.mu.
func (r *WatchReader) refFor(path string) uint64 {
	if ref, ok := r.refs[path]; ok {
		return ref
	}
	ref := r.nextRef
	r.nextRef++
	r.refs[path] = ref
	return ref
}
