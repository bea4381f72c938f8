// Package journal reads OS change journals and produces raw change records.
//
// One Reader owns the journal handle for one volume. The native backend
// (usn, Windows only) speaks FSCTL_READ_USN_JOURNAL; non-native platforms
// emulate the contract with fsnotify (watch backend) or a recorded file
// (replay backend), marking records whose source has no direct reason
// mapping with an empty reason mask so they normalize to
// activity_type=unknown.
package journal

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// Sentinel errors. Unsupported volumes, denied permissions, and missing
// journals are fatal to the cycle (not the process); everything else is
// recoverable and surfaces through the counters.
var (
	ErrUnsupportedVolume = errors.New("journal: unsupported volume")
	ErrAccessDenied      = errors.New("journal: access denied")
	ErrJournalNotFound   = errors.New("journal: journal not found")
	ErrInvalidCursor     = errors.New("journal: invalid cursor")
)

// Record is one raw change-journal entry, before normalization.
type Record struct {
	USN             uint64     `json:"usn"`
	FileReference   uint64     `json:"file_reference"`
	ParentReference uint64     `json:"parent_reference,omitempty"`
	Reason          ReasonMask `json:"reason"`
	Timestamp       time.Time  `json:"timestamp"`
	Name            string     `json:"name"`
	Path            string     `json:"path"`
	IsDirectory     bool       `json:"is_directory,omitempty"`
	Size            int64      `json:"size,omitempty"`
	Volume          string     `json:"volume"`
}

// Metadata describes the journal's current bounds on a volume.
type Metadata struct {
	JournalID string
	FirstUSN  uint64
	NextUSN   uint64
}

// Reader is the per-volume journal contract.
//
// Read returns records in ascending journal order along with the next USN
// to resume from; the returned next USN is never below the one passed in.
// A Reader that cannot satisfy a read within its deadline returns an empty
// batch and bumps the error counter rather than blocking past one cycle.
type Reader interface {
	Volume() string
	Metadata(ctx context.Context) (Metadata, error)
	Read(ctx context.Context, nextUSN uint64, max int) ([]Record, uint64, error)
	Counters() *Counters
	Close() error
}

// Counters tracks recovered errors per reader. All methods are safe for
// concurrent use; the runner snapshots them into statistics.
type Counters struct {
	accessErrors atomic.Int64
	errors       atomic.Int64
	notFound     atomic.Int64
}

func (c *Counters) AddAccessError() { c.accessErrors.Add(1) }
func (c *Counters) AddError()       { c.errors.Add(1) }
func (c *Counters) AddNotFound()    { c.notFound.Add(1) }

// Snapshot returns (access_error_count, error_count, not_found_count).
func (c *Counters) Snapshot() (int64, int64, int64) {
	return c.accessErrors.Load(), c.errors.Load(), c.notFound.Load()
}

// Reset zeroes all counters. Used by the runner's auto-reset policy.
func (c *Counters) Reset() {
	c.accessErrors.Store(0)
	c.errors.Store(0)
	c.notFound.Store(0)
}
