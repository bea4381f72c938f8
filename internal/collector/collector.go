// Package collector normalizes raw journal records into activities.
//
// One Collector owns the cursors for every configured reader. Each cycle
// pulls at most one batch per volume, converts records to timezone-aware
// activities, pairs rename halves, and resolves entity identity. Scoring
// happens later, exactly once, at hot-tier insertion.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ubc-systopia/indaleko/internal/entity"
	"github.com/ubc-systopia/indaleko/internal/journal"
	"github.com/ubc-systopia/indaleko/internal/types"
)

// DefaultBatchSize bounds how many raw records one cycle pulls per volume.
const DefaultBatchSize = 1000

// Config controls collection behavior.
type Config struct {
	// BatchSize caps raw records per volume per cycle.
	BatchSize int
	// ResumeFromFirst re-anchors at the journal's first_usn after an
	// invalid cursor. When false an invalid cursor skips the volume for
	// the cycle.
	ResumeFromFirst bool
	// StateFile persists cursors across restarts when non-empty.
	StateFile string
}

// Collector converts raw journal records into activity batches.
type Collector struct {
	cfg      Config
	readers  []journal.Reader
	resolver *entity.Resolver
	log      *slog.Logger

	cursors map[string]types.Cursor

	errorCount atomic.Int64
}

// New builds a collector over the given readers. Cursors load from the
// state file when configured; otherwise collection starts at each
// journal's current next_usn (history before startup is not replayed).
func New(cfg Config, readers []journal.Reader, resolver *entity.Resolver, log *slog.Logger) (*Collector, error) {
	if len(readers) == 0 {
		return nil, fmt.Errorf("collector: no readers configured")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	seen := make(map[string]bool, len(readers))
	for _, r := range readers {
		if seen[r.Volume()] {
			return nil, fmt.Errorf("collector: two readers configured for volume %s", r.Volume())
		}
		seen[r.Volume()] = true
	}

	c := &Collector{
		cfg:      cfg,
		readers:  readers,
		resolver: resolver,
		log:      log,
		cursors:  make(map[string]types.Cursor),
	}
	if cfg.StateFile != "" {
		if err := c.loadState(); err != nil {
			// A corrupt state file is a data error: start fresh, count it.
			log.Warn("cursor state file unreadable, starting fresh", "path", cfg.StateFile, "error", err)
			c.errorCount.Add(1)
		}
	}
	return c, nil
}

// ErrorCount reports recovered errors since the last reset: the
// collector's own data errors plus every reader's counters.
func (c *Collector) ErrorCount() int64 {
	n := c.errorCount.Load()
	for _, r := range c.readers {
		access, errs, notFound := r.Counters().Snapshot()
		n += access + errs + notFound
	}
	return n
}

// ResetState discards in-memory cursors and the resolver's sliding window.
// The next cycle re-queries journal metadata from scratch.
func (c *Collector) ResetState() {
	c.cursors = make(map[string]types.Cursor)
	c.errorCount.Store(0)
	for _, r := range c.readers {
		r.Counters().Reset()
	}
	if c.resolver != nil {
		c.resolver.ResetState()
	}
}

// Collect runs one cycle: one read per volume, normalized and grouped
// into per-volume batches. The context carries the cycle deadline.
// Per-volume failures are logged and counted; they do not fail the cycle.
func (c *Collector) Collect(ctx context.Context) ([]*types.Batch, error) {
	cycleStart := time.Now().UTC()
	var batches []*types.Batch

	for _, reader := range c.readers {
		if ctx.Err() != nil {
			return batches, ctx.Err()
		}
		batch, err := c.collectVolume(ctx, reader, cycleStart)
		if err != nil {
			c.errorCount.Add(1)
			c.log.Warn("collection failed for volume", "volume", reader.Volume(), "error", err)
			continue
		}
		if !batch.Empty() {
			batches = append(batches, batch)
		}
	}

	if c.cfg.StateFile != "" {
		if err := c.saveState(); err != nil {
			c.log.Warn("failed to persist cursor state", "path", c.cfg.StateFile, "error", err)
		}
	}
	return batches, nil
}

func (c *Collector) collectVolume(ctx context.Context, reader journal.Reader, cycleStart time.Time) (*types.Batch, error) {
	volume := reader.Volume()
	key := volumeKey(volume)
	cursor, ok := c.cursors[key]
	if !ok {
		md, err := reader.Metadata(ctx)
		if err != nil {
			return nil, fmt.Errorf("query metadata: %w", err)
		}
		cursor = types.Cursor{Volume: volume, JournalID: md.JournalID, NextUSN: md.NextUSN}
	}

	records, nextUSN, err := reader.Read(ctx, cursor.NextUSN, c.cfg.BatchSize)
	if errors.Is(err, journal.ErrInvalidCursor) {
		md, merr := reader.Metadata(ctx)
		if merr != nil {
			return nil, fmt.Errorf("re-query after invalid cursor: %w", merr)
		}
		if !c.cfg.ResumeFromFirst {
			c.cursors[key] = types.Cursor{Volume: volume, JournalID: md.JournalID, NextUSN: md.NextUSN}
			return nil, fmt.Errorf("invalid cursor, resume disabled: %w", err)
		}
		c.log.Info("invalid cursor, resuming from journal start",
			"volume", volume, "journal_id", md.JournalID, "first_usn", md.FirstUSN)
		records, nextUSN, err = reader.Read(ctx, md.FirstUSN, c.cfg.BatchSize)
		cursor.JournalID = md.JournalID
	}
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}

	cursor.NextUSN = nextUSN
	c.cursors[key] = cursor

	batch := &types.Batch{Volume: volume, CycleStart: cycleStart}
	batch.Activities = c.normalize(ctx, records)
	return batch, nil
}

// normalize converts raw records to activities in journal order, fusing
// rename OLD/NEW pairs that share a file reference number into a single
// rename activity.
func (c *Collector) normalize(ctx context.Context, records []journal.Record) []*types.Activity {
	// First pass: index orphanable rename halves by reference number.
	oldHalf := make(map[uint64]int)  // ref → record index of OLD
	paired := make(map[int]int)      // NEW index → OLD index
	consumed := make(map[int]bool)   // OLD indexes fused into a NEW
	for i, rec := range records {
		switch {
		case rec.Reason.Has(journal.ReasonRenameOldName):
			oldHalf[rec.FileReference] = i
		case rec.Reason.Has(journal.ReasonRenameNewName):
			if j, ok := oldHalf[rec.FileReference]; ok {
				paired[i] = j
				consumed[j] = true
				delete(oldHalf, rec.FileReference)
			}
		}
	}

	activities := make([]*types.Activity, 0, len(records))
	for i, rec := range records {
		if consumed[i] {
			continue
		}
		var a *types.Activity
		var err error
		if j, ok := paired[i]; ok {
			a, err = c.renameActivity(ctx, records[j], rec)
		} else {
			a, err = c.singleActivity(ctx, rec)
		}
		if err != nil {
			c.errorCount.Add(1)
			c.log.Warn("skipping record", "volume", rec.Volume, "usn", rec.USN, "error", err)
			continue
		}
		activities = append(activities, a)
	}
	return activities
}

func (c *Collector) baseActivity(rec journal.Record) *types.Activity {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	a := &types.Activity{
		ActivityID:   uuid.NewString(),
		Timestamp:    ts.UTC(),
		ActivityType: rec.Reason.ActivityType(),
		FilePath:     rec.Path,
		FileName:     rec.Name,
		IsDirectory:  rec.IsDirectory,
		Volume:       rec.Volume,
		Attributes: map[string]string{
			types.AttrReasonMask:    rec.Reason.String(),
			types.AttrFileReference: strconv.FormatUint(rec.FileReference, 10),
		},
	}
	if rec.Size > 0 {
		size := rec.Size
		a.FileSize = &size
	}
	return a
}

func (c *Collector) singleActivity(ctx context.Context, rec journal.Record) (*types.Activity, error) {
	a := c.baseActivity(rec)
	switch {
	case rec.Reason.Has(journal.ReasonRenameOldName):
		// OLD with no NEW in this batch: emit the half we have and note it
		// for the probable-rename window. Resolve first so the pending
		// entry carries the entity id even on a first sighting.
		a.Attributes[types.AttrOldName] = rec.Name
		entityID, err := c.resolver.Resolve(ctx, rec.Volume, rec.FileReference, rec.Path, a.Timestamp)
		if err != nil {
			return nil, err
		}
		a.EntityID = entityID
		c.resolver.NoteOldName(rec.Volume, rec.FileReference, rec.Path, a.Timestamp)
	case rec.Reason.Has(journal.ReasonRenameNewName):
		a.Attributes[types.AttrNewName] = rec.Name
		entityID, renameOf, err := c.resolver.ResolveNewName(ctx, rec.Volume, rec.FileReference, rec.Path, a.Timestamp)
		if err != nil {
			return nil, err
		}
		a.EntityID = entityID
		if renameOf != "" {
			a.Attributes[types.AttrRenameOf] = renameOf
		}
	default:
		entityID, err := c.resolver.Resolve(ctx, rec.Volume, rec.FileReference, rec.Path, a.Timestamp)
		if err != nil {
			return nil, err
		}
		a.EntityID = entityID
	}
	return a, nil
}

// renameActivity fuses an (OLD, NEW) pair into one rename whose attributes
// carry both names. The entity keeps its id and gains a prior path.
func (c *Collector) renameActivity(ctx context.Context, oldRec, newRec journal.Record) (*types.Activity, error) {
	a := c.baseActivity(newRec)
	a.ActivityType = types.ActivityRename
	a.Attributes[types.AttrReasonMask] = (oldRec.Reason | newRec.Reason).String()
	a.Attributes[types.AttrOldName] = oldRec.Name
	a.Attributes[types.AttrNewName] = newRec.Name

	entityID, err := c.resolver.Rename(ctx, newRec.Volume, newRec.FileReference, oldRec.Path, newRec.Path, a.Timestamp)
	if err != nil {
		return nil, err
	}
	a.EntityID = entityID
	return a, nil
}

// volumeKey normalizes a volume name for cursor-map and state-file keys,
// so path-style volumes round-trip across platforms. Every map access
// goes through it; Cursor.Volume keeps the raw name.
func volumeKey(volume string) string {
	return strings.ReplaceAll(volume, `\`, "/")
}
