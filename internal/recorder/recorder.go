// Package recorder persists scored activities into the hot tier.
//
// The recorder is the sole writer to the hot collection. Its collection
// name is assigned by the registration service at startup, never
// hard-coded, so several recorders can share one database. Inserts are
// keyed by activity_id, which makes re-ingesting the same source line
// idempotent.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ubc-systopia/indaleko/internal/jsonl"
	"github.com/ubc-systopia/indaleko/internal/registry"
	"github.com/ubc-systopia/indaleko/internal/score"
	"github.com/ubc-systopia/indaleko/internal/storage"
	"github.com/ubc-systopia/indaleko/internal/types"
)

// DefaultHotTTL is the hot-tier time-to-live.
const DefaultHotTTL = 4 * 24 * time.Hour

// Config controls recorder identity and retention.
type Config struct {
	ServiceName string
	Version     string
	Description string
	HotTTL      time.Duration
}

// recorderStore is the slice of storage the recorder needs.
type recorderStore interface {
	RegisterService(ctx context.Context, reg storage.ServiceRegistration) (*storage.ServiceRecord, error)
	StoreRecords(ctx context.Context, collection string, records []*types.TierRecord) (storage.StoreResult, error)
	GetRecent(ctx context.Context, collection string, since time.Time, limit int) ([]*types.Activity, error)
	GetStatistics(ctx context.Context, collection string) (*types.Statistics, error)
	IncrementAccess(ctx context.Context, collection string, activityIDs []string) error
}

// Recorder owns the hot tier.
type Recorder struct {
	store      recorderStore
	scorer     *score.Scorer
	log        *slog.Logger
	collection string
	hotTTL     time.Duration

	errorCount   atomic.Int64
	errorSources []func() int64
}

// New registers the recorder with the registration service and binds it
// to the assigned collection.
func New(ctx context.Context, store recorderStore, scorer *score.Scorer, cfg Config, log *slog.Logger) (*Recorder, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "activity_recorder"
	}
	if cfg.HotTTL <= 0 {
		cfg.HotTTL = DefaultHotTTL
	}

	rec, err := registry.Register(ctx, store, registry.Registration{
		Name:        cfg.ServiceName,
		Version:     cfg.Version,
		Description: cfg.Description,
		Type:        "activity_recorder",
	})
	if err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}
	log.Info("recorder registered", "service", rec.Name, "uuid", rec.UUID, "collection", rec.Collection)

	return &Recorder{
		store:      store,
		scorer:     scorer,
		log:        log,
		collection: rec.Collection,
		hotTTL:     cfg.HotTTL,
	}, nil
}

// Collection returns the assigned hot collection name.
func (r *Recorder) Collection() string { return r.collection }

// HotTTL returns the configured hot-tier TTL.
func (r *Recorder) HotTTL() time.Duration { return r.hotTTL }

// ErrorCount reports single-record store failures since startup.
func (r *Recorder) ErrorCount() int64 { return r.errorCount.Load() }

// AddErrorSource registers an upstream recovered-error counter, such as
// the collector's, to fold into GetStatistics. Call before the first
// cycle; the slice is not guarded after that.
func (r *Recorder) AddErrorSource(fn func() int64) {
	r.errorSources = append(r.errorSources, fn)
}

// StoreActivities persists a batch into the hot tier and returns the ids
// of the records actually written. Importance is computed here, exactly
// once, for any activity that arrives unscored; activities replayed from
// a backup file keep their original score. Single-record failures are
// counted and logged; duplicates are silently skipped.
func (r *Recorder) StoreActivities(ctx context.Context, batch *types.Batch) ([]string, error) {
	if batch.Empty() {
		return nil, nil
	}
	now := time.Now().UTC()
	records := make([]*types.TierRecord, 0, len(batch.Activities))
	for _, a := range batch.Activities {
		if err := r.prepare(a, now); err != nil {
			r.errorCount.Add(1)
			r.log.Warn("rejecting activity", "activity_id", a.ActivityID, "error", err)
			continue
		}
		expires := a.Timestamp.Add(r.hotTTL)
		records = append(records, &types.TierRecord{
			Activity:   a,
			Tier:       types.TierHot,
			Version:    1,
			InsertedAt: now,
			ExpiresAt:  &expires,
		})
	}

	res, err := r.store.StoreRecords(ctx, r.collection, records)
	if err != nil {
		return res.StoredIDs, fmt.Errorf("recorder: store batch: %w", err)
	}
	if res.Failed > 0 {
		r.errorCount.Add(int64(res.Failed))
		r.log.Warn("partial batch write", "stored", len(res.StoredIDs),
			"failed", res.Failed, "duplicates", res.Duplicates)
	}
	return res.StoredIDs, nil
}

// prepare stamps tier membership and scores an unscored activity.
// An already-scored activity is never rescored; decay later derives an
// effective importance without touching the original.
func (r *Recorder) prepare(a *types.Activity, now time.Time) error {
	if a.Timestamp.IsZero() {
		return fmt.Errorf("zero timestamp")
	}
	a.Timestamp = a.Timestamp.UTC()
	a.TierMembership = types.TierHot
	if a.ImportanceScore == 0 {
		a.ImportanceScore = r.scorer.Score(a, now)
	}
	return a.Validate()
}

// GetRecent returns non-expired hot activities from the last N hours,
// most-recent-first. Each returned record's access count is bumped:
// reads feed the decay model, so accessed records age more slowly.
func (r *Recorder) GetRecent(ctx context.Context, hours int, limit int) ([]*types.Activity, error) {
	if hours <= 0 {
		hours = 24
	}
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	activities, err := r.store.GetRecent(ctx, r.collection, since, limit)
	if err != nil {
		return nil, err
	}
	if len(activities) > 0 {
		ids := make([]string, len(activities))
		for i, a := range activities {
			ids[i] = a.ActivityID
		}
		if err := r.store.IncrementAccess(ctx, r.collection, ids); err != nil {
			r.errorCount.Add(1)
			r.log.Warn("access count update failed", "error", err)
		}
	}
	return activities, nil
}

// GetStatistics aggregates the hot collection and folds in every
// recovered-error counter: the recorder's own plus registered upstream
// sources (collector, readers).
func (r *Recorder) GetStatistics(ctx context.Context) (*types.Statistics, error) {
	stats, err := r.store.GetStatistics(ctx, r.collection)
	if err != nil {
		return nil, err
	}
	stats.ErrorCount += r.errorCount.Load()
	for _, src := range r.errorSources {
		stats.ErrorCount += src()
	}
	return stats, nil
}

// ProcessJSONLFile bulk-ingests a line-delimited activity file emitted by
// an offline collector. Malformed lines and naive timestamps are skipped
// and counted; the rest funnel through the same idempotent store path as
// live batches.
func (r *Recorder) ProcessJSONLFile(ctx context.Context, path string) ([]string, error) {
	res, err := jsonl.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}
	if res.Skipped > 0 {
		r.errorCount.Add(int64(res.Skipped))
		r.log.Warn("skipped malformed lines", "path", path, "skipped", res.Skipped)
		for _, lerr := range res.LineErrors {
			r.log.Debug("bad line", "error", lerr)
		}
	}
	if len(res.Activities) == 0 {
		return nil, nil
	}
	batch := &types.Batch{CycleStart: time.Now().UTC(), Activities: res.Activities}
	return r.StoreActivities(ctx, batch)
}
