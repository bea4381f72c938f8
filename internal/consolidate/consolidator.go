// Package consolidate promotes records between retention tiers.
//
// The consolidator owns the warm and cold collections. Each pass looks at
// records whose TTL fires inside the lookahead horizon, applies the
// importance gate, and rolls qualifying groups into per-entity summary
// records one tier up. Promotion runs before the purge so nothing worth
// keeping is lost to its TTL.
package consolidate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ubc-systopia/indaleko/internal/score"
	"github.com/ubc-systopia/indaleko/internal/storage"
	"github.com/ubc-systopia/indaleko/internal/types"
)

// DefaultLookahead is how far past now a record's expiry may sit and still
// be considered in this pass. It should be at least the consolidation
// cadence so no record expires between two passes unseen.
const DefaultLookahead = 2 * time.Hour

// scanLimit bounds one pass. Leftovers are picked up next pass.
const scanLimit = 5000

// consolidatorStore is the slice of storage the consolidator needs.
type consolidatorStore interface {
	StoreRecords(ctx context.Context, collection string, records []*types.TierRecord) (storage.StoreResult, error)
	ExpiringRecords(ctx context.Context, collection string, tier types.Tier, before time.Time, limit int) ([]*types.TierRecord, error)
	DeleteRecord(ctx context.Context, collection string, tier types.Tier, activityID string) error
	PurgeExpired(ctx context.Context, collection string) (int64, error)
	CountRecords(ctx context.Context, collection string, tier types.Tier) (int64, error)
}

// Config controls one consolidator.
type Config struct {
	// HotCollection is the recorder's assigned collection. Warm and cold
	// collections derive from it.
	HotCollection string
	// Lookahead is the expiry horizon scanned per pass.
	Lookahead time.Duration
}

// Result reports one consolidation pass.
type Result struct {
	HotScanned   int
	WarmScanned  int
	HotPromoted  int
	WarmPromoted int
	Summaries    int
	Purged       int64
	Errors       int
}

// Consolidator runs tier promotion passes.
type Consolidator struct {
	store  consolidatorStore
	scorer *score.Scorer
	log    *slog.Logger
	cfg    Config
}

// New builds a consolidator bound to the recorder's collection family.
func New(store consolidatorStore, scorer *score.Scorer, cfg Config, log *slog.Logger) (*Consolidator, error) {
	if cfg.HotCollection == "" {
		return nil, fmt.Errorf("consolidate: hot collection not set")
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = DefaultLookahead
	}
	return &Consolidator{store: store, scorer: scorer, log: log, cfg: cfg}, nil
}

// WarmCollection returns the warm collection name.
func (c *Consolidator) WarmCollection() string { return c.cfg.HotCollection + "_warm" }

// ColdCollection returns the cold collection name.
func (c *Consolidator) ColdCollection() string { return c.cfg.HotCollection + "_cold" }

// Run executes one full pass: hot→warm, warm→cold, then purge of whatever
// expired without qualifying.
func (c *Consolidator) Run(ctx context.Context) (*Result, error) {
	res := &Result{}
	now := time.Now().UTC()
	horizon := now.Add(c.cfg.Lookahead)

	if err := c.promote(ctx, res, now, horizon, types.TierHot); err != nil {
		return res, err
	}
	if err := c.promote(ctx, res, now, horizon, types.TierWarm); err != nil {
		return res, err
	}

	for _, coll := range []string{c.cfg.HotCollection, c.WarmCollection()} {
		n, err := c.store.PurgeExpired(ctx, coll)
		if err != nil {
			res.Errors++
			c.log.Warn("purge failed", "collection", coll, "error", err)
			continue
		}
		res.Purged += n
	}

	c.log.Info("consolidation pass complete",
		"hot_scanned", res.HotScanned, "warm_scanned", res.WarmScanned,
		"hot_promoted", res.HotPromoted, "warm_promoted", res.WarmPromoted,
		"summaries", res.Summaries, "purged", res.Purged, "errors", res.Errors)
	return res, nil
}

// promote scans one tier for records nearing expiry and rolls qualifying
// entity groups into the next tier.
func (c *Consolidator) promote(ctx context.Context, res *Result, now, horizon time.Time, from types.Tier) error {
	srcColl := c.collectionFor(from)
	dstTier := from.Next()
	dstColl := c.collectionFor(dstTier)
	memTier := score.MemoryTierFor(from)

	candidates, err := c.store.ExpiringRecords(ctx, srcColl, from, horizon, scanLimit)
	if err != nil {
		return fmt.Errorf("consolidate: scan %s: %w", from, err)
	}
	switch from {
	case types.TierHot:
		res.HotScanned = len(candidates)
	case types.TierWarm:
		res.WarmScanned = len(candidates)
	}
	if len(candidates) == 0 {
		return nil
	}

	groups := make(map[string][]*types.TierRecord)
	var order []string
	for _, rec := range candidates {
		if rec.Activity == nil {
			res.Errors++
			continue
		}
		age := now.Sub(rec.Activity.Timestamp)
		eff := c.scorer.Decay(rec.Activity.ImportanceScore, age.Hours()/24, rec.Activity.AccessCount)
		if !c.scorer.ShouldConsolidate(eff, age, memTier) {
			continue
		}
		// Activities without a resolved entity consolidate alone.
		key := rec.Activity.EntityID
		if key == "" {
			key = rec.Activity.ActivityID
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], rec)
	}
	if len(groups) == 0 {
		return nil
	}

	summaries := make([]*types.TierRecord, 0, len(groups))
	for _, key := range order {
		summaries = append(summaries, c.summarize(groups[key], dstTier, now))
	}

	stored, err := c.store.StoreRecords(ctx, dstColl, summaries)
	if err != nil {
		return fmt.Errorf("consolidate: store %s summaries: %w", dstTier, err)
	}
	if stored.Failed > 0 {
		res.Errors += stored.Failed
	}
	res.Summaries += len(stored.StoredIDs)

	// Delete sources only for summaries that actually landed. A summary
	// that failed to write leaves its sources in place for the next pass.
	landed := make(map[string]bool, len(stored.StoredIDs))
	for _, id := range stored.StoredIDs {
		landed[id] = true
	}
	for i, key := range order {
		if !landed[summaries[i].Activity.ActivityID] {
			continue
		}
		for _, src := range groups[key] {
			if err := c.store.DeleteRecord(ctx, srcColl, from, src.Activity.ActivityID); err != nil {
				res.Errors++
				c.log.Warn("failed to delete promoted source",
					"collection", srcColl, "activity_id", src.Activity.ActivityID, "error", err)
				continue
			}
			switch from {
			case types.TierHot:
				res.HotPromoted++
			case types.TierWarm:
				res.WarmPromoted++
			}
		}
	}
	return nil
}

// summarize rolls a group of same-entity records into one summary in the
// destination tier. The representative activity is the highest-importance
// source (ties break to most recent); counts aggregate across the group
// and back_refs records provenance.
func (c *Consolidator) summarize(group []*types.TierRecord, dst types.Tier, now time.Time) *types.TierRecord {
	sort.Slice(group, func(i, j int) bool {
		ai, aj := group[i].Activity, group[j].Activity
		if ai.ImportanceScore != aj.ImportanceScore {
			return ai.ImportanceScore > aj.ImportanceScore
		}
		return ai.Timestamp.After(aj.Timestamp)
	})

	rep := group[0].Activity.Clone()
	scores := make([]float64, 0, len(group))
	backRefs := make([]string, 0, len(group))
	var accessTotal, searchTotal int64
	seen := map[string]bool{rep.FilePath: true}
	var otherPaths []string
	for _, rec := range group {
		a := rec.Activity
		scores = append(scores, a.ImportanceScore)
		backRefs = append(backRefs, a.ActivityID)
		accessTotal += a.AccessCount
		searchTotal += a.SearchHits
		if !seen[a.FilePath] {
			seen[a.FilePath] = true
			otherPaths = append(otherPaths, a.FilePath)
		}
	}
	if len(otherPaths) > 0 {
		if rep.Attributes == nil {
			rep.Attributes = make(map[string]string)
		}
		rep.Attributes["other_paths"] = strings.Join(otherPaths, ",")
	}

	rep.ActivityID = uuid.NewString()
	rep.ImportanceScore = score.CombineImportanceScores(scores)
	rep.TierMembership = dst
	rep.AccessCount = accessTotal
	rep.SearchHits = searchTotal

	out := &types.TierRecord{
		Activity:   rep,
		Tier:       dst,
		Version:    1,
		InsertedAt: now,
		BackRefs:   backRefs,
	}
	// Cold records never expire. Warm retention scales with the combined
	// score per the retention policy.
	if dst == types.TierWarm {
		days := c.scorer.RetentionDays(rep.ImportanceScore, score.TierShortTerm)
		exp := now.Add(time.Duration(days) * 24 * time.Hour)
		out.ExpiresAt = &exp
	}
	return out
}

func (c *Consolidator) collectionFor(t types.Tier) string {
	switch t {
	case types.TierWarm:
		return c.WarmCollection()
	case types.TierCold:
		return c.ColdCollection()
	}
	return c.cfg.HotCollection
}

// TierCounts reports live record counts per tier, for stats output.
func (c *Consolidator) TierCounts(ctx context.Context) (hot, warm, cold int64, err error) {
	if hot, err = c.store.CountRecords(ctx, c.cfg.HotCollection, types.TierHot); err != nil {
		return
	}
	if warm, err = c.store.CountRecords(ctx, c.WarmCollection(), types.TierWarm); err != nil {
		return
	}
	cold, err = c.store.CountRecords(ctx, c.ColdCollection(), types.TierCold)
	return
}
