package consolidate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ubc-systopia/indaleko/internal/score"
	"github.com/ubc-systopia/indaleko/internal/storage"
	"github.com/ubc-systopia/indaleko/internal/types"
)

// fakeStore holds tier records per collection in memory.
type fakeStore struct {
	records  map[string][]*types.TierRecord
	failNext int
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string][]*types.TierRecord)}
}

func (f *fakeStore) StoreRecords(_ context.Context, collection string, records []*types.TierRecord) (storage.StoreResult, error) {
	res := storage.StoreResult{}
	for _, rec := range records {
		if f.failNext > 0 {
			f.failNext--
			res.Failed++
			continue
		}
		f.records[collection] = append(f.records[collection], rec)
		res.StoredIDs = append(res.StoredIDs, rec.Activity.ActivityID)
	}
	return res, nil
}

func (f *fakeStore) ExpiringRecords(_ context.Context, collection string, tier types.Tier, before time.Time, limit int) ([]*types.TierRecord, error) {
	var out []*types.TierRecord
	for _, rec := range f.records[collection] {
		if rec.Tier == tier && rec.ExpiresAt != nil && !rec.ExpiresAt.After(before) {
			out = append(out, rec)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteRecord(_ context.Context, collection string, tier types.Tier, activityID string) error {
	recs := f.records[collection]
	for i, rec := range recs {
		if rec.Tier == tier && rec.Activity.ActivityID == activityID {
			f.records[collection] = append(recs[:i], recs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s/%s", storage.ErrNotFound, collection, activityID)
}

func (f *fakeStore) PurgeExpired(_ context.Context, collection string) (int64, error) {
	now := time.Now().UTC()
	var kept []*types.TierRecord
	var purged int64
	for _, rec := range f.records[collection] {
		if rec.Expired(now) {
			purged++
			continue
		}
		kept = append(kept, rec)
	}
	f.records[collection] = kept
	return purged, nil
}

func (f *fakeStore) CountRecords(_ context.Context, collection string, tier types.Tier) (int64, error) {
	var n int64
	now := time.Now().UTC()
	for _, rec := range f.records[collection] {
		if rec.Tier == tier && !rec.Expired(now) {
			n++
		}
	}
	return n, nil
}

func newTestConsolidator(t *testing.T, store consolidatorStore) *Consolidator {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := New(store, score.NewDefault(), Config{HotCollection: "activity_test"}, log)
	require.NoError(t, err)
	return c
}

func hotRecord(id, entityID, path string, importance float64, age time.Duration) *types.TierRecord {
	now := time.Now().UTC()
	ts := now.Add(-age)
	expires := now.Add(30 * time.Minute)
	return &types.TierRecord{
		Activity: &types.Activity{
			ActivityID:      id,
			EntityID:        entityID,
			Timestamp:       ts,
			ActivityType:    types.ActivityModify,
			FilePath:        path,
			FileName:        "notes.txt",
			Volume:          "C:",
			ImportanceScore: importance,
			TierMembership:  types.TierHot,
		},
		Tier:       types.TierHot,
		Version:    1,
		InsertedAt: ts,
		ExpiresAt:  &expires,
	}
}

func TestNewRequiresHotCollection(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := New(newFakeStore(), score.NewDefault(), Config{}, log)
	assert.Error(t, err)
}

func TestRunPromotesQualifyingGroup(t *testing.T) {
	store := newFakeStore()
	c := newTestConsolidator(t, store)

	store.records["activity_test"] = []*types.TierRecord{
		hotRecord("a-1", "e-1", `C:\Users\alice\Documents\notes.txt`, 0.9, 48*time.Hour),
		hotRecord("a-2", "e-1", `C:\Users\alice\Documents\notes.txt`, 0.7, 36*time.Hour),
		// Temp churn: below the importance floor, expires unpromoted.
		hotRecord("a-3", "e-2", `C:\Windows\Temp\x.tmp`, 0.15, 48*time.Hour),
	}

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.HotScanned)
	assert.Equal(t, 2, res.HotPromoted)
	assert.Equal(t, 1, res.Summaries)
	assert.Zero(t, res.Errors)

	warm := store.records[c.WarmCollection()]
	require.Len(t, warm, 1)
	summary := warm[0]
	assert.Equal(t, types.TierWarm, summary.Tier)
	assert.ElementsMatch(t, []string{"a-1", "a-2"}, summary.BackRefs)
	assert.NotContains(t, []string{"a-1", "a-2", "a-3"}, summary.Activity.ActivityID)
	assert.Equal(t, "e-1", summary.Activity.EntityID)
	// 0.7·mean + 0.3·max of (0.9, 0.7).
	assert.InDelta(t, 0.83, summary.Activity.ImportanceScore, 1e-9)
	require.NotNil(t, summary.ExpiresAt)
	assert.True(t, summary.ExpiresAt.After(time.Now()))

	// Promoted sources are gone; the temp record rides out its TTL in hot.
	require.Len(t, store.records["activity_test"], 1)
	assert.Equal(t, "a-3", store.records["activity_test"][0].Activity.ActivityID)
}

func TestSummaryRepresentativeIsHighestImportance(t *testing.T) {
	store := newFakeStore()
	c := newTestConsolidator(t, store)

	store.records["activity_test"] = []*types.TierRecord{
		hotRecord("a-low", "e-1", `C:\Users\alice\Documents\old-name.txt`, 0.65, 48*time.Hour),
		hotRecord("a-high", "e-1", `C:\Users\alice\Documents\notes.txt`, 0.9, 48*time.Hour),
	}

	_, err := c.Run(context.Background())
	require.NoError(t, err)

	warm := store.records[c.WarmCollection()]
	require.Len(t, warm, 1)
	assert.Equal(t, `C:\Users\alice\Documents\notes.txt`, warm[0].Activity.FilePath)
	// The losing path survives in the summary's attributes.
	assert.True(t, strings.Contains(warm[0].Activity.Attributes["other_paths"], "old-name.txt"))
}

func TestLargeGroupRollsUpToOneSummary(t *testing.T) {
	store := newFakeStore()
	c := newTestConsolidator(t, store)

	scores := []float64{0.7, 0.7, 0.7, 0.7, 0.7, 0.7, 0.7, 0.7, 0.7, 0.9}
	var sources []*types.TierRecord
	var ids []string
	for i, sc := range scores {
		id := fmt.Sprintf("a-%d", i+1)
		ids = append(ids, id)
		sources = append(sources, hotRecord(id, "e-1", `C:\Users\alice\Documents\notes.txt`, sc, 48*time.Hour))
	}
	store.records["activity_test"] = sources

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, res.HotScanned)
	assert.Equal(t, 10, res.HotPromoted)
	assert.Equal(t, 1, res.Summaries)

	warm := store.records[c.WarmCollection()]
	require.Len(t, warm, 1)
	summary := warm[0]
	assert.ElementsMatch(t, ids, summary.BackRefs)
	// 0.7·mean + 0.3·max of the ten source scores.
	assert.InDelta(t, 0.7*0.72+0.3*0.9, summary.Activity.ImportanceScore, 1e-9)

	// Conservation: total source importance never exceeds the back-ref
	// count, and the inputs are gone from the hot tier.
	var sum float64
	for _, sc := range scores {
		sum += sc
	}
	assert.LessOrEqual(t, sum, float64(len(summary.BackRefs)))
	assert.Empty(t, store.records["activity_test"])
}

func TestColdSummariesNeverExpire(t *testing.T) {
	store := newFakeStore()
	c := newTestConsolidator(t, store)

	now := time.Now().UTC()
	ts := now.Add(-8 * 24 * time.Hour)
	expires := now.Add(time.Hour)
	store.records[c.WarmCollection()] = []*types.TierRecord{{
		Activity: &types.Activity{
			ActivityID:      "w-1",
			EntityID:        "e-1",
			Timestamp:       ts,
			ActivityType:    types.ActivityModify,
			FilePath:        `C:\Users\alice\Documents\notes.txt`,
			FileName:        "notes.txt",
			Volume:          "C:",
			ImportanceScore: 0.9,
			TierMembership:  types.TierWarm,
		},
		Tier:       types.TierWarm,
		Version:    1,
		InsertedAt: ts,
		ExpiresAt:  &expires,
		BackRefs:   []string{"a-1", "a-2"},
	}}

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.WarmScanned)
	assert.Equal(t, 1, res.WarmPromoted)

	cold := store.records[c.ColdCollection()]
	require.Len(t, cold, 1)
	assert.Equal(t, types.TierCold, cold[0].Tier)
	assert.Nil(t, cold[0].ExpiresAt)
	assert.Equal(t, []string{"w-1"}, cold[0].BackRefs)
}

func TestSourcesKeptWhenSummaryFails(t *testing.T) {
	store := newFakeStore()
	c := newTestConsolidator(t, store)

	rec := hotRecord("a-1", "e-1", `C:\Users\alice\Documents\notes.txt`, 0.9, 48*time.Hour)
	// Keep the source out of purge range so only promotion could remove it.
	farOut := time.Now().UTC().Add(90 * time.Minute)
	rec.ExpiresAt = &farOut
	store.records["activity_test"] = []*types.TierRecord{rec}

	store.failNext = 1
	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Summaries)
	assert.Zero(t, res.HotPromoted)
	assert.Equal(t, 1, res.Errors)

	// Source stays for the next pass.
	require.Len(t, store.records["activity_test"], 1)
	assert.Equal(t, "a-1", store.records["activity_test"][0].Activity.ActivityID)
}

func TestYoungRecordsNotPromoted(t *testing.T) {
	store := newFakeStore()
	c := newTestConsolidator(t, store)

	// Important but too fresh for the age requirement.
	store.records["activity_test"] = []*types.TierRecord{
		hotRecord("a-1", "e-1", `C:\Users\alice\Documents\notes.txt`, 0.9, time.Hour),
	}

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.HotScanned)
	assert.Zero(t, res.Summaries)
	assert.Empty(t, store.records[c.WarmCollection()])
}

func TestUnresolvedEntitiesConsolidateAlone(t *testing.T) {
	store := newFakeStore()
	c := newTestConsolidator(t, store)

	store.records["activity_test"] = []*types.TierRecord{
		hotRecord("a-1", "", `C:\Users\alice\Documents\a.txt`, 0.9, 48*time.Hour),
		hotRecord("a-2", "", `C:\Users\alice\Documents\b.txt`, 0.9, 48*time.Hour),
	}

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Summaries)
	assert.Len(t, store.records[c.WarmCollection()], 2)
}

func TestTierCounts(t *testing.T) {
	store := newFakeStore()
	c := newTestConsolidator(t, store)

	store.records["activity_test"] = []*types.TierRecord{
		hotRecord("a-1", "e-1", `C:\a.txt`, 0.5, time.Hour),
		hotRecord("a-2", "e-2", `C:\b.txt`, 0.5, time.Hour),
	}
	store.records[c.WarmCollection()] = []*types.TierRecord{{
		Activity: hotRecord("w-1", "e-1", `C:\a.txt`, 0.5, time.Hour).Activity,
		Tier:     types.TierWarm, Version: 1, InsertedAt: time.Now().UTC(),
	}}

	hot, warm, cold, err := c.TierCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), hot)
	assert.Equal(t, int64(1), warm)
	assert.Zero(t, cold)
}
