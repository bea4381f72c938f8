package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ubc-systopia/indaleko/internal/storage"
	"github.com/ubc-systopia/indaleko/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func record(id string, importance float64, ts time.Time, expiresAt *time.Time) *types.TierRecord {
	return &types.TierRecord{
		Activity: &types.Activity{
			ActivityID:      id,
			Timestamp:       ts,
			ActivityType:    types.ActivityModify,
			FilePath:        `C:\Users\alice\Documents\notes.txt`,
			FileName:        "notes.txt",
			Volume:          "C:",
			ImportanceScore: importance,
		},
		Tier:       types.TierHot,
		Version:    1,
		InsertedAt: ts,
		ExpiresAt:  expiresAt,
	}
}

func TestRegisterServiceIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	reg := storage.ServiceRegistration{
		Name:    "ntfs_activity_recorder",
		UUID:    "9a1c9b52-74f5-4d3a-9c3e-1f6a36cf3d5b",
		Version: "1.0.0",
		Type:    "recorder",
	}
	first, err := s.RegisterService(ctx, reg)
	require.NoError(t, err)
	assert.Equal(t, "activity_9a1c9b52", first.Collection)

	reg.Version = "1.1.0"
	second, err := s.RegisterService(ctx, reg)
	require.NoError(t, err)
	assert.Equal(t, first.Collection, second.Collection)
	assert.Equal(t, "1.1.0", second.Version)
}

func TestRegisterServiceRequiresIdentity(t *testing.T) {
	s := newTestStore(t)
	_, err := s.RegisterService(context.Background(), storage.ServiceRegistration{Name: "x"})
	assert.Error(t, err)
}

func TestStoreRecordsCountsDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	recs := []*types.TierRecord{
		record("a-1", 0.5, now, nil),
		record("a-2", 0.7, now, nil),
	}
	res, err := s.StoreRecords(ctx, "activity_test", recs)
	require.NoError(t, err)
	assert.Len(t, res.StoredIDs, 2)
	assert.Zero(t, res.Duplicates)

	res, err = s.StoreRecords(ctx, "activity_test", recs[:1])
	require.NoError(t, err)
	assert.Empty(t, res.StoredIDs)
	assert.Equal(t, 1, res.Duplicates)

	// Same id in a different collection is a distinct record.
	res, err = s.StoreRecords(ctx, "activity_other", recs[:1])
	require.NoError(t, err)
	assert.Len(t, res.StoredIDs, 1)
}

func TestGetRecentFiltersExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	_, err := s.StoreRecords(ctx, "activity_test", []*types.TierRecord{
		record("live", 0.5, now.Add(-time.Minute), &future),
		record("dead", 0.5, now.Add(-time.Minute), &past),
		record("forever", 0.5, now.Add(-2*time.Minute), nil),
		record("old", 0.5, now.Add(-48*time.Hour), &future),
	})
	require.NoError(t, err)

	got, err := s.GetRecent(ctx, "activity_test", now.Add(-24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Most recent first.
	assert.Equal(t, "live", got[0].ActivityID)
	assert.Equal(t, "forever", got[1].ActivityID)
}

func TestExpiringRecordsOrderedByExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	soon := now.Add(30 * time.Minute)
	sooner := now.Add(10 * time.Minute)
	far := now.Add(72 * time.Hour)

	_, err := s.StoreRecords(ctx, "activity_test", []*types.TierRecord{
		record("b", 0.5, now, &soon),
		record("a", 0.5, now, &sooner),
		record("c", 0.5, now, &far),
		record("none", 0.5, now, nil),
	})
	require.NoError(t, err)

	got, err := s.ExpiringRecords(ctx, "activity_test", types.TierHot, now.Add(2*time.Hour), 100)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Activity.ActivityID)
	assert.Equal(t, "b", got[1].Activity.ActivityID)
	require.NotNil(t, got[0].ExpiresAt)
	assert.WithinDuration(t, sooner, *got[0].ExpiresAt, time.Second)
}

func TestDeleteRecordTierGuard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := s.StoreRecords(ctx, "activity_test", []*types.TierRecord{record("a-1", 0.5, now, nil)})
	require.NoError(t, err)

	err = s.DeleteRecord(ctx, "activity_test", types.TierWarm, "a-1")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	require.NoError(t, s.DeleteRecord(ctx, "activity_test", types.TierHot, "a-1"))
	err = s.DeleteRecord(ctx, "activity_test", types.TierHot, "a-1")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestPurgeExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	_, err := s.StoreRecords(ctx, "activity_test", []*types.TierRecord{
		record("dead-1", 0.5, now, &past),
		record("dead-2", 0.5, now, &past),
		record("live", 0.5, now, &future),
		record("forever", 0.5, now, nil),
	})
	require.NoError(t, err)

	purged, err := s.PurgeExpired(ctx, "activity_test")
	require.NoError(t, err)
	assert.Equal(t, int64(2), purged)

	n, err := s.CountRecords(ctx, "activity_test", types.TierHot)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestIncrementAccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	future := now.Add(time.Hour)

	_, err := s.StoreRecords(ctx, "activity_test", []*types.TierRecord{record("a-1", 0.5, now, &future)})
	require.NoError(t, err)

	require.NoError(t, s.IncrementAccess(ctx, "activity_test", []string{"a-1", "missing"}))
	require.NoError(t, s.IncrementAccess(ctx, "activity_test", []string{"a-1"}))

	got, err := s.ExpiringRecords(ctx, "activity_test", types.TierHot, future.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].Activity.AccessCount)
	assert.Equal(t, int64(3), got[0].Version)
}

func TestGetStatistics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	recs := []*types.TierRecord{
		record("a-1", 0.95, ts, nil),
		record("a-2", 0.55, ts, nil),
		record("a-3", 0.55, ts.Add(24*time.Hour), nil),
	}
	recs[2].Activity.ActivityType = types.ActivityCreate
	_, err := s.StoreRecords(ctx, "activity_test", recs)
	require.NoError(t, err)

	stats, err := s.GetStatistics(ctx, "activity_test")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalCount)
	assert.Equal(t, int64(2), stats.ByType[types.ActivityModify])
	assert.Equal(t, int64(1), stats.ByType[types.ActivityCreate])
	assert.Equal(t, int64(1), stats.ByImportance[9])
	assert.Equal(t, int64(2), stats.ByImportance[5])
	assert.Equal(t, int64(2), stats.ByDay["2026-08-25"])
	assert.Equal(t, int64(1), stats.ByDay["2026-08-26"])
}

func TestBackRefsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	future := now.Add(time.Hour)

	rec := record("summary-1", 0.8, now, &future)
	rec.Tier = types.TierWarm
	rec.BackRefs = []string{"a-1", "a-2", "a-3"}
	_, err := s.StoreRecords(ctx, "activity_test_warm", []*types.TierRecord{rec})
	require.NoError(t, err)

	got, err := s.ExpiringRecords(ctx, "activity_test_warm", types.TierWarm, future.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"a-1", "a-2", "a-3"}, got[0].BackRefs)
}

func TestEntityRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	_, err := s.GetEntityByRef(ctx, "C:", 42)
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	e := &types.Entity{
		EntityID:      "e-1",
		Volume:        "C:",
		FileReference: 42,
		Path:          `C:\Users\alice\draft.txt`,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, s.SaveEntity(ctx, e))

	got, err := s.GetEntityByRef(ctx, "C:", 42)
	require.NoError(t, err)
	assert.Equal(t, "e-1", got.EntityID)
	assert.Equal(t, e.Path, got.Path)

	// Rename: upsert keeps the id, records the prior path.
	e.PriorPaths = []types.PathSpan{{Path: e.Path, From: now.Add(-time.Hour), To: now}}
	e.Path = `C:\Users\alice\final.txt`
	e.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, s.SaveEntity(ctx, e))

	got, err = s.GetEntity(ctx, "e-1")
	require.NoError(t, err)
	assert.Equal(t, `C:\Users\alice\final.txt`, got.Path)
	require.Len(t, got.PriorPaths, 1)
	assert.Equal(t, `C:\Users\alice\draft.txt`, got.PriorPaths[0].Path)
}

func TestEntityHighFileReference(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// NTFS file references use the full 64 bits.
	ref := uint64(0xF000000000001234)
	e := &types.Entity{
		EntityID:      "e-high",
		Volume:        "C:",
		FileReference: ref,
		Path:          `C:\x`,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, s.SaveEntity(ctx, e))

	got, err := s.GetEntityByRef(ctx, "C:", ref)
	require.NoError(t, err)
	assert.Equal(t, ref, got.FileReference)
}

func TestStoreLargeBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	recs := make([]*types.TierRecord, 0, 500)
	for i := 0; i < 500; i++ {
		recs = append(recs, record(fmt.Sprintf("bulk-%03d", i), 0.5, now.Add(time.Duration(i)*time.Millisecond), nil))
	}
	res, err := s.StoreRecords(ctx, "activity_test", recs)
	require.NoError(t, err)
	assert.Len(t, res.StoredIDs, 500)

	n, err := s.CountRecords(ctx, "activity_test", types.TierHot)
	require.NoError(t, err)
	assert.Equal(t, int64(500), n)
}
