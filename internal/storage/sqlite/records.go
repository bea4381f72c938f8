package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ubc-systopia/indaleko/internal/jsonl"
	"github.com/ubc-systopia/indaleko/internal/storage"
	"github.com/ubc-systopia/indaleko/internal/types"
)

func nanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

// StoreRecords persists a batch. Each record is inserted independently:
// duplicates (same primary key) are counted and skipped, and a database
// error on one record does not fail the rest of the batch.
func (s *Store) StoreRecords(ctx context.Context, collection string, records []*types.TierRecord) (storage.StoreResult, error) {
	res := storage.StoreResult{}
	if len(records) == 0 {
		return res, nil
	}
	cctx, cancel := s.shortCtx(ctx)
	defer cancel()

	stmt, err := s.db.PrepareContext(cctx, `
		INSERT INTO tier_records
			(collection, activity_id, tier, entity_id, version, timestamp,
			 inserted_at, expires_at, importance, activity_type, file_path,
			 volume, access_count, activity, back_refs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (collection, activity_id) DO NOTHING`)
	if err != nil {
		return res, fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range records {
		a := rec.Activity
		doc, err := jsonl.MarshalActivity(a)
		if err != nil {
			res.Failed++
			continue
		}
		backRefs, err := json.Marshal(rec.BackRefs)
		if err != nil {
			res.Failed++
			continue
		}
		var expires any
		if rec.ExpiresAt != nil {
			expires = nanos(*rec.ExpiresAt)
		}
		out, err := stmt.ExecContext(cctx,
			collection, a.ActivityID, string(rec.Tier), a.EntityID, rec.Version,
			nanos(a.Timestamp), nanos(rec.InsertedAt), expires,
			a.ImportanceScore, string(a.ActivityType), a.FilePath,
			a.Volume, a.AccessCount, string(doc), string(backRefs))
		if err != nil {
			res.Failed++
			continue
		}
		if n, _ := out.RowsAffected(); n == 0 {
			res.Duplicates++
			continue
		}
		res.StoredIDs = append(res.StoredIDs, a.ActivityID)
	}
	return res, nil
}

// GetRecent returns non-expired activities with timestamp >= since,
// most-recent-first.
func (s *Store) GetRecent(ctx context.Context, collection string, since time.Time, limit int) ([]*types.Activity, error) {
	if limit <= 0 {
		limit = 100
	}
	cctx, cancel := s.queryCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(cctx, `
		SELECT activity FROM tier_records
		WHERE collection = ?
		  AND timestamp >= ?
		  AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY timestamp DESC
		LIMIT ?`,
		collection, nanos(since), nanos(time.Now()), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query recent: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Activity
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("sqlite: scan recent: %w", err)
		}
		a, err := jsonl.UnmarshalActivity([]byte(doc))
		if err != nil {
			// Row written by this process; a decode failure is corruption.
			return nil, fmt.Errorf("sqlite: decode stored activity: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetStatistics aggregates the non-expired records in a collection.
func (s *Store) GetStatistics(ctx context.Context, collection string) (*types.Statistics, error) {
	cctx, cancel := s.queryCtx(ctx)
	defer cancel()

	now := nanos(time.Now())
	stats := &types.Statistics{
		ByType: make(map[types.ActivityType]int64),
		ByDay:  make(map[string]int64),
	}

	err := s.db.QueryRowContext(cctx, `
		SELECT COUNT(*) FROM tier_records
		WHERE collection = ? AND (expires_at IS NULL OR expires_at > ?)`,
		collection, now).Scan(&stats.TotalCount)
	if err != nil {
		return nil, fmt.Errorf("sqlite: count records: %w", err)
	}

	rows, err := s.db.QueryContext(cctx, `
		SELECT activity_type, COUNT(*) FROM tier_records
		WHERE collection = ? AND (expires_at IS NULL OR expires_at > ?)
		GROUP BY activity_type`,
		collection, now)
	if err != nil {
		return nil, fmt.Errorf("sqlite: stats by type: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var at string
		var n int64
		if err := rows.Scan(&at, &n); err != nil {
			return nil, err
		}
		stats.ByType[types.ActivityType(at)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	bucketRows, err := s.db.QueryContext(cctx, `
		SELECT MIN(CAST(importance * 10 AS INTEGER), 9), COUNT(*)
		FROM tier_records
		WHERE collection = ? AND (expires_at IS NULL OR expires_at > ?)
		GROUP BY 1`,
		collection, now)
	if err != nil {
		return nil, fmt.Errorf("sqlite: stats by importance: %w", err)
	}
	defer func() { _ = bucketRows.Close() }()
	for bucketRows.Next() {
		var bucket int
		var n int64
		if err := bucketRows.Scan(&bucket, &n); err != nil {
			return nil, err
		}
		if bucket >= 0 && bucket < 10 {
			stats.ByImportance[bucket] = n
		}
	}
	if err := bucketRows.Err(); err != nil {
		return nil, err
	}

	dayRows, err := s.db.QueryContext(cctx, `
		SELECT strftime('%Y-%m-%d', timestamp / 1000000000, 'unixepoch'), COUNT(*)
		FROM tier_records
		WHERE collection = ? AND (expires_at IS NULL OR expires_at > ?)
		GROUP BY 1`,
		collection, now)
	if err != nil {
		return nil, fmt.Errorf("sqlite: stats by day: %w", err)
	}
	defer func() { _ = dayRows.Close() }()
	for dayRows.Next() {
		var day string
		var n int64
		if err := dayRows.Scan(&day, &n); err != nil {
			return nil, err
		}
		stats.ByDay[day] = n
	}
	return stats, dayRows.Err()
}

// ExpiringRecords returns records in a tier whose expiry falls on or
// before the given instant, ascending by expiry. The consolidator scans
// with before = now + cadence window.
func (s *Store) ExpiringRecords(ctx context.Context, collection string, tier types.Tier, before time.Time, limit int) ([]*types.TierRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	cctx, cancel := s.queryCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(cctx, `
		SELECT activity, tier, version, inserted_at, expires_at, back_refs, access_count
		FROM tier_records
		WHERE collection = ? AND tier = ?
		  AND expires_at IS NOT NULL AND expires_at <= ?
		ORDER BY expires_at ASC
		LIMIT ?`,
		collection, string(tier), nanos(before), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query expiring: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.TierRecord
	for rows.Next() {
		rec, err := scanTierRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanTierRecord(rows *sql.Rows) (*types.TierRecord, error) {
	var doc, tier, backRefs string
	var version, insertedAt, accessCount int64
	var expiresAt sql.NullInt64
	if err := rows.Scan(&doc, &tier, &version, &insertedAt, &expiresAt, &backRefs, &accessCount); err != nil {
		return nil, fmt.Errorf("sqlite: scan tier record: %w", err)
	}
	a, err := jsonl.UnmarshalActivity([]byte(doc))
	if err != nil {
		return nil, fmt.Errorf("sqlite: decode stored activity: %w", err)
	}
	a.AccessCount = accessCount
	rec := &types.TierRecord{
		Activity:   a,
		Tier:       types.Tier(tier),
		Version:    version,
		InsertedAt: fromNanos(insertedAt),
	}
	if expiresAt.Valid {
		t := fromNanos(expiresAt.Int64)
		rec.ExpiresAt = &t
	}
	if err := json.Unmarshal([]byte(backRefs), &rec.BackRefs); err != nil {
		return nil, fmt.Errorf("sqlite: decode back_refs: %w", err)
	}
	return rec, nil
}

// DeleteRecord removes one record by primary key. The tier guard keeps the
// consolidator from deleting a record that was re-promoted between scan
// and delete.
func (s *Store) DeleteRecord(ctx context.Context, collection string, tier types.Tier, activityID string) error {
	cctx, cancel := s.shortCtx(ctx)
	defer cancel()

	out, err := s.db.ExecContext(cctx, `
		DELETE FROM tier_records
		WHERE collection = ? AND activity_id = ? AND tier = ?`,
		collection, activityID, string(tier))
	if err != nil {
		return fmt.Errorf("sqlite: delete record: %w", err)
	}
	if n, _ := out.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s/%s", storage.ErrNotFound, collection, activityID)
	}
	return nil
}

// PurgeExpired deletes every record whose TTL has fired.
func (s *Store) PurgeExpired(ctx context.Context, collection string) (int64, error) {
	cctx, cancel := s.queryCtx(ctx)
	defer cancel()

	out, err := s.db.ExecContext(cctx, `
		DELETE FROM tier_records
		WHERE collection = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		collection, nanos(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("sqlite: purge expired: %w", err)
	}
	n, _ := out.RowsAffected()
	return n, nil
}

// CountRecords counts non-expired records in a tier.
func (s *Store) CountRecords(ctx context.Context, collection string, tier types.Tier) (int64, error) {
	cctx, cancel := s.shortCtx(ctx)
	defer cancel()

	var n int64
	err := s.db.QueryRowContext(cctx, `
		SELECT COUNT(*) FROM tier_records
		WHERE collection = ? AND tier = ?
		  AND (expires_at IS NULL OR expires_at > ?)`,
		collection, string(tier), nanos(time.Now())).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count records: %w", err)
	}
	return n, nil
}

// IncrementAccess bumps access_count (and the record version) for the
// given activity ids. Missing ids are ignored.
func (s *Store) IncrementAccess(ctx context.Context, collection string, activityIDs []string) error {
	if len(activityIDs) == 0 {
		return nil
	}
	cctx, cancel := s.shortCtx(ctx)
	defer cancel()

	placeholders := strings.Repeat("?,", len(activityIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(activityIDs)+1)
	args = append(args, collection)
	for _, id := range activityIDs {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(cctx, `
		UPDATE tier_records
		SET access_count = access_count + 1, version = version + 1
		WHERE collection = ? AND activity_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("sqlite: increment access: %w", err)
	}
	return nil
}
