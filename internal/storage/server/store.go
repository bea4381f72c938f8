// Package server implements the storage interface against an external
// MySQL-wire database (a MySQL or Dolt SQL server). The embedded sqlite
// backend is the default; this backend exists for deployments where the
// graph database lives on another host and several recorders share it.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"

	"github.com/ubc-systopia/indaleko/internal/jsonl"
	"github.com/ubc-systopia/indaleko/internal/storage"
	"github.com/ubc-systopia/indaleko/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS services (
    uuid VARCHAR(64) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    version VARCHAR(64) NOT NULL DEFAULT '',
    description TEXT,
    type VARCHAR(64) NOT NULL DEFAULT '',
    collection VARCHAR(128) NOT NULL UNIQUE,
    registered_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS tier_records (
    collection VARCHAR(128) NOT NULL,
    activity_id VARCHAR(64) NOT NULL,
    tier VARCHAR(8) NOT NULL,
    entity_id VARCHAR(64) NOT NULL DEFAULT '',
    version BIGINT NOT NULL DEFAULT 1,
    timestamp BIGINT NOT NULL,
    inserted_at BIGINT NOT NULL,
    expires_at BIGINT NULL,
    importance DOUBLE NOT NULL,
    activity_type VARCHAR(32) NOT NULL,
    file_path TEXT,
    volume VARCHAR(255) NOT NULL DEFAULT '',
    access_count BIGINT NOT NULL DEFAULT 0,
    activity LONGTEXT NOT NULL,
    back_refs LONGTEXT NOT NULL,
    PRIMARY KEY (collection, activity_id),
    INDEX idx_tier_records_expires (collection, tier, expires_at),
    INDEX idx_tier_records_timestamp (collection, tier, timestamp),
    INDEX idx_tier_records_entity (collection, tier, entity_id)
);

CREATE TABLE IF NOT EXISTS entities (
    entity_id VARCHAR(64) PRIMARY KEY,
    volume VARCHAR(255) NOT NULL,
    file_reference BIGINT NOT NULL,
    path TEXT NOT NULL,
    prior_paths LONGTEXT NOT NULL,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL,
    UNIQUE KEY uq_entities_ref (volume, file_reference)
);
`

// Store implements storage.Storage over the MySQL wire protocol.
type Store struct {
	db *sql.DB

	shortTimeout      time.Duration
	analyticalTimeout time.Duration
}

// New connects to the server named by the DSN and applies the schema.
// Connection establishment is retried with exponential backoff; an
// unreachable server is a transient error up to the retry budget, then
// fatal to startup.
func New(ctx context.Context, dsn string) (*Store, error) {
	if _, err := mysql.ParseDSN(dsn); err != nil {
		return nil, fmt.Errorf("server: bad DSN: %w", err)
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("server: open: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	if err := backoff.Retry(func() error { return db.PingContext(ctx) }, policy); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("server: ping: %w", err)
	}

	// MySQL executes one statement per Exec.
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("server: apply schema: %w", err)
		}
	}

	return &Store{
		db:                db,
		shortTimeout:      storage.DefaultShortTimeout,
		analyticalTimeout: storage.DefaultAnalyticalTimeout,
	}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func nanos(t time.Time) int64     { return t.UTC().UnixNano() }
func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func (s *Store) shortCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.shortTimeout)
}

func (s *Store) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.analyticalTimeout)
}

// RegisterService mirrors the sqlite backend: idempotent by uuid.
func (s *Store) RegisterService(ctx context.Context, reg storage.ServiceRegistration) (*storage.ServiceRecord, error) {
	if reg.UUID == "" || reg.Name == "" {
		return nil, fmt.Errorf("server: service registration requires name and uuid")
	}
	cctx, cancel := s.shortCtx(ctx)
	defer cancel()

	collection := "activity_" + strings.ToLower(strings.ReplaceAll(reg.UUID, "-", ""))
	if len(collection) > 17 {
		collection = collection[:17]
	}
	registeredAt := time.Now().UTC()
	_, err := s.db.ExecContext(cctx, `
		INSERT INTO services (uuid, name, version, description, type, collection, registered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			name = VALUES(name), version = VALUES(version),
			description = VALUES(description), type = VALUES(type)`,
		reg.UUID, reg.Name, reg.Version, reg.Description, reg.Type,
		collection, nanos(registeredAt))
	if err != nil {
		return nil, fmt.Errorf("server: register service: %w", err)
	}

	rec := &storage.ServiceRecord{ServiceRegistration: reg}
	var regAt int64
	err = s.db.QueryRowContext(cctx,
		`SELECT collection, registered_at FROM services WHERE uuid = ?`, reg.UUID).
		Scan(&rec.Collection, &regAt)
	if err != nil {
		return nil, fmt.Errorf("server: lookup service: %w", err)
	}
	rec.RegisteredAt = fromNanos(regAt)
	return rec, nil
}

// StoreRecords persists a batch with per-record error isolation, matching
// the sqlite backend's semantics.
func (s *Store) StoreRecords(ctx context.Context, collection string, records []*types.TierRecord) (storage.StoreResult, error) {
	res := storage.StoreResult{}
	if len(records) == 0 {
		return res, nil
	}
	cctx, cancel := s.shortCtx(ctx)
	defer cancel()

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
		out, err := s.db.ExecContext(cctx, `
			INSERT IGNORE INTO tier_records
				(collection, activity_id, tier, entity_id, version, timestamp,
				 inserted_at, expires_at, importance, activity_type, file_path,
				 volume, access_count, activity, back_refs)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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

func (s *Store) GetRecent(ctx context.Context, collection string, since time.Time, limit int) ([]*types.Activity, error) {
	if limit <= 0 {
		limit = 100
	}
	cctx, cancel := s.queryCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(cctx, `
		SELECT activity FROM tier_records
		WHERE collection = ? AND timestamp >= ?
		  AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY timestamp DESC LIMIT ?`,
		collection, nanos(since), nanos(time.Now()), limit)
	if err != nil {
		return nil, fmt.Errorf("server: query recent: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Activity
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		a, err := jsonl.UnmarshalActivity([]byte(doc))
		if err != nil {
			return nil, fmt.Errorf("server: decode stored activity: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

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
		return nil, fmt.Errorf("server: count records: %w", err)
	}

	rows, err := s.db.QueryContext(cctx, `
		SELECT activity_type, COUNT(*) FROM tier_records
		WHERE collection = ? AND (expires_at IS NULL OR expires_at > ?)
		GROUP BY activity_type`, collection, now)
	if err != nil {
		return nil, fmt.Errorf("server: stats by type: %w", err)
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
		SELECT LEAST(FLOOR(importance * 10), 9) AS bucket, COUNT(*)
		FROM tier_records
		WHERE collection = ? AND (expires_at IS NULL OR expires_at > ?)
		GROUP BY bucket`, collection, now)
	if err != nil {
		return nil, fmt.Errorf("server: stats by importance: %w", err)
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
		SELECT DATE_FORMAT(FROM_UNIXTIME(timestamp DIV 1000000000), '%Y-%m-%d'), COUNT(*)
		FROM tier_records
		WHERE collection = ? AND (expires_at IS NULL OR expires_at > ?)
		GROUP BY 1`, collection, now)
	if err != nil {
		return nil, fmt.Errorf("server: stats by day: %w", err)
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
		ORDER BY expires_at ASC LIMIT ?`,
		collection, string(tier), nanos(before), limit)
	if err != nil {
		return nil, fmt.Errorf("server: query expiring: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.TierRecord
	for rows.Next() {
		var doc, tierVal, backRefs string
		var version, insertedAt, accessCount int64
		var expiresAt sql.NullInt64
		if err := rows.Scan(&doc, &tierVal, &version, &insertedAt, &expiresAt, &backRefs, &accessCount); err != nil {
			return nil, err
		}
		a, err := jsonl.UnmarshalActivity([]byte(doc))
		if err != nil {
			return nil, fmt.Errorf("server: decode stored activity: %w", err)
		}
		a.AccessCount = accessCount
		rec := &types.TierRecord{
			Activity:   a,
			Tier:       types.Tier(tierVal),
			Version:    version,
			InsertedAt: fromNanos(insertedAt),
		}
		if expiresAt.Valid {
			t := fromNanos(expiresAt.Int64)
			rec.ExpiresAt = &t
		}
		if err := json.Unmarshal([]byte(backRefs), &rec.BackRefs); err != nil {
			return nil, fmt.Errorf("server: decode back_refs: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) DeleteRecord(ctx context.Context, collection string, tier types.Tier, activityID string) error {
	cctx, cancel := s.shortCtx(ctx)
	defer cancel()

	out, err := s.db.ExecContext(cctx, `
		DELETE FROM tier_records
		WHERE collection = ? AND activity_id = ? AND tier = ?`,
		collection, activityID, string(tier))
	if err != nil {
		return fmt.Errorf("server: delete record: %w", err)
	}
	if n, _ := out.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s/%s", storage.ErrNotFound, collection, activityID)
	}
	return nil
}

func (s *Store) PurgeExpired(ctx context.Context, collection string) (int64, error) {
	cctx, cancel := s.queryCtx(ctx)
	defer cancel()

	out, err := s.db.ExecContext(cctx, `
		DELETE FROM tier_records
		WHERE collection = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		collection, nanos(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("server: purge expired: %w", err)
	}
	n, _ := out.RowsAffected()
	return n, nil
}

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
		return 0, fmt.Errorf("server: count records: %w", err)
	}
	return n, nil
}

func (s *Store) IncrementAccess(ctx context.Context, collection string, activityIDs []string) error {
	if len(activityIDs) == 0 {
		return nil
	}
	cctx, cancel := s.shortCtx(ctx)
	defer cancel()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(activityIDs)), ",")
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
		return fmt.Errorf("server: increment access: %w", err)
	}
	return nil
}

func (s *Store) GetEntityByRef(ctx context.Context, volume string, fileReference uint64) (*types.Entity, error) {
	cctx, cancel := s.shortCtx(ctx)
	defer cancel()
	return scanEntity(s.db.QueryRowContext(cctx, `
		SELECT entity_id, volume, file_reference, path, prior_paths, created_at, updated_at
		FROM entities WHERE volume = ? AND file_reference = ?`,
		volume, int64(fileReference)))
}

func (s *Store) GetEntity(ctx context.Context, entityID string) (*types.Entity, error) {
	cctx, cancel := s.shortCtx(ctx)
	defer cancel()
	return scanEntity(s.db.QueryRowContext(cctx, `
		SELECT entity_id, volume, file_reference, path, prior_paths, created_at, updated_at
		FROM entities WHERE entity_id = ?`, entityID))
}

func scanEntity(row *sql.Row) (*types.Entity, error) {
	var e types.Entity
	var fileRef, createdAt, updatedAt int64
	var priorPaths string
	err := row.Scan(&e.EntityID, &e.Volume, &fileRef, &e.Path, &priorPaths, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("server: scan entity: %w", err)
	}
	e.FileReference = uint64(fileRef)
	e.CreatedAt = fromNanos(createdAt)
	e.UpdatedAt = fromNanos(updatedAt)
	if err := json.Unmarshal([]byte(priorPaths), &e.PriorPaths); err != nil {
		return nil, fmt.Errorf("server: decode prior_paths: %w", err)
	}
	return &e, nil
}

func (s *Store) SaveEntity(ctx context.Context, e *types.Entity) error {
	if e.EntityID == "" {
		return fmt.Errorf("server: entity missing entity_id")
	}
	priorPaths, err := json.Marshal(e.PriorPaths)
	if err != nil {
		return fmt.Errorf("server: encode prior_paths: %w", err)
	}
	cctx, cancel := s.shortCtx(ctx)
	defer cancel()

	_, err = s.db.ExecContext(cctx, `
		INSERT INTO entities (entity_id, volume, file_reference, path, prior_paths, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			file_reference = VALUES(file_reference),
			path = VALUES(path),
			prior_paths = VALUES(prior_paths),
			updated_at = VALUES(updated_at)`,
		e.EntityID, e.Volume, int64(e.FileReference), e.Path, string(priorPaths),
		nanos(e.CreatedAt), nanos(e.UpdatedAt))
	if err != nil {
		return fmt.Errorf("server: save entity: %w", err)
	}
	return nil
}
