package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ubc-systopia/indaleko/internal/storage"
	"github.com/ubc-systopia/indaleko/internal/types"
)

// File reference numbers are uint64; SQLite integers are signed. The bit
// pattern is preserved by converting through int64 on both sides.

// GetEntityByRef looks up the entity owning (volume, file_reference).
func (s *Store) GetEntityByRef(ctx context.Context, volume string, fileReference uint64) (*types.Entity, error) {
	cctx, cancel := s.shortCtx(ctx)
	defer cancel()
	return s.scanEntity(s.db.QueryRowContext(cctx, `
		SELECT entity_id, volume, file_reference, path, prior_paths, created_at, updated_at
		FROM entities WHERE volume = ? AND file_reference = ?`,
		volume, int64(fileReference)))
}

// GetEntity looks up an entity by id.
func (s *Store) GetEntity(ctx context.Context, entityID string) (*types.Entity, error) {
	cctx, cancel := s.shortCtx(ctx)
	defer cancel()
	return s.scanEntity(s.db.QueryRowContext(cctx, `
		SELECT entity_id, volume, file_reference, path, prior_paths, created_at, updated_at
		FROM entities WHERE entity_id = ?`, entityID))
}

func (s *Store) scanEntity(row *sql.Row) (*types.Entity, error) {
	var e types.Entity
	var fileRef, createdAt, updatedAt int64
	var priorPaths string
	err := row.Scan(&e.EntityID, &e.Volume, &fileRef, &e.Path, &priorPaths, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan entity: %w", err)
	}
	e.FileReference = uint64(fileRef)
	e.CreatedAt = fromNanos(createdAt)
	e.UpdatedAt = fromNanos(updatedAt)
	if err := json.Unmarshal([]byte(priorPaths), &e.PriorPaths); err != nil {
		return nil, fmt.Errorf("sqlite: decode prior_paths: %w", err)
	}
	return &e, nil
}

// SaveEntity upserts resolver state. Entities are never destroyed, so the
// conflict path only ever updates the mutable columns.
func (s *Store) SaveEntity(ctx context.Context, e *types.Entity) error {
	if e.EntityID == "" {
		return fmt.Errorf("sqlite: entity missing entity_id")
	}
	priorPaths, err := json.Marshal(e.PriorPaths)
	if err != nil {
		return fmt.Errorf("sqlite: encode prior_paths: %w", err)
	}
	cctx, cancel := s.shortCtx(ctx)
	defer cancel()

	_, err = s.db.ExecContext(cctx, `
		INSERT INTO entities (entity_id, volume, file_reference, path, prior_paths, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity_id) DO UPDATE SET
			file_reference = excluded.file_reference,
			path = excluded.path,
			prior_paths = excluded.prior_paths,
			updated_at = excluded.updated_at`,
		e.EntityID, e.Volume, int64(e.FileReference), e.Path, string(priorPaths),
		nanos(e.CreatedAt), nanos(e.UpdatedAt))
	if err != nil {
		return fmt.Errorf("sqlite: save entity: %w", err)
	}
	return nil
}
