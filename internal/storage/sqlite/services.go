package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ubc-systopia/indaleko/internal/storage"
)

// RegisterService records a service and assigns its collection name.
// Registration is idempotent by uuid: re-registering returns the original
// collection assignment, updating the mutable fields (version,
// description).
func (s *Store) RegisterService(ctx context.Context, reg storage.ServiceRegistration) (*storage.ServiceRecord, error) {
	if reg.UUID == "" || reg.Name == "" {
		return nil, fmt.Errorf("sqlite: service registration requires name and uuid")
	}
	cctx, cancel := s.shortCtx(ctx)
	defer cancel()

	existing, err := s.lookupService(cctx, reg.UUID)
	if err == nil {
		_, uerr := s.db.ExecContext(cctx, `
			UPDATE services SET name = ?, version = ?, description = ?, type = ?
			WHERE uuid = ?`,
			reg.Name, reg.Version, reg.Description, reg.Type, reg.UUID)
		if uerr != nil {
			return nil, fmt.Errorf("sqlite: update service: %w", uerr)
		}
		existing.ServiceRegistration = reg
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	record := &storage.ServiceRecord{
		ServiceRegistration: reg,
		Collection:          collectionFor(reg),
		RegisteredAt:        time.Now().UTC(),
	}
	_, err = s.db.ExecContext(cctx, `
		INSERT INTO services (uuid, name, version, description, type, collection, registered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		reg.UUID, reg.Name, reg.Version, reg.Description, reg.Type,
		record.Collection, nanos(record.RegisteredAt))
	if err != nil {
		// Lost a race with a concurrent registration of the same uuid.
		if rec, lerr := s.lookupService(cctx, reg.UUID); lerr == nil {
			return rec, nil
		}
		return nil, fmt.Errorf("sqlite: register service: %w", err)
	}
	return record, nil
}

func (s *Store) lookupService(ctx context.Context, uuid string) (*storage.ServiceRecord, error) {
	var rec storage.ServiceRecord
	var registeredAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT uuid, name, version, description, type, collection, registered_at
		FROM services WHERE uuid = ?`, uuid).
		Scan(&rec.UUID, &rec.Name, &rec.Version, &rec.Description, &rec.Type,
			&rec.Collection, &registeredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: service %s", storage.ErrNotFound, uuid)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: lookup service: %w", err)
	}
	rec.RegisteredAt = fromNanos(registeredAt)
	return &rec, nil
}

// collectionFor derives the assigned collection name from the service
// uuid: activity_<8-char-uuid-prefix>. Names are never hard-coded by the
// recorder, so multiple recorders coexist in one database.
func collectionFor(reg storage.ServiceRegistration) string {
	id := strings.ReplaceAll(reg.UUID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return "activity_" + strings.ToLower(id)
}
