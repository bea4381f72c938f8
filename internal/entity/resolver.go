// Package entity maintains stable file identity across renames and moves.
//
// The resolver maps (volume, file_reference_number) onto an entity_id that
// survives renames. State is held in memory and written through to the
// entities table so identity survives process restarts. Entities are never
// destroyed; tombstoning is out of scope.
package entity

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ubc-systopia/indaleko/internal/storage"
	"github.com/ubc-systopia/indaleko/internal/types"
)

// DefaultRenameWindow is how long an orphaned RENAME_OLD_NAME stays
// eligible for probable-rename matching against a later NEW.
const DefaultRenameWindow = 60 * time.Second

// Store is the slice of storage the resolver needs.
type Store interface {
	GetEntityByRef(ctx context.Context, volume string, fileReference uint64) (*types.Entity, error)
	SaveEntity(ctx context.Context, e *types.Entity) error
}

type refKey struct {
	volume string
	ref    uint64
}

// pendingOld is an orphaned rename-old-name sighting awaiting its NEW half.
type pendingOld struct {
	entityID string
	path     string
	seenAt   time.Time
}

// Resolver resolves and mutates entity identity. Safe for concurrent use,
// though the pipeline drives it from a single collector goroutine.
type Resolver struct {
	store  Store
	window time.Duration

	mu      sync.Mutex
	cache   map[refKey]*types.Entity
	pending map[string]pendingOld // basename → orphaned OLD
}

// NewResolver builds a resolver over the given store. window <= 0 uses
// DefaultRenameWindow.
func NewResolver(store Store, window time.Duration) *Resolver {
	if window <= 0 {
		window = DefaultRenameWindow
	}
	return &Resolver{
		store:   store,
		window:  window,
		cache:   make(map[refKey]*types.Entity),
		pending: make(map[string]pendingOld),
	}
}

// Resolve returns the entity id owning (volume, ref), creating the entity
// on first sighting.
func (r *Resolver) Resolve(ctx context.Context, volume string, ref uint64, path string, seenAt time.Time) (string, error) {
	e, err := r.lookup(ctx, volume, ref, path, seenAt)
	if err != nil {
		return "", err
	}
	return e.EntityID, nil
}

// Rename records a paired rename: the entity's path moves to newPath and
// the old path joins prior_paths with its validity window. The entity id
// is unchanged — that is the whole point.
func (r *Resolver) Rename(ctx context.Context, volume string, ref uint64, oldPath, newPath string, seenAt time.Time) (string, error) {
	e, err := r.lookup(ctx, volume, ref, oldPath, seenAt)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	from := e.UpdatedAt
	if from.IsZero() || from.After(seenAt) {
		from = e.CreatedAt
	}
	e.PriorPaths = append(e.PriorPaths, types.PathSpan{Path: oldPath, From: from, To: seenAt})
	e.Path = newPath
	e.UpdatedAt = seenAt
	r.mu.Unlock()

	if err := r.store.SaveEntity(ctx, e); err != nil {
		return "", fmt.Errorf("entity: persist rename: %w", err)
	}
	return e.EntityID, nil
}

// NoteOldName records an orphaned RENAME_OLD_NAME whose NEW half was not
// in the same batch. A later ResolveNewName within the window can link to
// it by basename.
func (r *Resolver) NoteOldName(volume string, ref uint64, path string, seenAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked(seenAt)
	entityID := ""
	if e, ok := r.cache[refKey{volume, ref}]; ok {
		entityID = e.EntityID
	}
	r.pending[filepath.Base(path)] = pendingOld{entityID: entityID, path: path, seenAt: seenAt}
}

// ResolveNewName handles a RENAME_NEW_NAME whose OLD half was lost. A new
// entity is created; when an orphaned OLD with the same basename sits
// inside the window, its entity id comes back as probableRenameOf.
func (r *Resolver) ResolveNewName(ctx context.Context, volume string, ref uint64, path string, seenAt time.Time) (entityID, probableRenameOf string, err error) {
	r.mu.Lock()
	r.sweepLocked(seenAt)
	if old, ok := r.pending[filepath.Base(path)]; ok && seenAt.Sub(old.seenAt) <= r.window {
		probableRenameOf = old.entityID
		delete(r.pending, filepath.Base(path))
	}
	r.mu.Unlock()

	entityID, err = r.Resolve(ctx, volume, ref, path, seenAt)
	return entityID, probableRenameOf, err
}

// ResetState drops the in-memory cache and pending window. Durable entity
// rows are untouched; the next lookup repopulates from the store.
func (r *Resolver) ResetState() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[refKey]*types.Entity)
	r.pending = make(map[string]pendingOld)
}

func (r *Resolver) lookup(ctx context.Context, volume string, ref uint64, path string, seenAt time.Time) (*types.Entity, error) {
	key := refKey{volume, ref}

	r.mu.Lock()
	if e, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return e, nil
	}
	r.mu.Unlock()

	e, err := r.store.GetEntityByRef(ctx, volume, ref)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		e = &types.Entity{
			EntityID:      uuid.NewString(),
			Volume:        volume,
			FileReference: ref,
			Path:          path,
			CreatedAt:     seenAt,
			UpdatedAt:     seenAt,
		}
		if serr := r.store.SaveEntity(ctx, e); serr != nil {
			return nil, fmt.Errorf("entity: create: %w", serr)
		}
	default:
		return nil, fmt.Errorf("entity: lookup (%s, %d): %w", volume, ref, err)
	}

	r.mu.Lock()
	r.cache[key] = e
	r.mu.Unlock()
	return e, nil
}

// sweepLocked drops pending OLDs that aged out of the window.
// Caller holds r.mu.
func (r *Resolver) sweepLocked(now time.Time) {
	for base, old := range r.pending {
		if now.Sub(old.seenAt) > r.window {
			delete(r.pending, base)
		}
	}
}
