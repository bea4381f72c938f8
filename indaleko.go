// Package indaleko provides a minimal public API for embedding the
// activity pipeline in other Go programs.
//
// Most consumers should run the indaleko CLI and query the database
// directly. This package exports only the essential types and
// constructors needed to drive the storage layer and hot-tier recorder
// programmatically.
package indaleko

import (
	"context"

	"github.com/ubc-systopia/indaleko/internal/storage"
	"github.com/ubc-systopia/indaleko/internal/storage/sqlite"
	"github.com/ubc-systopia/indaleko/internal/types"
)

// Core types for working with activities
type (
	Activity   = types.Activity
	TierRecord = types.TierRecord
	Entity     = types.Entity
	Statistics = types.Statistics
	Tier       = types.Tier
)

// Tier constants
const (
	TierHot  = types.TierHot
	TierWarm = types.TierWarm
	TierCold = types.TierCold
)

// ActivityType constants
const (
	ActivityCreate = types.ActivityCreate
	ActivityDelete = types.ActivityDelete
	ActivityRename = types.ActivityRename
	ActivityModify = types.ActivityModify
)

// Storage is the tier-record storage contract.
type Storage = storage.Storage

// Sentinel errors from the storage layer.
var (
	ErrNotFound  = storage.ErrNotFound
	ErrDuplicate = storage.ErrDuplicate
)

// OpenSQLite opens (or creates) an embedded database at path.
// Use ":memory:" for an in-memory database.
func OpenSQLite(ctx context.Context, path string) (Storage, error) {
	return sqlite.New(ctx, path)
}
