// Package storage provides shared types for tier-record storage.
//
// Concrete backends live in the sqlite (embedded) and server (MySQL wire)
// sub-packages. This package holds the interface and value types referenced
// by both the backends and their consumers (recorder, consolidator,
// resolver, CLI), plus connection-string parsing.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ubc-systopia/indaleko/internal/types"
)

// ErrNotFound is returned when a requested record or entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned by single-record paths when the primary key
// already exists. Batch stores swallow duplicates and count them instead.
var ErrDuplicate = errors.New("duplicate record")

// ErrCollectionNotRegistered is returned when a collection name was never
// assigned by the registration service.
var ErrCollectionNotRegistered = errors.New("collection not registered")

// Default operation timeouts. Short ops cover single-record writes and
// point reads; the analytical timeout covers statistics and consolidation
// scans.
const (
	DefaultShortTimeout      = 10 * time.Second
	DefaultAnalyticalTimeout = 300 * time.Second
)

// ServiceRegistration is what a recorder submits on startup.
type ServiceRegistration struct {
	Name        string `json:"service_name"`
	UUID        string `json:"service_uuid"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

// ServiceRecord is the registry's answer: the registration plus the
// collection the service writes to. Re-registration with the same uuid
// returns the same collection.
type ServiceRecord struct {
	ServiceRegistration
	Collection   string    `json:"collection"`
	RegisteredAt time.Time `json:"registered_at"`
}

// StoreResult reports a batch store. Database errors on single records do
// not fail the batch; the failed count and the ids of the successfully
// written subset come back instead.
type StoreResult struct {
	StoredIDs  []string
	Duplicates int
	Failed     int
}

// Storage is the contract satisfied by the sqlite and server backends.
//
// TTL is enforced on the read side: every reader filters on expiry, and
// PurgeExpired deletes rows whose TTL has fired. All timestamps cross the
// boundary in UTC.
type Storage interface {
	// Service registry
	RegisterService(ctx context.Context, reg ServiceRegistration) (*ServiceRecord, error)

	// Tier records
	StoreRecords(ctx context.Context, collection string, records []*types.TierRecord) (StoreResult, error)
	GetRecent(ctx context.Context, collection string, since time.Time, limit int) ([]*types.Activity, error)
	GetStatistics(ctx context.Context, collection string) (*types.Statistics, error)
	ExpiringRecords(ctx context.Context, collection string, tier types.Tier, before time.Time, limit int) ([]*types.TierRecord, error)
	DeleteRecord(ctx context.Context, collection string, tier types.Tier, activityID string) error
	PurgeExpired(ctx context.Context, collection string) (int64, error)
	CountRecords(ctx context.Context, collection string, tier types.Tier) (int64, error)
	IncrementAccess(ctx context.Context, collection string, activityIDs []string) error

	// Entity state
	GetEntityByRef(ctx context.Context, volume string, fileReference uint64) (*types.Entity, error)
	GetEntity(ctx context.Context, entityID string) (*types.Entity, error)
	SaveEntity(ctx context.Context, e *types.Entity) error

	// Lifecycle
	Close() error
}
