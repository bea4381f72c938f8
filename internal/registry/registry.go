// Package registry assigns collection names to pipeline services.
//
// A service registers by name; its uuid is derived deterministically from
// the name so re-registration after a restart lands on the same row and
// keeps the same collection. Collection names are never hard-coded by
// writers; they always come from here.
package registry

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ubc-systopia/indaleko/internal/storage"
)

// namespace seeds the v5 uuid derivation for service identities.
var namespace = uuid.MustParse("9a1c9b52-74f5-4d3a-9c3e-1f6a36cf3d5b")

// ServiceUUID returns the stable uuid for a service name.
func ServiceUUID(name string) string {
	return uuid.NewSHA1(namespace, []byte(name)).String()
}

// registryStore is the slice of storage the registry needs.
type registryStore interface {
	RegisterService(ctx context.Context, reg storage.ServiceRegistration) (*storage.ServiceRecord, error)
}

// Registration describes one service, minus the uuid the registry derives.
type Registration struct {
	Name        string
	Version     string
	Description string
	Type        string
}

// Register registers (or re-registers) a service and returns its record,
// including the assigned collection name.
func Register(ctx context.Context, store registryStore, r Registration) (*storage.ServiceRecord, error) {
	if r.Name == "" {
		return nil, fmt.Errorf("registry: service name required")
	}
	rec, err := store.RegisterService(ctx, storage.ServiceRegistration{
		Name:        r.Name,
		UUID:        ServiceUUID(r.Name),
		Version:     r.Version,
		Description: r.Description,
		Type:        r.Type,
	})
	if err != nil {
		return nil, fmt.Errorf("registry: register %s: %w", r.Name, err)
	}
	return rec, nil
}
