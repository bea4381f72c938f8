// Package factory constructs storage backends from connection strings.
// It lives apart from the storage package so that the interface package
// does not import its own implementations.
package factory

import (
	"context"
	"fmt"

	"github.com/ubc-systopia/indaleko/internal/storage"
	"github.com/ubc-systopia/indaleko/internal/storage/server"
	"github.com/ubc-systopia/indaleko/internal/storage/sqlite"
)

// Open parses the connection string and opens the matching backend.
func Open(ctx context.Context, connString string) (storage.Storage, error) {
	cs, err := storage.ParseConnString(connString)
	if err != nil {
		return nil, err
	}
	switch cs.Backend {
	case storage.BackendSQLite:
		return sqlite.New(ctx, cs.Path)
	case storage.BackendServer:
		return server.New(ctx, cs.DSN)
	}
	return nil, fmt.Errorf("storage: no backend for %q", connString)
}
