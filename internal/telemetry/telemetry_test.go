package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ubc-systopia/indaleko/internal/storage"
	"github.com/ubc-systopia/indaleko/internal/storage/sqlite"
)

func TestEnabledDefaultsOff(t *testing.T) {
	t.Setenv("INDALEKO_OTEL_ENABLED", "")
	assert.False(t, Enabled())

	t.Setenv("INDALEKO_OTEL_ENABLED", "true")
	assert.True(t, Enabled())

	t.Setenv("INDALEKO_OTEL_ENABLED", "1")
	assert.False(t, Enabled())
}

func TestInitDisabledIsNoop(t *testing.T) {
	t.Setenv("INDALEKO_OTEL_ENABLED", "")
	require.NoError(t, Init(context.Background(), "indaleko-test", "dev"))
	Shutdown(context.Background())
}

func TestWrapStorageDisabledPassthrough(t *testing.T) {
	t.Setenv("INDALEKO_OTEL_ENABLED", "")

	s, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	var base storage.Storage = s
	assert.Same(t, base, WrapStorage(base))
}

func TestWrapStorageEnabledWraps(t *testing.T) {
	t.Setenv("INDALEKO_OTEL_ENABLED", "true")

	s, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	wrapped := WrapStorage(s)
	assert.NotSame(t, storage.Storage(s), wrapped)

	// The wrapper is a faithful Storage: a simple call passes through.
	_, err = wrapped.CountRecords(context.Background(), "activity_test", "hot")
	assert.NoError(t, err)
}
