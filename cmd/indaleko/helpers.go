package main

import (
	"log/slog"

	"github.com/ubc-systopia/indaleko/internal/config"
	"github.com/ubc-systopia/indaleko/internal/recorder"
	"github.com/ubc-systopia/indaleko/internal/score"
	"github.com/ubc-systopia/indaleko/internal/storage"
)

// newRecorder binds a recorder to the standard service identity, so every
// command addresses the same hot collection.
func newRecorder(store storage.Storage, cfg *config.Config) (*recorder.Recorder, error) {
	return recorder.New(rootCtx, store, score.NewDefault(), recorder.Config{
		ServiceName: "ntfs_activity_recorder",
		Version:     Version,
		Description: "NTFS change journal hot tier recorder",
		HotTTL:      cfg.HotTTL(),
	}, slog.Default())
}
