package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ubc-systopia/indaleko/internal/collector"
	"github.com/ubc-systopia/indaleko/internal/config"
	"github.com/ubc-systopia/indaleko/internal/consolidate"
	"github.com/ubc-systopia/indaleko/internal/entity"
	"github.com/ubc-systopia/indaleko/internal/journal"
	"github.com/ubc-systopia/indaleko/internal/lockfile"
	"github.com/ubc-systopia/indaleko/internal/recorder"
	"github.com/ubc-systopia/indaleko/internal/runner"
	"github.com/ubc-systopia/indaleko/internal/score"
	"github.com/ubc-systopia/indaleko/internal/storage"
)

var showConfig bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: collect, score, store, consolidate",
	Long: `Run collection cycles against the configured volumes until the
duration elapses or the process is interrupted. Activities are scored at
hot-tier insertion; a consolidator promotes qualifying records to warm
and cold on an hourly cadence.`,
	RunE: runPipeline,
}

func init() {
	f := runCmd.Flags()
	f.StringSlice("volumes", nil, "Volumes to monitor (e.g. C: or /home/user)")
	f.String("journal-backend", "auto", "Journal reader: auto, usn, watch, replay:<path>")
	f.Int("interval", 30, "Seconds between collection cycles")
	f.Float64("duration", 24, "Run duration in hours (0 = until interrupted)")
	f.Int("ttl-days", 4, "Hot tier TTL in days")
	f.Int("batch-size", 1000, "Max raw records pulled per volume per cycle")
	f.Bool("backup-to-files", true, "Append activities to JSONL backup files")
	f.Int("max-file-size-mb", 100, "Backup file rotation threshold")
	f.Bool("use-state-file", false, "Persist journal cursors across restarts")
	f.Bool("auto-reset", true, "Reset collection state after repeated errors or empty cycles")
	f.Int("error-threshold", 3, "Consecutive cycle errors before auto-reset")
	f.Int("empty-results-threshold", 3, "Consecutive empty cycles before auto-reset")
	f.BoolVar(&showConfig, "show-config", false, "Print the effective configuration and exit")
	rootCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	if showConfig {
		out, err := cfg.EffectiveYAML()
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	}
	if len(cfg.Volumes) == 0 {
		return fmt.Errorf("no volumes configured; pass --volumes or set them in %s", config.Root())
	}
	log := slog.Default()

	// One lock per volume: two runners must never consume the same journal.
	var locks []*lockfile.Lock
	defer func() {
		for _, l := range locks {
			_ = l.Release()
		}
	}()
	for _, vol := range cfg.Volumes {
		lock, err := lockfile.Acquire(cfg.RunDir(), vol)
		if err != nil {
			return fmt.Errorf("volume %s: %w", vol, err)
		}
		locks = append(locks, lock)
	}

	var readers []journal.Reader
	defer func() {
		for _, r := range readers {
			_ = r.Close()
		}
	}()
	for _, vol := range cfg.Volumes {
		r, err := journal.Open(cfg.JournalBackend, vol)
		if err != nil {
			return fmt.Errorf("open journal for %s: %w", vol, err)
		}
		readers = append(readers, r)
	}

	// Storage failure falls back to file-only collection when backups are
	// on: the journal keeps moving whether or not we read it, so losing
	// the window entirely is worse than collecting to files.
	var (
		store    storage.Storage
		fileOnly bool
	)
	store, err = openStorage(rootCtx, cfg)
	if err != nil {
		if !cfg.BackupToFiles {
			return fmt.Errorf("open storage: %w", err)
		}
		log.Error("storage unavailable, falling back to file-only collection", "error", err)
		fileOnly = true
	}
	if store != nil {
		defer func() { _ = store.Close() }()
	}

	var resolver *entity.Resolver
	if !fileOnly {
		resolver = entity.NewResolver(store, 0)
	} else {
		resolver = entity.NewResolver(entity.MemoryStore(), 0)
	}

	colCfg := collector.Config{BatchSize: cfg.BatchSize}
	if cfg.UseStateFile {
		colCfg.StateFile = cfg.StateFile()
		colCfg.ResumeFromFirst = true
	}
	col, err := collector.New(colCfg, readers, resolver, log)
	if err != nil {
		return err
	}

	var (
		rec  *recorder.Recorder
		cons *consolidate.Consolidator
	)
	if !fileOnly {
		scorer := score.NewDefault()
		rec, err = recorder.New(rootCtx, store, scorer, recorder.Config{
			ServiceName: "ntfs_activity_recorder",
			Version:     Version,
			Description: "NTFS change journal hot tier recorder",
			HotTTL:      cfg.HotTTL(),
		}, log)
		if err != nil {
			return err
		}
		cons, err = consolidate.New(store, scorer, consolidate.Config{
			HotCollection: rec.Collection(),
		}, log)
		if err != nil {
			return err
		}
	}

	r, err := runner.New(runner.Config{
		Interval:              cfg.Interval(),
		Duration:              cfg.Duration(),
		AutoReset:             cfg.AutoReset,
		ErrorThreshold:        cfg.ErrorThreshold,
		EmptyResultsThreshold: cfg.EmptyResultsThreshold,
		BackupToFiles:         cfg.BackupToFiles,
		BackupDir:             cfg.BackupDir(),
		MaxFileSizeMB:         cfg.MaxFileSizeMB,
		UseStateFile:          cfg.UseStateFile,
		FileOnly:              fileOnly,
	}, col, rec, cons, log)
	if err != nil {
		return err
	}

	if !quietFlag {
		printBanner(os.Stdout, cfg, fileOnly)
	}
	return r.Run(rootCtx)
}
