// Package runner drives the full pipeline: collection cycles on one
// goroutine, consolidation passes on another, with auto-reset when a
// volume's journal goes quiet or errors pile up.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/ubc-systopia/indaleko/internal/collector"
	"github.com/ubc-systopia/indaleko/internal/consolidate"
	"github.com/ubc-systopia/indaleko/internal/jsonl"
	"github.com/ubc-systopia/indaleko/internal/recorder"
	"github.com/ubc-systopia/indaleko/internal/telemetry"
	"github.com/ubc-systopia/indaleko/internal/types"
)

const (
	// DefaultConsolidateEvery is the consolidation cadence.
	DefaultConsolidateEvery = time.Hour
	// ShutdownGrace bounds the final drain after the run context ends.
	ShutdownGrace = 30 * time.Second
)

// Config controls one run.
type Config struct {
	// Interval between collection cycles; also the per-cycle budget.
	Interval time.Duration
	// Duration bounds the whole run; 0 runs until the context ends.
	Duration time.Duration
	// ConsolidateEvery is the consolidation cadence (default hourly).
	ConsolidateEvery time.Duration

	AutoReset             bool
	ErrorThreshold        int
	EmptyResultsThreshold int

	BackupToFiles bool
	BackupDir     string
	MaxFileSizeMB int
	UseStateFile  bool

	// FileOnly runs without a database: activities go to backup files
	// only. Set when storage failed to open and the operator chose to
	// keep collecting.
	FileOnly bool
}

// Stats is a snapshot of one run's progress.
type Stats struct {
	Cycles          int64
	Activities      int64
	StoreFailures   int64
	Resets          int64
	ConsolidateRuns int64
}

// Runner wires collector, recorder and consolidator into a run loop.
type Runner struct {
	cfg  Config
	col  *collector.Collector
	rec  *recorder.Recorder          // nil in file-only mode
	cons *consolidate.Consolidator   // nil in file-only mode
	log  *slog.Logger

	mu      sync.Mutex
	backups map[string]*jsonl.BackupWriter
	stats   Stats

	errorStreak int
	emptyStreak int

	cycleCounter    metric.Int64Counter
	activityCounter metric.Int64Counter
	cycleDur        metric.Float64Histogram
}

// New builds a runner. rec and cons must be nil together (file-only mode)
// or set together.
func New(cfg Config, col *collector.Collector, rec *recorder.Recorder, cons *consolidate.Consolidator, log *slog.Logger) (*Runner, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("runner: interval must be positive")
	}
	if cfg.ConsolidateEvery <= 0 {
		cfg.ConsolidateEvery = DefaultConsolidateEvery
	}
	if (rec == nil) != cfg.FileOnly {
		return nil, fmt.Errorf("runner: recorder required unless file-only")
	}
	if cfg.FileOnly && !cfg.BackupToFiles {
		return nil, fmt.Errorf("runner: file-only mode requires backups enabled")
	}

	m := telemetry.Meter("github.com/ubc-systopia/indaleko/runner")
	cycles, _ := m.Int64Counter("indaleko.runner.cycles",
		metric.WithDescription("Collection cycles completed"))
	acts, _ := m.Int64Counter("indaleko.runner.activities",
		metric.WithDescription("Activities collected"))
	dur, _ := m.Float64Histogram("indaleko.runner.cycle.duration",
		metric.WithDescription("Collection cycle duration in milliseconds"),
		metric.WithUnit("ms"))

	if rec != nil {
		// Collector and reader errors surface through get_statistics
		// alongside the recorder's own count.
		rec.AddErrorSource(col.ErrorCount)
	}

	return &Runner{
		cfg:             cfg,
		col:             col,
		rec:             rec,
		cons:            cons,
		log:             log,
		backups:         make(map[string]*jsonl.BackupWriter),
		cycleCounter:    cycles,
		activityCounter: acts,
		cycleDur:        dur,
	}, nil
}

// Stats returns a snapshot of run progress.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Run executes the pipeline until the context ends or the configured
// duration elapses. The ingest and consolidation loops run concurrently;
// a failure in one stops the other.
func (r *Runner) Run(ctx context.Context) error {
	if !r.cfg.UseStateFile {
		r.log.Info("cursor durability off: restart will resume from the journals' current position")
	}
	if r.cfg.FileOnly {
		r.log.Warn("running without a database: activities go to backup files only")
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if r.cfg.Duration > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.Duration)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return r.ingestLoop(gctx) })
	if r.cons != nil {
		g.Go(func() error { return r.consolidateLoop(gctx) })
	}
	err := g.Wait()

	r.drain()

	// Ending because the clock or a signal ran out is a normal stop.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// ingestLoop runs one collection cycle per interval, first cycle
// immediately. Each cycle's budget is the interval itself; a cycle that
// cannot keep up is cut off rather than allowed to back up the schedule.
func (r *Runner) ingestLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		r.runCycle(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Runner) runCycle(ctx context.Context) {
	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, r.cfg.Interval)
	defer cancel()

	batches, crashed, err := r.collect(cctx)
	if crashed {
		// A crash inside a reader is structural: reset unconditionally
		// and retry once, bypassing the streak counters.
		r.log.Error("collection crashed, resetting state", "error", err)
		r.col.ResetState()
		r.mu.Lock()
		r.stats.Resets++
		r.mu.Unlock()
		batches, crashed, err = r.collect(cctx)
		if crashed {
			r.log.Error("collection crashed again after reset, skipping cycle", "error", err)
			return
		}
	}
	cycleErr := err != nil
	var collected int64

	// Backups and stores finish the in-flight batch even when the run
	// context is cancelled mid-cycle; the shutdown grace bounds them.
	sctx, scancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownGrace)
	defer scancel()

	for _, batch := range batches {
		collected += int64(len(batch.Activities))
		if r.cfg.BackupToFiles {
			if _, berr := r.backup(batch); berr != nil {
				cycleErr = true
				r.log.Warn("backup write failed", "volume", batch.Volume, "error", berr)
			}
		}
		if r.rec != nil {
			if _, serr := r.rec.StoreActivities(sctx, batch); serr != nil {
				cycleErr = true
				r.mu.Lock()
				r.stats.StoreFailures++
				r.mu.Unlock()
				r.log.Warn("hot tier store failed", "volume", batch.Volume, "error", serr)
			}
		}
	}

	r.mu.Lock()
	r.stats.Cycles++
	r.stats.Activities += collected
	r.mu.Unlock()

	elapsed := time.Since(start)
	r.cycleCounter.Add(ctx, 1)
	r.activityCounter.Add(ctx, collected,
		metric.WithAttributes(attribute.Bool("backed_up", r.cfg.BackupToFiles)))
	r.cycleDur.Record(ctx, float64(elapsed.Milliseconds()))
	r.log.Debug("cycle complete", "activities", collected, "elapsed", elapsed, "errored", cycleErr)

	r.trackStreaks(cycleErr, collected == 0)
}

// collect runs one collection pass, converting a crash inside a reader
// into an error so the cycle can reset and retry instead of dying.
func (r *Runner) collect(ctx context.Context) (batches []*types.Batch, crashed bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			crashed = true
			err = fmt.Errorf("collection crashed: %v", p)
		}
	}()
	batches, err = r.col.Collect(ctx)
	return batches, false, err
}

// trackStreaks updates the consecutive-failure and consecutive-empty
// counters and triggers at most one reset per threshold crossing.
func (r *Runner) trackStreaks(errored, empty bool) {
	if errored {
		r.errorStreak++
	} else {
		r.errorStreak = 0
	}
	if empty {
		r.emptyStreak++
	} else {
		r.emptyStreak = 0
	}
	if !r.cfg.AutoReset {
		return
	}

	var reason string
	switch {
	case r.cfg.ErrorThreshold > 0 && r.errorStreak >= r.cfg.ErrorThreshold:
		reason = fmt.Sprintf("%d consecutive cycle errors", r.errorStreak)
	case r.cfg.EmptyResultsThreshold > 0 && r.emptyStreak >= r.cfg.EmptyResultsThreshold:
		reason = fmt.Sprintf("%d consecutive empty cycles", r.emptyStreak)
	default:
		return
	}

	r.log.Warn("auto-reset triggered", "reason", reason)
	r.col.ResetState()
	r.errorStreak = 0
	r.emptyStreak = 0
	r.mu.Lock()
	r.stats.Resets++
	r.mu.Unlock()
}

// consolidateLoop runs tier consolidation on its own cadence.
func (r *Runner) consolidateLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.ConsolidateEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if _, err := r.cons.Run(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Warn("consolidation pass failed", "error", err)
			continue
		}
		r.mu.Lock()
		r.stats.ConsolidateRuns++
		r.mu.Unlock()
	}
}

// backup appends the batch to the per-volume backup file.
func (r *Runner) backup(batch *types.Batch) (string, error) {
	r.mu.Lock()
	w, ok := r.backups[batch.Volume]
	if !ok {
		var err error
		w, err = jsonl.NewBackupWriter(r.cfg.BackupDir, batch.Volume, r.cfg.MaxFileSizeMB)
		if err != nil {
			r.mu.Unlock()
			return "", err
		}
		r.backups[batch.Volume] = w
	}
	r.mu.Unlock()
	return w.WriteBatch(batch)
}

// drain performs the bounded shutdown work: a final consolidation pass
// when a consolidator exists, then backup file close.
func (r *Runner) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownGrace)
	defer cancel()

	if r.cons != nil {
		if _, err := r.cons.Run(ctx); err != nil {
			r.log.Warn("final consolidation pass failed", "error", err)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for volume, w := range r.backups {
		if err := w.Close(); err != nil {
			r.log.Warn("backup close failed", "volume", volume, "error", err)
		}
	}
	r.backups = make(map[string]*jsonl.BackupWriter)
	s := r.stats
	r.log.Info("run complete", "cycles", s.Cycles, "activities", s.Activities,
		"resets", s.Resets, "consolidation_runs", s.ConsolidateRuns)
}
