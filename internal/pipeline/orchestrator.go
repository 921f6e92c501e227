package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// PositionSyncer refreshes tracked LP positions from the chain.
type PositionSyncer interface {
	SyncAll(ctx context.Context) error
}

// HedgeSyncer evaluates and rebalances all active hedges.
type HedgeSyncer interface {
	SyncAll(ctx context.Context) error
}

// Snapshotter captures P&L snapshots for all active positions.
type Snapshotter interface {
	SnapshotAll(ctx context.Context) error
}

// Orchestrator manages the recurring jobs: the sync loop (position refresh
// followed by hedge evaluation), the snapshot loop, and cold-storage
// archival. Any of hedges, snapshots, or archiver may be nil; the
// corresponding work is skipped, which is how the restricted operating modes
// run a subset of the pipeline.
type Orchestrator struct {
	positions PositionSyncer
	hedges    HedgeSyncer
	snapshots Snapshotter
	archiver  *Archiver

	syncInterval     time.Duration
	snapshotInterval time.Duration
	archiveCron      string
	logger           *slog.Logger
}

// NewOrchestrator creates a new Orchestrator that coordinates all recurring
// jobs.
func NewOrchestrator(
	positions PositionSyncer,
	hedges HedgeSyncer,
	snapshots Snapshotter,
	archiver *Archiver,
	syncInterval time.Duration,
	snapshotInterval time.Duration,
	archiveCron string,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		positions:        positions,
		hedges:           hedges,
		snapshots:        snapshots,
		archiver:         archiver,
		syncInterval:     syncInterval,
		snapshotInterval: snapshotInterval,
		archiveCron:      archiveCron,
		logger:           logger,
	}
}

// Run starts all loops as concurrent goroutines using an errgroup. Each
// goroutine respects ctx cancellation. If any goroutine returns a non-context
// error, the errgroup cancels the shared context and Run returns that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Duration("sync_interval", o.syncInterval),
		slog.Duration("snapshot_interval", o.snapshotInterval),
		slog.String("archive_cron", o.archiveCron),
	)

	g, ctx := errgroup.WithContext(ctx)

	// 1. Position refresh + hedge evaluation on ticker, strictly in that
	// order so hedges always see current pool amounts.
	g.Go(func() error {
		o.logger.Info("starting sync loop")
		err := o.runLoop(ctx, "sync", o.syncInterval, o.syncOnce)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("sync loop: %w", err)
	})

	// 2. P&L snapshots on ticker.
	if o.snapshots != nil {
		g.Go(func() error {
			o.logger.Info("starting snapshot loop")
			err := o.runLoop(ctx, "snapshot", o.snapshotInterval, o.snapshots.SnapshotAll)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("snapshot loop: %w", err)
		})
	}

	// 3. Archiver on cron schedule.
	if o.archiver != nil {
		g.Go(func() error {
			o.logger.Info("starting archiver cron")
			err := o.archiver.RunCron(ctx, o.archiveCron)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	err := g.Wait()
	if err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}

// syncOnce refreshes positions and then evaluates hedges against the fresh
// amounts. A position-sync failure skips the hedge pass for this tick rather
// than hedging stale amounts.
func (o *Orchestrator) syncOnce(ctx context.Context) error {
	if err := o.positions.SyncAll(ctx); err != nil {
		return fmt.Errorf("position sync: %w", err)
	}
	if o.hedges == nil {
		return nil
	}
	if err := o.hedges.SyncAll(ctx); err != nil {
		return fmt.Errorf("hedge sync: %w", err)
	}
	return nil
}

// runLoop runs fn immediately and then on every tick until ctx is cancelled.
// Each run is wrapped in the transient-retry policy; a run that still fails
// after retries is logged and the loop keeps going.
func (o *Orchestrator) runLoop(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) error {
	run := func() {
		if err := retryTransient(ctx, o.logger, name, func() error { return fn(ctx) }); err != nil {
			o.logger.Error("run failed",
				slog.String("loop", name),
				slog.String("error", err.Error()),
			)
		}
	}

	run()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("loop stopped", slog.String("loop", name))
			return ctx.Err()
		case <-ticker.C:
			run()
		}
	}
}
