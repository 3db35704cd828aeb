package service

import (
	"context"
	"strings"
	"time"

	"github.com/wzdavid/mineru-api/internal/config"
	"github.com/wzdavid/mineru-api/internal/domain"
	"github.com/wzdavid/mineru-api/internal/logger"
	"github.com/wzdavid/mineru-api/internal/repository"
	"github.com/wzdavid/mineru-api/internal/storage"
)

// sweepBatch bounds how many expired records one sweep handles.
const sweepBatch = 500

// Cleaner reclaims storage and records for jobs whose retention has elapsed.
// Artifacts are deleted before the record: a sweep that dies halfway leaves
// a record whose artifacts are gone, which the next sweep finishes, never a
// record-less orphan tree that nothing would ever find again.
type Cleaner struct {
	cfg   *config.CleanupConfig
	jobs  *repository.JobRepository
	store storage.Adapter
}

// NewCleaner wires the cleanup scheduler.
func NewCleaner(cfg *config.CleanupConfig, jobs *repository.JobRepository, store storage.Adapter) *Cleaner {
	return &Cleaner{cfg: cfg, jobs: jobs, store: store}
}

// Run executes sweeps on the configured interval until ctx is cancelled.
func (c *Cleaner) Run(ctx context.Context) {
	log := logger.Default().WithField(logger.FieldComponent, "cleanup")

	if c.cfg.RunOnStart {
		c.Sweep(ctx)
	}

	interval := c.cfg.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.WithField("interval", interval.String()).Info("Cleanup scheduler started")
	for {
		select {
		case <-ctx.Done():
			log.Info("Cleanup scheduler stopped")
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// SweepStats summarizes one sweep.
type SweepStats struct {
	Removed int
	Failed  int
	Orphans int
}

// Sweep performs one cleanup pass: expired terminal jobs first, then orphaned
// temp objects under the local backend. Per-job failures are logged and the
// sweep continues; a wedged job never blocks the rest.
func (c *Cleaner) Sweep(ctx context.Context) SweepStats {
	log := logger.Default().WithField(logger.FieldComponent, "cleanup")
	var stats SweepStats

	cutoff := time.Now().Add(-c.cfg.ResultRetention)
	expired, err := c.jobs.ListExpired(ctx, cutoff, sweepBatch)
	if err != nil {
		log.WithError(err).Error("Failed to list expired jobs")
		return stats
	}

	for i := range expired {
		job := &expired[i]
		if err := c.removeJob(ctx, job); err != nil {
			stats.Failed++
			log.WithError(err).WithField(logger.FieldJobID, job.ID).
				Error("Failed to clean up job, will retry next sweep")
			continue
		}
		stats.Removed++
	}

	// Object backends expire temp natively via bucket lifecycle rules; only
	// the filesystem backend needs an in-process sweep.
	if c.store.Backend() == "local" {
		stats.Orphans = c.sweepTemp(ctx)
	}

	log.WithFields(logger.Fields{
		"removed": stats.Removed,
		"failed":  stats.Failed,
		"orphans": stats.Orphans,
		"dry_run": c.cfg.DryRun,
	}).Info("Cleanup sweep finished")
	return stats
}

// removeJob deletes one expired job's artifacts and record, in that order.
func (c *Cleaner) removeJob(ctx context.Context, job *domain.Job) error {
	log := logger.Default().WithFields(logger.Fields{
		logger.FieldComponent: "cleanup",
		logger.FieldJobID:     job.ID,
		logger.FieldStatus:    job.Status,
	})

	if c.cfg.DryRun {
		log.Info("Dry run: would delete job artifacts and record")
		return nil
	}

	prefix := job.ResultPrefix
	if prefix == "" {
		prefix = job.ID + "/"
	}
	if err := c.store.DeletePrefix(ctx, storage.NamespaceOutput, prefix); err != nil {
		return err
	}
	if job.TempKey != "" {
		if err := c.store.Delete(ctx, storage.NamespaceTemp, job.TempKey); err != nil {
			return err
		}
	}
	if err := c.jobs.Delete(ctx, job.ID); err != nil {
		return err
	}

	log.Info("Expired job removed")
	return nil
}

// sweepTemp removes temp objects older than the retention window whose job
// is gone or terminal. Ordinary inputs are deleted by the worker right after
// ingestion; anything old enough to show up here was left behind by a crash.
func (c *Cleaner) sweepTemp(ctx context.Context) int {
	log := logger.Default().WithField(logger.FieldComponent, "cleanup")

	objs, err := c.store.List(ctx, storage.NamespaceTemp, "")
	if err != nil {
		log.WithError(err).Error("Failed to list temp objects")
		return 0
	}

	cutoff := time.Now().Add(-c.cfg.TempRetention)
	removed := 0
	for _, obj := range objs {
		if !obj.LastModified.Before(cutoff) {
			continue
		}
		jobID, _, found := strings.Cut(obj.Key, "/")
		if found && jobID != "" {
			job, err := c.jobs.Get(ctx, jobID)
			if err == nil && !job.Status.Terminal() {
				// Still pending or processing; the worker will use it.
				continue
			}
		}
		if c.cfg.DryRun {
			log.WithField("key", obj.Key).Info("Dry run: would delete orphaned temp object")
			removed++
			continue
		}
		if err := c.store.Delete(ctx, storage.NamespaceTemp, obj.Key); err != nil {
			log.WithError(err).WithField("key", obj.Key).Warn("Failed to delete orphaned temp object")
			continue
		}
		removed++
	}
	return removed
}
