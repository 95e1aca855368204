package core

// scheduler.go runs periodic maintenance jobs.
//
// Two jobs exist today:
//  1. cache rebuild: reloads the lookup cache's existence filter from a full
//     store cursor, so codes created by other instances become visible
//  2. audit purge: deletes audit entries past the retention window
//
// Each job runs immediately on start, then every Interval, until ctx is
// cancelled. A failed run is logged and retried on the next tick.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Job is a named periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// MaintenanceConfig controls the jobs returned by MaintenanceJobs.
// Zero intervals disable the corresponding job.
type MaintenanceConfig struct {
	CacheRebuildInterval time.Duration
	AuditRetentionDays   int
	AuditPurgeInterval   time.Duration
}

// MaintenanceJobs returns the jobs that apply to this service's setup.
func (s *Service) MaintenanceJobs(cfg MaintenanceConfig, purger AuditPurger) []Job {
	var jobs []Job

	if s.cache != nil && cfg.CacheRebuildInterval > 0 {
		jobs = append(jobs, Job{
			Name:     "cache_rebuild",
			Interval: cfg.CacheRebuildInterval,
			Run:      s.RebuildCache,
		})
	}

	if purger != nil && cfg.AuditPurgeInterval > 0 && cfg.AuditRetentionDays > 0 {
		retention := time.Duration(cfg.AuditRetentionDays) * 24 * time.Hour
		jobs = append(jobs, Job{
			Name:     "audit_purge",
			Interval: cfg.AuditPurgeInterval,
			Run: func(ctx context.Context) error {
				purged, err := purger.PurgeAuditLog(ctx, time.Now().Add(-retention))
				if err != nil {
					return err
				}
				slog.Info("purged audit log entries", "entries_purged", purged, "retention_days", cfg.AuditRetentionDays)
				return nil
			},
		})
	}

	return jobs
}

// RebuildCache reloads the lookup cache filter from the store.
func (s *Service) RebuildCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	cur := s.store.StreamAll(ctx, DefaultExportBatchSize)
	defer cur.Close()

	n, err := s.cache.Rebuild(ctx, cur)
	if err != nil {
		return fmt.Errorf("rebuild cache: %w", err)
	}
	slog.Info("lookup cache rebuilt", "codes", n)
	return nil
}

// RunScheduler runs jobs until ctx is cancelled and returns once every job
// loop has stopped.
func RunScheduler(ctx context.Context, jobs ...Job) {
	var wg sync.WaitGroup
	for _, job := range jobs {
		if job.Interval <= 0 || job.Run == nil {
			continue
		}
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			runJobLoop(ctx, job)
		}(job)
	}
	wg.Wait()
}

func runJobLoop(ctx context.Context, job Job) {
	slog.Info("scheduler job started", "job", job.Name, "interval", job.Interval.String())

	runJob(ctx, job)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler job stopped", "job", job.Name)
			return
		case <-ticker.C:
			runJob(ctx, job)
		}
	}
}

func runJob(ctx context.Context, job Job) {
	start := time.Now()
	if err := job.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("scheduler job failed", "job", job.Name, "error", err)
		return
	}
	slog.Debug("scheduler job completed", "job", job.Name, "duration_ms", time.Since(start).Milliseconds())
}
