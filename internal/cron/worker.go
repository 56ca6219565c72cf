package cron

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/danutirta/meterflow/internal/engine"
	"github.com/danutirta/meterflow/internal/metrics"
	"github.com/danutirta/meterflow/internal/storage"
	"github.com/robfig/cron/v3"
)

// intervalSettingKey is the runtime override for the worker interval,
// stored as integer seconds or a cron expression.
const intervalSettingKey = "recompute_interval_seconds"

const jobName = "recompute_summaries"

// lockKey guards the recompute job across replicas via the storage run
// lock (a Postgres advisory lock when the backend supports it).
const lockKey int64 = 57

// Run starts the periodic recompute worker. Every interval it recomputes
// yesterday's and today's summaries for all active meters, so late readings
// and tariff corrections converge without manual backfills.
func Run(ctx context.Context, store storage.Storage, eng *engine.Engine, interval string, workers int) error {
	batch := &Batch{Store: store, Engine: eng, Workers: workers}

	intervalSetting := interval
	if intervalSetting == "" {
		intervalSetting = "300"
	}

	// DB override wins over the environment.
	if val, err := store.GetSetting(ctx, intervalSettingKey); err == nil && val != "" {
		intervalSetting = val
	}

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	getNextRun := func(setting string, lastRun time.Time) time.Time {
		// Try integer seconds
		if v, err := strconv.Atoi(setting); err == nil && v > 0 {
			return lastRun.Add(time.Duration(v) * time.Second)
		}
		// Try cron expression
		if sched, err := cron.ParseStandard(setting); err == nil {
			return sched.Next(lastRun)
		}
		// Fallback to default 5m
		return lastRun.Add(5 * time.Minute)
	}

	nextRun := time.Now()

	log.Printf("cron worker starting, interval=%q workers=%d", intervalSetting, workers)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if val, err := store.GetSetting(ctx, intervalSettingKey); err == nil && val != "" {
				if val != intervalSetting {
					log.Printf("cron: interval updated from %q to %q", intervalSetting, val)
					intervalSetting = val
					nextRun = getNextRun(intervalSetting, time.Now())
				}
			}

			if time.Now().Before(nextRun) {
				continue
			}

			started := time.Now()

			ok, err := store.AcquireRunLock(ctx, lockKey)
			if err != nil {
				log.Printf("cron: acquire run lock failed: %v", err)
				metrics.UpdateJobMetrics(jobName, started, err)
				nextRun = getNextRun(intervalSetting, time.Now())
				continue
			}
			if !ok {
				// Another instance is running this job.
				log.Printf("cron: run lock held by another instance, skipping run")
				nextRun = getNextRun(intervalSetting, time.Now())
				continue
			}

			var runErr error
			func() {
				defer func() {
					if err := store.ReleaseRunLock(ctx, lockKey); err != nil {
						log.Printf("cron: release run lock failed: %v", err)
					}
				}()
				today := storage.Day(time.Now().UTC())
				runErr = batch.RecomputeRange(ctx, today.AddDate(0, 0, -1), today)
			}()

			metrics.UpdateJobMetrics(jobName, started, runErr)
			dur := time.Since(started)
			errMsg := ""
			success := runErr == nil
			if runErr != nil {
				errMsg = runErr.Error()
			}
			if err := store.UpdateScheduledJob(ctx, jobName, started, dur, success, errMsg); err != nil {
				log.Printf("cron: update scheduled_jobs failed: %v", err)
			}

			if runErr != nil {
				log.Printf("cron: job %s completed with error: %v (duration=%s)", jobName, runErr, dur)
			} else {
				log.Printf("cron: job %s completed successfully (duration=%s)", jobName, dur)
			}

			nextRun = getNextRun(intervalSetting, time.Now())
		}
	}
}
