package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/r3e-network/fraudctl/internal/app/domain/job"
	"github.com/r3e-network/fraudctl/internal/app/storage"
)

// NextCronFire parses a standard 5-field cron expression and returns its
// next fire time strictly after `after`.
func NextCronFire(expr string, after time.Time) (time.Time, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(after), nil
}

// EnqueueNextCronRun creates the next occurrence of a recurring job once
// the current run finishes, computing NextRunAt from its Schedule.CronExpr.
// Jobs with no enabled Schedule are left alone; CompleteJob marks them
// COMPLETED for good as a true one-shot.
func EnqueueNextCronRun(ctx context.Context, catalog storage.Catalog, finished job.Job) error {
	if finished.Schedule == nil || !finished.Schedule.Enabled {
		return nil
	}
	next, err := NextCronFire(finished.Schedule.CronExpr, time.Now().UTC())
	if err != nil {
		return err
	}
	_, err = catalog.CreateJob(ctx, job.Job{
		Kind:           finished.Kind,
		Payload:        finished.Payload,
		Schedule:       finished.Schedule,
		IdempotencyKey: finished.IdempotencyKey + "@" + next.Format(time.RFC3339),
		NextRunAt:      next,
		MaxAttempts:    finished.MaxAttempts,
	})
	return err
}
