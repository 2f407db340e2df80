// Package scheduler reconciles enabled jobs into the queue's persistent
// schedule registry and moves due registrations into the pending queue.
// One reconcile pass is idempotent: registrations are keyed by
// (job id, schedule signature) and added NX, so repeated passes over an
// unchanged job set change nothing.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/netraven-io/netraven/pkg/config"
	"github.com/netraven-io/netraven/pkg/logpipe"
	"github.com/netraven-io/netraven/pkg/model"
	"github.com/netraven-io/netraven/pkg/queue"
	"github.com/netraven-io/netraven/pkg/store"
	"github.com/netraven-io/netraven/pkg/util"
)

// Scheduler is the single long-lived reconcile loop.
type Scheduler struct {
	store *store.Store
	queue *queue.Queue
	logs  *logpipe.Pipeline

	interval time.Duration
}

// New creates a scheduler polling at the configured interval.
func New(s *store.Store, q *queue.Queue, logs *logpipe.Pipeline) *Scheduler {
	return &Scheduler{store: s, queue: q, logs: logs, interval: config.GetPollingInterval()}
}

// Run fires due schedules and reconciles until the context ends. The
// first pass happens immediately so a restart delivers registrations
// that came due while the process was down.
func (s *Scheduler) Run(ctx context.Context) error {
	util.Infof("scheduler: reconciling every %s", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.pass(ctx, time.Now())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) pass(ctx context.Context, now time.Time) {
	// fire first: a due onetime registration must be delivered before
	// reconcile sees its run_at in the past and prunes it
	if _, err := s.Tick(ctx, now); err != nil {
		util.Errorf("scheduler: firing due schedules: %v", err)
	}
	if err := s.Reconcile(ctx, now); err != nil {
		util.Errorf("scheduler: reconcile: %v", err)
	}
}

// Reconcile aligns the schedule registry with the enabled job set:
// unregistered jobs get their next run registered, superseded schedule
// definitions are pruned, and registrations of disabled or deleted jobs
// are cancelled. Missed executions are not back-filled.
func (s *Scheduler) Reconcile(ctx context.Context, now time.Time) error {
	jobs, err := s.store.ListEnabledJobs(ctx)
	if err != nil {
		return fmt.Errorf("listing enabled jobs: %w", err)
	}

	enabled := make(map[int64]bool, len(jobs))
	for _, job := range jobs {
		enabled[job.ID] = true

		next, every, ok := nextRun(job, now)
		if !ok {
			if _, err := s.queue.PruneJobSchedules(ctx, job.ID, ""); err != nil {
				return err
			}
			continue
		}
		signature := job.ScheduleSignature()
		if _, err := s.queue.PruneJobSchedules(ctx, job.ID, signature); err != nil {
			return err
		}
		added, err := s.queue.ScheduleAt(ctx, job.ID, signature, next, every)
		if err != nil {
			return err
		}
		if added {
			util.WithJob(job.ID).Infof("scheduler: registered %s run at %s",
				job.ScheduleKind, next.UTC().Format(time.RFC3339))
		}
	}

	registered, err := s.queue.ScheduledJobIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range registered {
		if enabled[id] {
			continue
		}
		n, err := s.queue.PruneJobSchedules(ctx, id, "")
		if err != nil {
			return err
		}
		if n > 0 {
			util.WithJob(id).Infof("scheduler: cancelled %d registrations for disabled job", n)
		}
	}
	return nil
}

// Tick fires due registrations into the pending queue and marks each job
// QUEUED.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) ([]*queue.Task, error) {
	moved, err := s.queue.MoveDue(ctx, now)
	if err != nil {
		return nil, err
	}
	for _, task := range moved {
		s.markQueued(ctx, task)
	}
	return moved, nil
}

// TriggerJob enqueues a job immediately, bypassing its schedule. This is
// the manual path external collaborators call.
func (s *Scheduler) TriggerJob(ctx context.Context, jobID int64) (*queue.Task, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.IsEnabled {
		return nil, util.NewValidationError(fmt.Sprintf("job %d is disabled", jobID))
	}
	task, err := s.queue.Enqueue(ctx, job.ID, queue.TriggerManual)
	if err != nil {
		return nil, err
	}
	s.markQueued(ctx, task)
	return task, nil
}

// markQueued transitions the job and writes the queued log record. The
// transition is guarded; losing it to a racing delivery is not fatal.
func (s *Scheduler) markQueued(ctx context.Context, task *queue.Task) {
	if _, err := s.store.UpdateJobStatus(ctx, task.JobID, model.StatusQueued); err != nil {
		util.WithJob(task.JobID).Warnf("marking job queued: %v", err)
	}
	s.logs.Log(logpipe.JobLog(task.JobID, model.LevelInfo, "scheduler",
		fmt.Sprintf("job queued (%s, task %s)", task.Trigger, task.Handle)))
}

// nextRun computes a job's upcoming execution. every is non-zero only for
// interval jobs, whose registrations recur inside the queue without
// waiting for a reconcile.
func nextRun(job *model.Job, now time.Time) (next time.Time, every time.Duration, ok bool) {
	switch job.ScheduleKind {
	case model.ScheduleInterval:
		n, valid := job.IntervalSeconds()
		if !valid || n <= 0 {
			util.WithJob(job.ID).Warnf("interval job without a positive interval_seconds, skipping")
			return time.Time{}, 0, false
		}
		every = time.Duration(n) * time.Second
		return now.Add(every), every, true
	case model.ScheduleCron:
		sched, err := cron.ParseStandard(job.CronExpression())
		if err != nil {
			util.WithJob(job.ID).Errorf("invalid cron expression %q: %v", job.CronExpression(), err)
			return time.Time{}, 0, false
		}
		return sched.Next(now), 0, true
	case model.ScheduleOnetime:
		at, err := job.RunAt()
		if err != nil {
			util.WithJob(job.ID).Errorf("invalid run_at: %v", err)
			return time.Time{}, 0, false
		}
		if !at.After(now) {
			util.WithJob(job.ID).Warnf("onetime run_at %s is in the past, skipping",
				at.Format(time.RFC3339))
			return time.Time{}, 0, false
		}
		return at, 0, true
	default:
		// manual jobs only run on explicit trigger
		return time.Time{}, 0, false
	}
}
