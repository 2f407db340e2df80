package scheduler

import (
	"context"
	"time"

	"github.com/netraven-io/netraven/pkg/config"
	"github.com/netraven-io/netraven/pkg/model"
	"github.com/netraven-io/netraven/pkg/queue"
	"github.com/netraven-io/netraven/pkg/util"
)

// JobRunner runs one job to completion. Satisfied by *runner.Runner.
type JobRunner interface {
	RunJob(ctx context.Context, jobID int64) model.JobStatus
}

// claimWait bounds each blocking claim so shutdown is noticed promptly.
const claimWait = 2 * time.Second

// Worker consumes queued tasks and runs each to completion before
// acknowledging. A crash leaves the claim behind for RequeueStale, which
// is what makes delivery at-least-once.
type Worker struct {
	id     string
	queue  *queue.Queue
	runner JobRunner
}

// NewWorker creates a queue consumer with a stable identity.
func NewWorker(id string, q *queue.Queue, r JobRunner) *Worker {
	return &Worker{id: id, queue: q, runner: r}
}

// Run consumes until the context ends.
func (w *Worker) Run(ctx context.Context) error {
	util.Infof("worker %s: consuming", w.id)
	for {
		task, err := w.queue.Claim(ctx, w.id, claimWait)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			util.Errorf("worker %s: claim: %v", w.id, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		if task == nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		w.handle(ctx, task)
	}
}

func (w *Worker) handle(ctx context.Context, task *queue.Task) {
	jobCtx, cancel := context.WithTimeout(ctx, config.GetJobTimeout())
	defer cancel()

	status := w.runner.RunJob(jobCtx, task.JobID)
	if status != "" {
		util.WithJob(task.JobID).Infof("worker %s: run finished %s", w.id, status)
	}

	// the run concluded either way; ack on a fresh context so shutdown
	// cannot leave a finished task to be re-delivered
	ackCtx, cancelAck := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelAck()
	if err := w.queue.Ack(ackCtx, task); err != nil {
		util.WithJob(task.JobID).Warnf("worker %s: acking task %s: %v", w.id, task.Handle, err)
	}
}

// RequeueLoop periodically returns stale claimed tasks to the pending
// queue. Run one per worker process.
func RequeueLoop(ctx context.Context, q *queue.Queue, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := q.RequeueStale(ctx, config.GetQueueStaleAfter())
			if err != nil {
				util.Errorf("requeue: %v", err)
				continue
			}
			if n > 0 {
				util.Infof("requeue: returned %d stale tasks to the queue", n)
			}
		}
	}
}
