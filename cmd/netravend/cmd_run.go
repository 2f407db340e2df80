package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/netraven-io/netraven/pkg/config"
	"github.com/netraven-io/netraven/pkg/crypto"
	"github.com/netraven-io/netraven/pkg/dispatch"
	"github.com/netraven-io/netraven/pkg/driver"
	"github.com/netraven-io/netraven/pkg/executor"
	"github.com/netraven-io/netraven/pkg/logpipe"
	"github.com/netraven-io/netraven/pkg/queue"
	"github.com/netraven-io/netraven/pkg/registry"
	"github.com/netraven-io/netraven/pkg/runner"
	"github.com/netraven-io/netraven/pkg/scheduler"
	"github.com/netraven-io/netraven/pkg/store"
	"github.com/netraven-io/netraven/pkg/util"
	"github.com/netraven-io/netraven/pkg/version"
)

// requeueEvery is the sweep cadence for reclaiming stale claimed tasks.
// The staleness threshold itself comes from queue.stale_after_seconds.
const requeueEvery = time.Minute

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler and workers in one process",
	RunE: func(cmd *cobra.Command, args []string) error {
		return supervise(true, true)
	},
}

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run the scheduling control loop only",
	Long: `Runs the reconcile loop that registers schedules for enabled jobs and
moves due registrations onto the work queue. Run exactly one scheduler
per deployment.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return supervise(true, false)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run queue workers only",
	Long: `Runs worker.count queue consumers that claim tasks and execute jobs
against their target devices. Scale out by running more worker processes
against the same Redis.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return supervise(false, true)
	},
}

// services holds the wired component graph for one daemon process.
type services struct {
	store     *store.Store
	queue     *queue.Queue
	logs      *logpipe.Pipeline
	runner    *runner.Runner
	scheduler *scheduler.Scheduler
}

func buildServices(ctx context.Context) (*services, error) {
	st, err := store.Open()
	if err != nil {
		return nil, err
	}

	q := queue.New()
	if err := q.Connect(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	logs, err := logpipe.New(st)
	if err != nil {
		q.Close()
		st.Close()
		return nil, err
	}

	cipher, err := crypto.NewCipher()
	if err != nil {
		logs.Close()
		q.Close()
		st.Close()
		return nil, fmt.Errorf("initializing credential cipher: %w", err)
	}

	exec := executor.New(st, registry.Default(), driver.NewSSHDriver(), cipher, logs)
	disp := dispatch.New(exec, st, logs)

	return &services{
		store:     st,
		queue:     q,
		logs:      logs,
		runner:    runner.New(st, disp, logs),
		scheduler: scheduler.New(st, q, logs),
	}, nil
}

func (s *services) Close() {
	s.logs.Close()
	s.queue.Close()
	s.store.Close()
}

// supervise wires the component graph and runs the requested loops until a
// termination signal arrives or one loop fails.
func supervise(withScheduler, withWorkers bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	util.Infof("netravend %s starting", version.Version)

	g, ctx := errgroup.WithContext(ctx)
	if withScheduler {
		g.Go(func() error { return svc.scheduler.Run(ctx) })
	}
	if withWorkers {
		for i := 1; i <= config.GetWorkerCount(); i++ {
			w := scheduler.NewWorker(fmt.Sprintf("worker-%d", i), svc.queue, svc.runner)
			g.Go(func() error { return w.Run(ctx) })
		}
		g.Go(func() error { return scheduler.RequeueLoop(ctx, svc.queue, requeueEvery) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	util.Infof("netravend shut down cleanly")
	return nil
}
