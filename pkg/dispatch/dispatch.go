// Package dispatch fans one job out across its devices on a bounded worker
// pool, retrying retriable device failures with exponential backoff. Every
// input device yields exactly one JobResult; device failures never abort
// sibling tasks.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/netraven-io/netraven/pkg/config"
	"github.com/netraven-io/netraven/pkg/executor"
	"github.com/netraven-io/netraven/pkg/logpipe"
	"github.com/netraven-io/netraven/pkg/model"
	"github.com/netraven-io/netraven/pkg/util"
)

// ErrDispatcher marks failures of the dispatcher itself, as opposed to
// storage errors surfaced out of a device task. Callers branch on it with
// errors.Is to pick the right terminal job status.
var ErrDispatcher = errors.New("dispatcher failure")

// DeviceHandler runs a single device execution. Satisfied by
// *executor.Executor.
type DeviceHandler interface {
	HandleDevice(ctx context.Context, in executor.Input) (*model.JobResult, error)
}

// ResultWriter persists results the dispatcher synthesizes for devices that
// never ran. Satisfied by *store.Store.
type ResultWriter interface {
	InsertJobResult(ctx context.Context, result *model.JobResult) error
}

// Dispatcher owns the per-job device fan-out.
type Dispatcher struct {
	handler DeviceHandler
	results ResultWriter
	logs    *logpipe.Pipeline

	poolSize   int
	maxRetries int
	backoff    time.Duration
}

// New builds a dispatcher sized from configuration.
func New(handler DeviceHandler, results ResultWriter, logs *logpipe.Pipeline) *Dispatcher {
	retries := config.GetMaxRetries()
	if retries < 0 {
		retries = 0
	}
	return &Dispatcher{
		handler:    handler,
		results:    results,
		logs:       logs,
		poolSize:   config.GetThreadPoolSize(),
		maxRetries: retries,
		backoff:    config.GetRetryBackoff(),
	}
}

type outcome struct {
	result *model.JobResult
	err    error
}

// Dispatch runs the job against every device and returns one result per
// device, sorted by device id. Submission order is stable by device id;
// completion order is not. credentials holds the runner's pre-resolved
// credential sets keyed by device id; a nil map delegates resolution to
// the handler. A non-nil error means the run as a whole failed: storage
// errors pass through unwrapped, dispatcher faults wrap ErrDispatcher.
func (d *Dispatcher) Dispatch(ctx context.Context, job *model.Job, devices []*model.Device, credentials map[int64][]*model.Credential) ([]*model.JobResult, error) {
	if len(devices) == 0 {
		return nil, nil
	}
	start := time.Now()

	sorted := append([]*model.Device(nil), devices...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	workers := d.poolSize
	if workers > len(sorted) {
		workers = len(sorted)
	}

	tasks := make(chan *model.Device)
	outcomes := make(chan outcome, len(sorted))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for device := range tasks {
				outcomes <- d.runDevice(ctx, job, device, credentialsFor(credentials, device))
			}
		}()
	}
	for _, device := range sorted {
		tasks <- device
	}
	close(tasks)
	wg.Wait()
	close(outcomes)

	results := make([]*model.JobResult, 0, len(sorted))
	succeeded := 0
	var firstErr error
	for out := range outcomes {
		if out.err != nil {
			if firstErr == nil {
				firstErr = out.err
			}
			continue
		}
		if out.result.Success {
			succeeded++
		}
		results = append(results, out.result)
	}
	if firstErr != nil {
		return nil, firstErr
	}
	sort.Slice(results, func(i, j int) bool { return results[i].DeviceID < results[j].DeviceID })

	d.logs.Log(logpipe.JobLog(job.ID, model.LevelInfo, "dispatcher",
		fmt.Sprintf("dispatch complete: %d/%d devices succeeded in %s",
			succeeded, len(sorted), time.Since(start).Round(time.Millisecond))))
	return results, nil
}

// runDevice drives one device through up to maxRetries+1 handler attempts.
// Cancellation is honored between attempts only; an in-flight attempt runs
// to completion.
func (d *Dispatcher) runDevice(ctx context.Context, job *model.Job, device *model.Device, creds []*model.Credential) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = outcome{err: fmt.Errorf("%w: device %s: panic: %v", ErrDispatcher, device.Hostname, r)}
		}
	}()

	if ctx.Err() != nil {
		return d.dropDevice(job, device)
	}

	d.logs.Log(logpipe.JobLog(job.ID, model.LevelInfo, "dispatcher",
		fmt.Sprintf("submitting device %s", device.Hostname)))

	attempts := d.maxRetries + 1
	var result *model.JobResult
	for attempt := 1; ; attempt++ {
		var err error
		result, err = d.handler.HandleDevice(ctx, executor.Input{Job: job, Device: device, Credentials: creds})
		if err != nil {
			return outcome{err: err}
		}
		if result.Success || !result.Retriable || attempt == attempts {
			break
		}
		wait := d.backoff * time.Duration(1<<uint(attempt-1))
		d.logs.Log(logpipe.JobLog(job.ID, model.LevelWarning, "dispatcher",
			fmt.Sprintf("retrying device %s in %s (attempt %d of %d)",
				device.Hostname, wait, attempt+1, attempts)))
		select {
		case <-ctx.Done():
			// the finished attempt's result stands
			return outcome{result: result}
		case <-time.After(wait):
		}
	}

	d.logs.Log(logpipe.JobLog(job.ID, model.LevelInfo, "dispatcher",
		fmt.Sprintf("completed device %s (success=%t)", device.Hostname, result.Success)))
	return outcome{result: result}
}

// dropDevice records a synthesized failure for a device whose task was
// cancelled before it started, keeping one result per input device.
func (d *Dispatcher) dropDevice(job *model.Job, device *model.Device) outcome {
	result := model.FailureResult(job.ID, device.ID, model.ErrorTypeCancelled,
		"job cancelled before device execution", false)

	// the job context is already cancelled; persist on a fresh one
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.results.InsertJobResult(ctx, result); err != nil {
		util.Warnf("dispatch: recording cancelled result for device %d: %v", device.ID, err)
	}

	d.logs.Log(logpipe.JobLog(job.ID, model.LevelWarning, "dispatcher",
		fmt.Sprintf("device %s dropped: job cancelled", device.Hostname)))
	return outcome{result: result}
}

func credentialsFor(credentials map[int64][]*model.Credential, device *model.Device) []*model.Credential {
	if credentials == nil {
		return nil
	}
	creds, ok := credentials[device.ID]
	if !ok {
		return []*model.Credential{}
	}
	return creds
}
