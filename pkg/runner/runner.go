// Package runner drives one job from QUEUED to a terminal status: load the
// job, resolve its devices and credentials, hand the set to the dispatcher,
// and fold the per-device results into the job's final state.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/netraven-io/netraven/pkg/dispatch"
	"github.com/netraven-io/netraven/pkg/logpipe"
	"github.com/netraven-io/netraven/pkg/model"
	"github.com/netraven-io/netraven/pkg/store"
	"github.com/netraven-io/netraven/pkg/util"
)

// JobDispatcher fans one job out across its devices. Satisfied by
// *dispatch.Dispatcher.
type JobDispatcher interface {
	Dispatch(ctx context.Context, job *model.Job, devices []*model.Device, credentials map[int64][]*model.Credential) ([]*model.JobResult, error)
}

// Runner owns the job lifecycle around a dispatch.
type Runner struct {
	store      *store.Store
	dispatcher JobDispatcher
	logs       *logpipe.Pipeline
}

// New creates a runner
func New(s *store.Store, d JobDispatcher, logs *logpipe.Pipeline) *Runner {
	return &Runner{store: s, dispatcher: d, logs: logs}
}

// RunJob executes one job to a terminal status and returns it. Missing
// jobs report an empty status; disabled jobs report their stored status.
// Neither changes state.
func (r *Runner) RunJob(ctx context.Context, jobID int64) model.JobStatus {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, util.ErrNotFound) {
			util.WithJob(jobID).Warn("job missing, nothing to run")
		} else {
			util.WithJob(jobID).Errorf("loading job: %v", err)
		}
		return ""
	}
	if !job.IsEnabled {
		util.WithJob(jobID).Info("job disabled, skipping")
		return job.Status
	}

	start := time.Now()
	if _, err := r.store.UpdateJobStatus(ctx, job.ID, model.StatusRunning); err != nil {
		util.WithJob(jobID).Errorf("marking job running: %v", err)
		return job.Status
	}
	r.logs.Log(logpipe.JobLog(job.ID, model.LevelInfo, "runner",
		fmt.Sprintf("job %q (%s) started", job.Name, job.JobType)))

	status, summary := r.execute(ctx, job)
	r.conclude(ctx, job, status, summary, time.Since(start))
	return status
}

// execute walks steps 3-6 of the lifecycle. All orchestration failures,
// panics included, come back as a terminal status with a summary line.
func (r *Runner) execute(ctx context.Context, job *model.Job) (status model.JobStatus, summary string) {
	defer func() {
		if rec := recover(); rec != nil {
			status = model.StatusFailedUnexpected
			summary = fmt.Sprintf("panic: %v", rec)
		}
	}()

	tagIDs, err := r.store.ListTagIDsForJob(ctx, job.ID)
	if err != nil {
		return model.StatusFailedUnexpected, fmt.Sprintf("loading job tags: %v", err)
	}
	devices, err := r.store.ListDevicesByTags(ctx, tagIDs)
	if err != nil {
		return model.StatusFailedUnexpected, fmt.Sprintf("loading devices: %v", err)
	}
	if len(devices) == 0 {
		return model.StatusCompletedNoDevices, "no devices matched the job's tags"
	}

	credentials := make(map[int64][]*model.Credential, len(devices))
	matched := 0
	for _, device := range devices {
		creds, err := r.store.ListCredentialsForDevice(ctx, device.ID)
		if err != nil {
			return model.StatusFailedCredentialResolution,
				fmt.Sprintf("resolving credentials for device %s: %v", device.Hostname, err)
		}
		if creds == nil {
			creds = []*model.Credential{}
		}
		credentials[device.ID] = creds
		if len(creds) > 0 {
			matched++
		}
	}
	if matched == 0 {
		return model.StatusCompletedNoCredentials, "no device has a matching credential"
	}

	results, err := r.dispatcher.Dispatch(ctx, job, devices, credentials)
	if err != nil {
		if errors.Is(err, dispatch.ErrDispatcher) {
			return model.StatusFailedDispatcherError, fmt.Sprintf("dispatch failed: %v", err)
		}
		return model.StatusFailedUnexpected, fmt.Sprintf("job execution failed: %v", err)
	}

	succeeded := 0
	for _, result := range results {
		if result.Success {
			succeeded++
		}
	}
	summary = fmt.Sprintf("%d/%d devices succeeded", succeeded, len(results))
	switch {
	case succeeded == len(results):
		return model.StatusCompletedSuccess, summary
	case succeeded > 0:
		return model.StatusCompletedPartialFailure, summary
	default:
		return model.StatusCompletedFailure, summary
	}
}

// conclude persists the terminal status and writes the summary job log.
// The status transition is guarded in the store; losing it to a concurrent
// delivery is logged, not fatal.
func (r *Runner) conclude(ctx context.Context, job *model.Job, status model.JobStatus, summary string, elapsed time.Duration) {
	if _, err := r.store.UpdateJobStatus(ctx, job.ID, status); err != nil {
		util.WithJob(job.ID).Errorf("persisting terminal status %s: %v", status, err)
	}
	level := model.LevelInfo
	if status.Failed() {
		level = model.LevelError
	}
	r.logs.Log(logpipe.JobLog(job.ID, level, "runner",
		fmt.Sprintf("job %q finished %s: %s in %s",
			job.Name, status, summary, elapsed.Round(time.Millisecond))))
}
