// Package executor runs one job type against one device. It resolves the
// module, walks the device's credentials in priority order, records every
// attempt, and persists exactly one JobResult per invocation.
package executor

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/netraven-io/netraven/pkg/crypto"
	"github.com/netraven-io/netraven/pkg/driver"
	"github.com/netraven-io/netraven/pkg/logpipe"
	"github.com/netraven-io/netraven/pkg/model"
	"github.com/netraven-io/netraven/pkg/registry"
	"github.com/netraven-io/netraven/pkg/store"
	"github.com/netraven-io/netraven/pkg/util"
)

// Executor resolves job modules and runs them with credential rotation.
type Executor struct {
	store    *store.Store
	registry *registry.Registry
	driver   driver.Driver
	cipher   *crypto.Cipher
	logs     *logpipe.Pipeline
}

// New creates an executor
func New(s *store.Store, reg *registry.Registry, d driver.Driver, cipher *crypto.Cipher, logs *logpipe.Pipeline) *Executor {
	return &Executor{store: s, registry: reg, driver: d, cipher: cipher, logs: logs}
}

// Input is one device execution request.
type Input struct {
	Job    *model.Job
	Device *model.Device

	// Credentials overrides per-device resolution when non-nil. The runner
	// pre-resolves in batch; an empty non-nil slice means resolution ran
	// and matched nothing.
	Credentials []*model.Credential
}

// HandleDevice runs the job's module against one device. Module and
// credential failures come back inside the JobResult; the error return is
// reserved for storage failures, which the caller escalates.
func (e *Executor) HandleDevice(ctx context.Context, in Input) (*model.JobResult, error) {
	job, device := in.Job, in.Device
	e.logs.Log(logpipe.JobLog(job.ID, model.LevelInfo, "executor",
		fmt.Sprintf("device %s: starting %s", device.Hostname, job.JobType)))

	module, ok := e.registry.Get(job.JobType)
	if !ok {
		return e.finish(ctx, job, device, model.FailureResult(job.ID, device.ID,
			model.ErrorTypeUnknownJobType, fmt.Sprintf("unknown job type %q", job.JobType), false))
	}

	credentials := in.Credentials
	if credentials == nil {
		var err error
		credentials, err = e.store.ListCredentialsForDevice(ctx, device.ID)
		if err != nil {
			return nil, fmt.Errorf("resolving credentials for device %d: %w", device.ID, err)
		}
	}
	if len(credentials) == 0 {
		return e.finish(ctx, job, device, model.FailureResult(job.ID, device.ID,
			model.ErrorTypeNoCredentials, "no matching credentials", false))
	}

	var result *model.JobResult
	for _, cred := range credentials {
		password, err := e.cipher.Decrypt(cred.PasswordEncrypted)
		if err != nil {
			e.logs.Log(logpipe.ConnectionLog(job.ID, device.ID, model.LevelError, "executor",
				fmt.Sprintf("credential %d (%s): decrypt failed: %v", cred.ID, cred.Username, err)))
			result = model.NewJobResult(job.ID, device.ID, false)
			result.Details[model.DetailError] = fmt.Sprintf("credential %d: decrypt failed", cred.ID)
			continue
		}

		e.logs.Log(logpipe.ConnectionLog(job.ID, device.ID, model.LevelInfo, "executor",
			fmt.Sprintf("attempting credential %d (%s, priority %d)", cred.ID, cred.Username, cred.Priority)))

		result = module.Run(ctx, registry.RunInput{
			JobID:  job.ID,
			Job:    job,
			Device: &model.DeviceWithCredential{Device: device, Credential: cred, Password: password},
			Store:  e.store,
			Driver: e.driver,
			Logs:   e.logs,
		})
		if !result.Valid() {
			e.logs.Log(logpipe.JobLog(job.ID, model.LevelError, "executor",
				fmt.Sprintf("job type %q returned an invalid result", job.JobType)))
			result = model.FailureResult(job.ID, device.ID, model.ErrorTypeInvalidResult,
				"invalid job result", false)
			break
		}
		result.JobID, result.DeviceID = job.ID, device.ID

		e.recordAttempt(ctx, job, device, cred, result)

		if result.Success {
			e.logs.Log(logpipe.ConnectionLog(job.ID, device.ID, model.LevelInfo, "executor",
				fmt.Sprintf("credential %d (%s) succeeded", cred.ID, cred.Username)))
			break
		}
		e.logs.Log(logpipe.ConnectionLog(job.ID, device.ID, model.LevelWarning, "executor",
			fmt.Sprintf("credential %d (%s) failed: %s", cred.ID, cred.Username, result.ErrorMessage())))

		if !driver.NextCredential(result.Err) {
			break
		}
	}

	return e.finish(ctx, job, device, result)
}

// recordAttempt appends a credential attempt row. Recording is best-effort;
// a failure here must not fail the device execution.
func (e *Executor) recordAttempt(ctx context.Context, job *model.Job, device *model.Device, cred *model.Credential, result *model.JobResult) {
	attempt := &model.CredentialAttempt{
		CredentialID: cred.ID,
		DeviceID:     device.ID,
		JobID:        job.ID,
		Success:      result.Success,
	}
	if msg := result.ErrorMessage(); !result.Success && msg != "" {
		attempt.Error = sql.NullString{String: msg, Valid: true}
	}
	if err := e.store.RecordCredentialAttempt(ctx, attempt); err != nil {
		util.Warnf("executor: recording credential attempt: %v", err)
	}
}

// finish persists the result and writes the closing job log record.
func (e *Executor) finish(ctx context.Context, job *model.Job, device *model.Device, result *model.JobResult) (*model.JobResult, error) {
	if err := e.store.InsertJobResult(ctx, result); err != nil {
		return nil, fmt.Errorf("persisting job result for device %d: %w", device.ID, err)
	}
	if result.Success {
		e.logs.Log(logpipe.JobLog(job.ID, model.LevelInfo, "executor",
			fmt.Sprintf("device %s: %s succeeded", device.Hostname, job.JobType)))
	} else {
		e.logs.Log(logpipe.JobLog(job.ID, model.LevelError, "executor",
			fmt.Sprintf("device %s: %s failed: %s", device.Hostname, job.JobType, result.ErrorMessage())))
	}
	return result, nil
}
