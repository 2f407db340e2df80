package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/netraven-io/netraven/pkg/util"
)

// ScheduleKind selects how a job's executions are planned.
type ScheduleKind string

const (
	ScheduleInterval ScheduleKind = "interval"
	ScheduleCron     ScheduleKind = "cron"
	ScheduleOnetime  ScheduleKind = "onetime"
	ScheduleManual   ScheduleKind = "manual"
)

// Schedule parameter keys inside Job.ScheduleParams.
const (
	ParamIntervalSeconds = "interval_seconds"
	ParamCronExpression  = "cron_expression"
	ParamRunAt           = "run_at" // RFC3339
)

// JobStatus tracks a job through its lifecycle.
type JobStatus string

const (
	StatusPending JobStatus = "PENDING"
	StatusQueued  JobStatus = "QUEUED"
	StatusRunning JobStatus = "RUNNING"

	StatusCompletedSuccess           JobStatus = "COMPLETED_SUCCESS"
	StatusCompletedPartialFailure    JobStatus = "COMPLETED_PARTIAL_FAILURE"
	StatusCompletedFailure           JobStatus = "COMPLETED_FAILURE"
	StatusCompletedNoDevices         JobStatus = "COMPLETED_NO_DEVICES"
	StatusCompletedNoCredentials     JobStatus = "COMPLETED_NO_CREDENTIALS"
	StatusFailedUnexpected           JobStatus = "FAILED_UNEXPECTED"
	StatusFailedDispatcherError      JobStatus = "FAILED_DISPATCHER_ERROR"
	StatusFailedCredentialResolution JobStatus = "FAILED_CREDENTIAL_RESOLUTION"
)

// IsTerminal returns true for absorbing statuses
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompletedSuccess, StatusCompletedPartialFailure, StatusCompletedFailure,
		StatusCompletedNoDevices, StatusCompletedNoCredentials,
		StatusFailedUnexpected, StatusFailedDispatcherError, StatusFailedCredentialResolution:
		return true
	}
	return false
}

// Failed reports whether s marks a failure of the run itself rather than
// of individual devices.
func (s JobStatus) Failed() bool {
	switch s {
	case StatusFailedUnexpected, StatusFailedDispatcherError, StatusFailedCredentialResolution:
		return true
	}
	return false
}

// CanTransition reports whether s may move to the given status. Terminal
// statuses are absorbing; re-enqueueing a job re-enters QUEUED.
func (s JobStatus) CanTransition(to JobStatus) bool {
	switch {
	case s == StatusPending:
		return to == StatusQueued
	case s == StatusQueued:
		return to == StatusRunning
	case s == StatusRunning:
		return to.IsTerminal()
	case s.IsTerminal():
		return to == StatusQueued
	}
	return false
}

// Job is a persisted definition of work: a type, a schedule, and the tags
// selecting its target devices.
type Job struct {
	ID             int64        `db:"id" json:"id"`
	Name           string       `db:"name" json:"name"`
	JobType        string       `db:"job_type" json:"job_type"`
	IsEnabled      bool         `db:"is_enabled" json:"is_enabled"`
	ScheduleKind   ScheduleKind `db:"schedule_kind" json:"schedule_kind"`
	ScheduleParams JSONMap      `db:"schedule_params" json:"schedule_params,omitempty"`
	Status         JobStatus    `db:"status" json:"status"`
	IsSystem       bool         `db:"is_system" json:"is_system"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
}

// NewJob creates a manual job in PENDING state
func NewJob(name, jobType string) *Job {
	return &Job{
		Name:         name,
		JobType:      jobType,
		IsEnabled:    true,
		ScheduleKind: ScheduleManual,
		Status:       StatusPending,
	}
}

// Validate checks job fields including kind-specific schedule parameters
func (j *Job) Validate() error {
	v := &util.ValidationBuilder{}
	v.Add(j.Name != "", "name is required")
	v.Add(j.JobType != "", "job_type is required")

	switch j.ScheduleKind {
	case ScheduleInterval:
		n, ok := j.ScheduleParams.GetInt64(ParamIntervalSeconds)
		v.Add(ok && n > 0, "interval schedule requires positive interval_seconds")
	case ScheduleCron:
		expr := j.ScheduleParams.GetString(ParamCronExpression)
		if expr == "" {
			v.AddError("cron schedule requires cron_expression")
		} else if _, err := cron.ParseStandard(expr); err != nil {
			v.AddErrorf("invalid cron expression %q: %v", expr, err)
		}
	case ScheduleOnetime:
		at := j.ScheduleParams.GetString(ParamRunAt)
		if at == "" {
			v.AddError("onetime schedule requires run_at")
		} else if _, err := time.Parse(time.RFC3339, at); err != nil {
			v.AddErrorf("invalid run_at %q: %v", at, err)
		}
	case ScheduleManual:
		// no parameters
	default:
		v.AddErrorf("unknown schedule_kind %q", j.ScheduleKind)
	}
	return v.Build()
}

// IntervalSeconds returns the interval parameter for interval jobs
func (j *Job) IntervalSeconds() (int64, bool) {
	return j.ScheduleParams.GetInt64(ParamIntervalSeconds)
}

// CronExpression returns the cron parameter for cron jobs
func (j *Job) CronExpression() string {
	return j.ScheduleParams.GetString(ParamCronExpression)
}

// RunAt returns the parsed run_at parameter for onetime jobs
func (j *Job) RunAt() (time.Time, error) {
	return time.Parse(time.RFC3339, j.ScheduleParams.GetString(ParamRunAt))
}

// ScheduleSignature returns a stable digest of the schedule definition.
// Registrations are keyed by (job_id, signature) so an edited schedule
// registers anew while an unchanged one stays idempotent.
func (j *Job) ScheduleSignature() string {
	payload, _ := json.Marshal(j.ScheduleParams) // map keys marshal sorted
	sum := sha256.Sum256(append([]byte(string(j.ScheduleKind)+":"), payload...))
	return hex.EncodeToString(sum[:])[:32]
}
