package model

import "time"

// Detail keys and error_type values used in JobResult.Details.
const (
	DetailError     = "error"
	DetailErrorType = "error_type"

	ErrorTypeUnknownJobType = "UNKNOWN_JOB_TYPE"
	ErrorTypeNoCredentials  = "NO_CREDENTIALS"
	ErrorTypeInvalidResult  = "INVALID_JOB_RESULT"
	ErrorTypeCancelled      = "CANCELLED"
)

// JobResult is the per-device outcome of one job execution. Exactly one row
// is written per dispatched (job, device) pair.
type JobResult struct {
	ID        int64     `db:"id" json:"id"`
	JobID     int64     `db:"job_id" json:"job_id"`
	DeviceID  int64     `db:"device_id" json:"device_id"`
	Success   bool      `db:"success" json:"success"`
	Details   JSONMap   `db:"details" json:"details,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`

	// Retriable marks a failure the dispatcher may retry. Not persisted.
	Retriable bool `db:"-" json:"-"`

	// Err carries the underlying failure for in-process classification.
	// Not persisted; Details holds the user-facing strings.
	Err error `db:"-" json:"-"`
}

// NewJobResult creates a result for a (job, device) pair
func NewJobResult(jobID, deviceID int64, success bool) *JobResult {
	return &JobResult{
		JobID:    jobID,
		DeviceID: deviceID,
		Success:  success,
		Details:  JSONMap{},
	}
}

// FailureResult creates a failed result carrying an error message and class
func FailureResult(jobID, deviceID int64, errorType, message string, retriable bool) *JobResult {
	r := NewJobResult(jobID, deviceID, false)
	r.Details[DetailErrorType] = errorType
	r.Details[DetailError] = message
	r.Retriable = retriable
	return r
}

// Valid reports whether a module's return satisfies the job-type contract:
// a non-nil result with device_id populated.
func (r *JobResult) Valid() bool {
	return r != nil && r.DeviceID != 0
}

// ErrorMessage returns the error detail, if any
func (r *JobResult) ErrorMessage() string {
	if r == nil || r.Details == nil {
		return ""
	}
	return r.Details.GetString(DetailError)
}
