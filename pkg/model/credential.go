package model

import (
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/netraven-io/netraven/pkg/util"
)

// Priority bounds for credentials; lower priority wins.
const (
	MinCredentialPriority = 1
	MaxCredentialPriority = 1000
)

// Credential holds login material for device access. Credentials match a
// device iff they share at least one tag with it.
type Credential struct {
	ID                int64          `db:"id" json:"id"`
	Username          string         `db:"username" json:"username"`
	PasswordEncrypted string         `db:"password_encrypted" json:"-"`
	Priority          int            `db:"priority" json:"priority"`
	LastUsed          pq.NullTime    `db:"last_used" json:"last_used,omitempty"`
	SuccessCount      int64          `db:"success_count" json:"success_count"`
	FailureCount      int64          `db:"failure_count" json:"failure_count"`
	Description       sql.NullString `db:"description" json:"description,omitempty"`
	IsSystem          bool           `db:"is_system" json:"is_system"`
}

// NewCredential creates a credential with mid-range priority
func NewCredential(username string) *Credential {
	return &Credential{
		Username: username,
		Priority: 100,
	}
}

// Validate checks credential fields
func (c *Credential) Validate() error {
	v := &util.ValidationBuilder{}
	v.Add(c.Username != "", "username is required")
	v.Add(c.Priority >= MinCredentialPriority && c.Priority <= MaxCredentialPriority,
		"priority must be in range 1-1000")
	return v.Build()
}

// CredentialAttempt records one use of a credential against a device during
// a job execution. Rows are append-only; the resolver aggregates them into
// the credential counters.
type CredentialAttempt struct {
	ID           int64          `db:"id" json:"id"`
	CredentialID int64          `db:"credential_id" json:"credential_id"`
	DeviceID     int64          `db:"device_id" json:"device_id"`
	JobID        int64          `db:"job_id" json:"job_id"`
	Success      bool           `db:"success" json:"success"`
	Error        sql.NullString `db:"error" json:"error,omitempty"`
	AttemptedAt  time.Time      `db:"attempted_at" json:"attempted_at"`
}
