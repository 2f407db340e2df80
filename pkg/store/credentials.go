package store

import (
	"context"
	"fmt"

	sqrl "github.com/Masterminds/squirrel"

	"github.com/netraven-io/netraven/pkg/model"
)

const (
	TPCredentials        = "credentials"
	TPCredentialTags     = "credential_tags"
	TPCredentialAttempts = "credential_attempts"
)

var insertCredentialAttemptFormat = `INSERT INTO ` + TPCredentialAttempts + ` (%s) VALUES (%s)`

// ListCredentialsForDevice returns credentials sharing at least one tag with
// the device, ordered by priority ascending then last_used ascending with
// never-used credentials first.
func (s *Store) ListCredentialsForDevice(ctx context.Context, deviceID int64) ([]*model.Credential, error) {
	subquery := `SELECT tag_id FROM ` + TPDeviceTags + ` WHERE device_id = ?`
	query, args, err := builder.
		Select("DISTINCT c.*").
		From(TPCredentials + " c").
		Join(TPCredentialTags + " ct ON ct.credential_id = c.id").
		Where("ct.tag_id IN ("+subquery+")", deviceID).
		OrderBy("c.priority ASC", "c.last_used ASC NULLS FIRST", "c.id ASC").
		ToSql()
	if err != nil {
		return nil, err
	}
	var creds []*model.Credential
	if err := s.db.SelectContext(ctx, &creds, query, args...); err != nil {
		return nil, fmt.Errorf("failed to select credentials for device %d: %w", deviceID, err)
	}
	return creds, nil
}

// RecordCredentialAttempt appends an attempt row and folds the outcome into
// the credential counters. Successful attempts refresh last_used.
func (s *Store) RecordCredentialAttempt(ctx context.Context, attempt *model.CredentialAttempt) error {
	if attempt == nil {
		return fmt.Errorf("attempt is nil")
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin attempt transaction: %w", err)
	}
	defer tx.Rollback()

	cmd := generateCommand(*attempt, insertCredentialAttemptFormat, "id", "attempted_at")
	if _, err := tx.NamedExecContext(ctx, cmd, attempt); err != nil {
		return fmt.Errorf("failed to insert credential attempt: %w", err)
	}

	update := builder.Update(TPCredentials)
	if attempt.Success {
		update = update.
			Set("success_count", sqrl.Expr("success_count + 1")).
			Set("last_used", sqrl.Expr("now()"))
	} else {
		update = update.Set("failure_count", sqrl.Expr("failure_count + 1"))
	}
	query, args, err := update.Where("id = ?", attempt.CredentialID).ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update credential counters: %w", err)
	}
	return tx.Commit()
}

// ListCredentialAttempts returns the attempts recorded for a credential,
// newest first.
func (s *Store) ListCredentialAttempts(ctx context.Context, credentialID int64, limit int) ([]*model.CredentialAttempt, error) {
	b := builder.
		Select("*").From(TPCredentialAttempts).
		Where("credential_id = ?", credentialID).
		OrderBy("attempted_at DESC", "id DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	var attempts []*model.CredentialAttempt
	if err := s.db.SelectContext(ctx, &attempts, query, args...); err != nil {
		return nil, fmt.Errorf("failed to select credential attempts: %w", err)
	}
	return attempts, nil
}
