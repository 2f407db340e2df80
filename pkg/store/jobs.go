package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/netraven-io/netraven/pkg/model"
	"github.com/netraven-io/netraven/pkg/util"
)

const (
	TPJobs    = "jobs"
	TPJobTags = "job_tags"
)

// GetJob loads one job by id
func (s *Store) GetJob(ctx context.Context, id int64) (*model.Job, error) {
	query, args, err := builder.Select("*").From(TPJobs).Where("id = ?", id).ToSql()
	if err != nil {
		return nil, err
	}
	var job model.Job
	if err := s.db.GetContext(ctx, &job, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, util.NewNotFoundError("job", id)
		}
		return nil, fmt.Errorf("failed to select job %d: %w", id, err)
	}
	return &job, nil
}

// ListEnabledJobs returns all enabled jobs including protected system jobs,
// ordered by id.
func (s *Store) ListEnabledJobs(ctx context.Context) ([]*model.Job, error) {
	query, args, err := builder.
		Select("*").From(TPJobs).
		Where("is_enabled = TRUE").
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, err
	}
	var jobs []*model.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to select enabled jobs: %w", err)
	}
	return jobs, nil
}

// UpdateJobStatus applies a guarded status transition. Transitions outside
// the state machine are skipped with a warning so duplicate queue deliveries
// stay harmless. Returns whether the update was applied.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID int64, to model.JobStatus) (bool, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job.Status == to {
		return false, nil
	}
	if !job.Status.CanTransition(to) {
		util.WithJob(jobID).Warnf("ignoring job status transition %s -> %s", job.Status, to)
		return false, nil
	}

	// compare-and-set on the previous status to stay linear under
	// concurrent deliveries
	query, args, err := builder.
		Update(TPJobs).
		Set("status", string(to)).
		Where("id = ? AND status = ?", jobID, string(job.Status)).
		ToSql()
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update job %d status: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
