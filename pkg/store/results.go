package store

import (
	"context"
	"fmt"

	sqrl "github.com/Masterminds/squirrel"

	"github.com/netraven-io/netraven/pkg/model"
)

const TPJobResults = "job_results"

var insertJobResultFormat = `INSERT INTO ` + TPJobResults + ` (%s) VALUES (%s)`

// InsertJobResult appends the per-device outcome of a job execution
func (s *Store) InsertJobResult(ctx context.Context, result *model.JobResult) error {
	if result == nil {
		return fmt.Errorf("result is nil")
	}
	cmd := generateCommand(*result, insertJobResultFormat, "id", "created_at")
	if _, err := s.db.NamedExecContext(ctx, cmd, result); err != nil {
		return fmt.Errorf("failed to insert job result: %w", err)
	}
	return nil
}

// JobResultFilter narrows ListJobResults.
type JobResultFilter struct {
	JobID    int64
	DeviceID int64
	Limit    int
	Offset   int
}

// ListJobResults returns results matching the filter, newest first
func (s *Store) ListJobResults(ctx context.Context, filter JobResultFilter) ([]*model.JobResult, error) {
	b := builder.Select("*").From(TPJobResults)
	if filter.JobID > 0 {
		b = b.Where(sqrl.Eq{"job_id": filter.JobID})
	}
	if filter.DeviceID > 0 {
		b = b.Where(sqrl.Eq{"device_id": filter.DeviceID})
	}
	b = b.OrderBy("created_at DESC", "id DESC")
	if filter.Limit > 0 {
		b = b.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		b = b.Offset(uint64(filter.Offset))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	var results []*model.JobResult
	if err := s.db.SelectContext(ctx, &results, query, args...); err != nil {
		return nil, fmt.Errorf("failed to select job results: %w", err)
	}
	return results, nil
}

// CountJobResults counts results for a job
func (s *Store) CountJobResults(ctx context.Context, jobID int64) (int, error) {
	query, args, err := builder.
		Select("COUNT(*)").From(TPJobResults).
		Where("job_id = ?", jobID).
		ToSql()
	if err != nil {
		return 0, err
	}
	var count int
	if err := s.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count job results: %w", err)
	}
	return count, nil
}
