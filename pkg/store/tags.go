package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/netraven-io/netraven/pkg/model"
	"github.com/netraven-io/netraven/pkg/util"
)

const TPTags = "tags"

// GetTagByName loads one tag by its unique name
func (s *Store) GetTagByName(ctx context.Context, name string) (*model.Tag, error) {
	query, args, err := builder.Select("*").From(TPTags).Where("name = ?", name).ToSql()
	if err != nil {
		return nil, err
	}
	var tag model.Tag
	if err := s.db.GetContext(ctx, &tag, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, util.NewNotFoundError("tag", name)
		}
		return nil, fmt.Errorf("failed to select tag %q: %w", name, err)
	}
	return &tag, nil
}

// EnsureDefaultTag guarantees the reserved default tag exists
func (s *Store) EnsureDefaultTag(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+TPTags+` (name, type) VALUES ($1, 'system') ON CONFLICT (name) DO NOTHING`,
		model.DefaultTagName)
	if err != nil {
		return fmt.Errorf("failed to ensure default tag: %w", err)
	}
	return nil
}

// ListTagIDsForJob returns the tag ids attached to a job
func (s *Store) ListTagIDsForJob(ctx context.Context, jobID int64) ([]int64, error) {
	query, args, err := builder.
		Select("tag_id").From(TPJobTags).
		Where("job_id = ?", jobID).
		OrderBy("tag_id ASC").
		ToSql()
	if err != nil {
		return nil, err
	}
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("failed to select job tags: %w", err)
	}
	return ids, nil
}
