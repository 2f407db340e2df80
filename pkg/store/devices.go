package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sqrl "github.com/Masterminds/squirrel"

	"github.com/netraven-io/netraven/pkg/model"
	"github.com/netraven-io/netraven/pkg/util"
)

const (
	TPDevices    = "devices"
	TPDeviceTags = "device_tags"
)

// GetDevice loads one device by id
func (s *Store) GetDevice(ctx context.Context, id int64) (*model.Device, error) {
	query, args, err := builder.Select("*").From(TPDevices).Where("id = ?", id).ToSql()
	if err != nil {
		return nil, err
	}
	var device model.Device
	if err := s.db.GetContext(ctx, &device, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, util.NewNotFoundError("device", id)
		}
		return nil, fmt.Errorf("failed to select device %d: %w", id, err)
	}
	return &device, nil
}

// ListDevicesByTags returns the distinct devices carrying any of the given
// tags, ordered by id for stable dispatch submission.
func (s *Store) ListDevicesByTags(ctx context.Context, tagIDs []int64) ([]*model.Device, error) {
	if len(tagIDs) == 0 {
		return nil, nil
	}
	query, args, err := builder.
		Select("DISTINCT d.*").
		From(TPDevices + " d").
		Join(TPDeviceTags + " dt ON dt.device_id = d.id").
		Where(sqrl.Eq{"dt.tag_id": tagIDs}).
		OrderBy("d.id ASC").
		ToSql()
	if err != nil {
		return nil, err
	}
	var devices []*model.Device
	if err := s.db.SelectContext(ctx, &devices, query, args...); err != nil {
		return nil, fmt.Errorf("failed to select devices by tags: %w", err)
	}
	return devices, nil
}

// ListTagIDsForDevice returns the tag ids attached to a device
func (s *Store) ListTagIDsForDevice(ctx context.Context, deviceID int64) ([]int64, error) {
	query, args, err := builder.
		Select("tag_id").From(TPDeviceTags).
		Where("device_id = ?", deviceID).
		OrderBy("tag_id ASC").
		ToSql()
	if err != nil {
		return nil, err
	}
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("failed to select device tags: %w", err)
	}
	return ids, nil
}

// TouchDeviceLastSeen marks a successful contact with the device
func (s *Store) TouchDeviceLastSeen(ctx context.Context, deviceID int64) error {
	query, args, err := builder.
		Update(TPDevices).
		Set("last_updated", sqrl.Expr("now()")).
		Where("id = ?", deviceID).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update device %d: %w", deviceID, err)
	}
	return nil
}
