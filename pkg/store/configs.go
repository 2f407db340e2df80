package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqrl "github.com/Masterminds/squirrel"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/netraven-io/netraven/pkg/model"
	"github.com/netraven-io/netraven/pkg/util"
)

const TPDeviceConfigurations = "device_configurations"

// PersistOutcome reports what PersistConfig did.
type PersistOutcome struct {
	Stored   bool   `json:"stored"`
	Hash     string `json:"hash"`
	ConfigID int64  `json:"config_id,omitempty"`
}

// PersistConfig stores a configuration snapshot unless it matches the most
// recent snapshot for the device by content hash. Snapshots are append-only;
// dedup compares against the latest row only, so a config reverting to an
// older state is still recorded.
func (s *Store) PersistConfig(ctx context.Context, deviceID int64, configText string, metadata model.JSONMap) (*PersistOutcome, error) {
	hash := model.HashConfig(configText)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin persist transaction: %w", err)
	}
	defer tx.Rollback()

	var latestHash string
	err = tx.GetContext(ctx, &latestHash,
		`SELECT data_hash FROM `+TPDeviceConfigurations+
			` WHERE device_id = $1 ORDER BY retrieved_at DESC, id DESC LIMIT 1 FOR UPDATE`,
		deviceID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to read latest snapshot hash: %w", err)
	}
	if err == nil && latestHash == hash {
		return &PersistOutcome{Stored: false, Hash: hash}, nil
	}

	var id int64
	query, args, err := builder.
		Insert(TPDeviceConfigurations).
		Columns("device_id", "config_text", "data_hash", "config_metadata").
		Values(deviceID, configText, hash, metadata).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return nil, err
	}
	if err := tx.GetContext(ctx, &id, query, args...); err != nil {
		return nil, fmt.Errorf("failed to insert snapshot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return &PersistOutcome{Stored: true, Hash: hash, ConfigID: id}, nil
}

// GetConfig loads one snapshot by id
func (s *Store) GetConfig(ctx context.Context, id int64) (*model.DeviceConfiguration, error) {
	query, args, err := builder.
		Select("*").From(TPDeviceConfigurations).
		Where("id = ?", id).
		ToSql()
	if err != nil {
		return nil, err
	}
	var cfg model.DeviceConfiguration
	if err := s.db.GetContext(ctx, &cfg, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, util.NewNotFoundError("configuration", id)
		}
		return nil, fmt.Errorf("failed to select configuration %d: %w", id, err)
	}
	return &cfg, nil
}

// LatestConfigForDevice returns the newest snapshot for a device
func (s *Store) LatestConfigForDevice(ctx context.Context, deviceID int64) (*model.DeviceConfiguration, error) {
	query, args, err := builder.
		Select("*").From(TPDeviceConfigurations).
		Where("device_id = ?", deviceID).
		OrderBy("retrieved_at DESC", "id DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, err
	}
	var cfg model.DeviceConfiguration
	if err := s.db.GetContext(ctx, &cfg, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, util.NewNotFoundError("configuration for device", deviceID)
		}
		return nil, fmt.Errorf("failed to select latest configuration: %w", err)
	}
	return &cfg, nil
}

// ListConfigsForDevice returns snapshots for a device, newest first
func (s *Store) ListConfigsForDevice(ctx context.Context, deviceID int64, limit int) ([]*model.DeviceConfiguration, error) {
	b := builder.
		Select("id", "device_id", "retrieved_at", "data_hash", "config_metadata").
		From(TPDeviceConfigurations).
		Where("device_id = ?", deviceID).
		OrderBy("retrieved_at DESC", "id DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	var cfgs []*model.DeviceConfiguration
	if err := s.db.SelectContext(ctx, &cfgs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to select configurations: %w", err)
	}
	return cfgs, nil
}

// ConfigSearchFilter narrows SearchConfigs.
type ConfigSearchFilter struct {
	DeviceID int64
	Since    time.Time
	Until    time.Time
	Limit    int
}

// ConfigSearchResult is one full-text search hit with a highlighted snippet.
type ConfigSearchResult struct {
	ID          int64     `db:"id" json:"id"`
	DeviceID    int64     `db:"device_id" json:"device_id"`
	RetrievedAt time.Time `db:"retrieved_at" json:"retrieved_at"`
	DataHash    string    `db:"data_hash" json:"data_hash"`
	Snippet     string    `db:"snippet" json:"snippet"`
}

// SearchConfigs runs a full-text query over snapshot texts
func (s *Store) SearchConfigs(ctx context.Context, text string, filter ConfigSearchFilter) ([]*ConfigSearchResult, error) {
	b := builder.
		Select("id", "device_id", "retrieved_at", "data_hash").
		Column(sqrl.Expr(
			"ts_headline('english', config_text, plainto_tsquery('english', ?)) AS snippet", text)).
		From(TPDeviceConfigurations).
		Where("to_tsvector('english', config_text) @@ plainto_tsquery('english', ?)", text)
	if filter.DeviceID > 0 {
		b = b.Where(sqrl.Eq{"device_id": filter.DeviceID})
	}
	if !filter.Since.IsZero() {
		b = b.Where("retrieved_at >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		b = b.Where("retrieved_at < ?", filter.Until)
	}
	b = b.OrderBy("retrieved_at DESC", "id DESC")
	if filter.Limit > 0 {
		b = b.Limit(uint64(filter.Limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	var results []*ConfigSearchResult
	if err := s.db.SelectContext(ctx, &results, query, args...); err != nil {
		return nil, fmt.Errorf("failed to search configurations: %w", err)
	}
	return results, nil
}

// DiffConfigs renders a unified diff between two stored snapshots
func (s *Store) DiffConfigs(ctx context.Context, aID, bID int64) (string, error) {
	a, err := s.GetConfig(ctx, aID)
	if err != nil {
		return "", err
	}
	b, err := s.GetConfig(ctx, bID)
	if err != nil {
		return "", err
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(a.ConfigText),
		B:        difflib.SplitLines(b.ConfigText),
		FromFile: fmt.Sprintf("config_%d", a.ID),
		FromDate: a.RetrievedAt.UTC().Format(time.RFC3339),
		ToFile:   fmt.Sprintf("config_%d", b.ID),
		ToDate:   b.RetrievedAt.UTC().Format(time.RFC3339),
		Context:  3,
	}
	return difflib.GetUnifiedDiffString(diff)
}

// PruneConfigs removes all but the newest keep snapshots for a device and
// returns how many rows were deleted.
func (s *Store) PruneConfigs(ctx context.Context, deviceID int64, keep int) (int64, error) {
	if keep < 1 {
		return 0, fmt.Errorf("keep must be at least 1")
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM `+TPDeviceConfigurations+` WHERE device_id = $1 AND id NOT IN (
			SELECT id FROM `+TPDeviceConfigurations+
			` WHERE device_id = $1 ORDER BY retrieved_at DESC, id DESC LIMIT $2)`,
		deviceID, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune configurations: %w", err)
	}
	return res.RowsAffected()
}
