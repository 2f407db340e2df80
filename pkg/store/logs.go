package store

import (
	"context"
	"fmt"
	"time"

	sqrl "github.com/Masterminds/squirrel"

	"github.com/netraven-io/netraven/pkg/model"
)

const TPLogs = "logs"

var insertLogFormat = `INSERT INTO ` + TPLogs + ` (%s) VALUES (%s)`

// InsertLogRecord appends a unified log row. The serial id assigned by the
// database provides the global display order.
func (s *Store) InsertLogRecord(ctx context.Context, record *model.LogRecord) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	cmd := generateCommand(*record, insertLogFormat, "id")
	if _, err := s.db.NamedExecContext(ctx, cmd, record); err != nil {
		return fmt.Errorf("failed to insert log record: %w", err)
	}
	return nil
}

// LogFilter narrows ListLogRecords.
type LogFilter struct {
	JobID    int64
	DeviceID int64
	LogType  model.LogType
	Level    model.LogLevel
	Since    time.Time
	Until    time.Time
	Limit    int
	Offset   int
}

// ListLogRecords returns log rows matching the filter in id order
func (s *Store) ListLogRecords(ctx context.Context, filter LogFilter) ([]*model.LogRecord, error) {
	b := builder.Select("*").From(TPLogs)
	if filter.JobID > 0 {
		b = b.Where(sqrl.Eq{"job_id": filter.JobID})
	}
	if filter.DeviceID > 0 {
		b = b.Where(sqrl.Eq{"device_id": filter.DeviceID})
	}
	if filter.LogType != "" {
		b = b.Where(sqrl.Eq{"log_type": string(filter.LogType)})
	}
	if filter.Level != "" {
		b = b.Where(sqrl.Eq{"level": string(filter.Level)})
	}
	if !filter.Since.IsZero() {
		b = b.Where("timestamp >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		b = b.Where("timestamp < ?", filter.Until)
	}
	b = b.OrderBy("id ASC")
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
	var records []*model.LogRecord
	if err := s.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("failed to select log records: %w", err)
	}
	return records, nil
}

// PurgeLogsBefore deletes log rows older than the cutoff and returns how
// many were removed. Retention housekeeping; results and snapshots are
// never purged here.
func (s *Store) PurgeLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query, args, err := builder.
		Delete(TPLogs).
		Where("timestamp < ?", cutoff).
		ToSql()
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to purge logs: %w", err)
	}
	return res.RowsAffected()
}
