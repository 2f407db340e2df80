// Package logpipe is the unified log pipeline: one entry point fanning
// records out to stdout, file, database, and pub/sub channel sinks.
// Logging never fails the caller; sink errors are contained here.
package logpipe

import (
	"context"
	"sync"
	"time"

	"github.com/netraven-io/netraven/pkg/config"
	"github.com/netraven-io/netraven/pkg/model"
	"github.com/netraven-io/netraven/pkg/util"
)

// LogStore persists unified log rows. Satisfied by *store.Store.
type LogStore interface {
	InsertLogRecord(ctx context.Context, record *model.LogRecord) error
}

// Pipeline fans log records out to the configured sinks. stdout, file, and
// db writes run synchronously on the caller's goroutine so records for one
// (job, device) keep their emission order; the channel sink is
// fire-and-forget.
type Pipeline struct {
	minLevel model.LogLevel

	stdout  *stdoutSink
	file    *fileSink
	db      *dbSink
	channel *channelSink

	fileOnce sync.Once
}

// New builds the pipeline from configuration. store may be nil when the
// db sink is disabled.
func New(store LogStore) (*Pipeline, error) {
	p := &Pipeline{minLevel: model.LogLevel(config.GetLogLevel())}
	if config.IsStdoutSinkEnabled() {
		p.stdout = newStdoutSink()
	}
	if path := config.GetLogFilePath(); path != "" {
		fs, err := newFileSink(path)
		if err != nil {
			return nil, err
		}
		p.file = fs
	}
	if config.IsDBSinkEnabled() && store != nil {
		p.db = &dbSink{store: store}
	}
	if config.IsChannelSinkEnabled() {
		p.channel = newChannelSink()
	}
	return p, nil
}

// Log delivers a record to its destinations. It never returns an error.
func (p *Pipeline) Log(record *model.LogRecord) {
	if record == nil {
		return
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	if record.Level == "" {
		record.Level = model.LevelInfo
	}
	if !record.Level.AtLeast(p.minLevel) {
		return
	}

	dests := record.Destinations
	if len(dests) == 0 {
		dests = p.defaultDestinations(record)
	}
	for _, dest := range dests {
		switch dest {
		case model.DestStdout:
			if p.stdout != nil {
				p.stdout.Write(record)
			}
		case model.DestFile:
			if p.file != nil {
				if err := p.file.Write(record); err != nil {
					p.fileOnce.Do(func() {
						util.Errorf("log pipeline: file sink failing, entries dropped: %v", err)
					})
				}
			}
		case model.DestDB:
			if p.db != nil {
				p.db.Write(record)
			}
		case model.DestChannel:
			if p.channel != nil {
				p.channel.Write(record)
			}
		}
	}
}

// defaultDestinations selects sinks for a record carrying no explicit set.
// Session transcripts stay out of the database by default; they are bulky
// and belong in the file sink unless a caller overrides.
func (p *Pipeline) defaultDestinations(record *model.LogRecord) []model.Destination {
	dests := make([]model.Destination, 0, 4)
	if p.stdout != nil {
		dests = append(dests, model.DestStdout)
	}
	if p.file != nil {
		dests = append(dests, model.DestFile)
	}
	if p.db != nil && record.LogType != model.LogTypeSession {
		dests = append(dests, model.DestDB)
	}
	if p.channel != nil {
		dests = append(dests, model.DestChannel)
	}
	return dests
}

// Close flushes and releases sink resources
func (p *Pipeline) Close() error {
	var firstErr error
	if p.file != nil {
		if err := p.file.Close(); err != nil {
			firstErr = err
		}
	}
	if p.channel != nil {
		if err := p.channel.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// JobLog builds a job lifecycle record
func JobLog(jobID int64, level model.LogLevel, source, message string) *model.LogRecord {
	return &model.LogRecord{
		LogType: model.LogTypeJob,
		Level:   level,
		JobID:   &jobID,
		Source:  source,
		Message: message,
	}
}

// ConnectionLog builds a per-credential-attempt record
func ConnectionLog(jobID, deviceID int64, level model.LogLevel, source, message string) *model.LogRecord {
	return &model.LogRecord{
		LogType:  model.LogTypeConnection,
		Level:    level,
		JobID:    &jobID,
		DeviceID: &deviceID,
		Source:   source,
		Message:  message,
	}
}

// SessionLog builds a record carrying a redacted session transcript
func SessionLog(jobID, deviceID int64, source, transcript string) *model.LogRecord {
	return &model.LogRecord{
		LogType:  model.LogTypeSession,
		Level:    model.LevelDebug,
		JobID:    &jobID,
		DeviceID: &deviceID,
		Source:   source,
		Message:  transcript,
	}
}

// SystemLog builds a process-level record
func SystemLog(level model.LogLevel, source, message string) *model.LogRecord {
	return &model.LogRecord{
		LogType: model.LogTypeSystem,
		Level:   level,
		Source:  source,
		Message: message,
	}
}
