package model

import "time"

// LogType categorizes a unified log record.
type LogType string

const (
	LogTypeJob        LogType = "job"
	LogTypeConnection LogType = "connection"
	LogTypeSession    LogType = "session"
	LogTypeSystem     LogType = "system"
)

// LogLevel is the severity of a unified log record.
type LogLevel string

const (
	LevelDebug    LogLevel = "debug"
	LevelInfo     LogLevel = "info"
	LevelWarning  LogLevel = "warning"
	LevelError    LogLevel = "error"
	LevelCritical LogLevel = "critical"
)

var levelSeverity = map[LogLevel]int{
	LevelDebug:    0,
	LevelInfo:     1,
	LevelWarning:  2,
	LevelError:    3,
	LevelCritical: 4,
}

// Severity returns a comparable rank; unknown levels rank as info
func (l LogLevel) Severity() int {
	if s, ok := levelSeverity[l]; ok {
		return s
	}
	return levelSeverity[LevelInfo]
}

// AtLeast reports whether l is at or above min
func (l LogLevel) AtLeast(min LogLevel) bool {
	return l.Severity() >= min.Severity()
}

// Destination names a log pipeline sink.
type Destination string

const (
	DestStdout  Destination = "stdout"
	DestFile    Destination = "file"
	DestDB      Destination = "db"
	DestChannel Destination = "channel"
)

// LogRecord is the unified log entry fanned out by the log pipeline. The
// serial id is assigned by the database and provides a global order
// tiebreaker for display.
type LogRecord struct {
	ID        int64     `db:"id" json:"id"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
	LogType   LogType   `db:"log_type" json:"log_type"`
	Level     LogLevel  `db:"level" json:"level"`
	JobID     *int64    `db:"job_id" json:"job_id,omitempty"`
	DeviceID  *int64    `db:"device_id" json:"device_id,omitempty"`
	Source    string    `db:"source" json:"source"`
	Message   string    `db:"message" json:"message"`
	Meta      JSONMap   `db:"meta" json:"meta,omitempty"`

	// Destinations overrides the configured default sinks when non-empty.
	// Not persisted.
	Destinations []Destination `db:"-" json:"-"`
}
