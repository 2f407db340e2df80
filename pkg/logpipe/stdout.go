package logpipe

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/netraven-io/netraven/pkg/model"
)

// stdoutSink renders records through a dedicated logrus instance on
// stdout. The process logger stays on stderr; pipeline output is data.
type stdoutSink struct {
	logger *logrus.Logger
}

func newStdoutSink() *stdoutSink {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	// the pipeline filters levels; print whatever arrives
	logger.SetLevel(logrus.DebugLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return &stdoutSink{logger: logger}
}

func (s *stdoutSink) Write(record *model.LogRecord) error {
	entry := s.logger.WithFields(logrus.Fields{
		"type":   record.LogType,
		"source": record.Source,
	})
	if record.JobID != nil {
		entry = entry.WithField("job_id", *record.JobID)
	}
	if record.DeviceID != nil {
		entry = entry.WithField("device_id", *record.DeviceID)
	}
	if len(record.Meta) > 0 {
		entry = entry.WithField("meta", map[string]interface{}(record.Meta))
	}

	switch record.Level {
	case model.LevelDebug:
		entry.Debug(record.Message)
	case model.LevelWarning:
		entry.Warn(record.Message)
	case model.LevelError, model.LevelCritical:
		entry.Error(record.Message)
	default:
		entry.Info(record.Message)
	}
	return nil
}
