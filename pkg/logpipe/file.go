package logpipe

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/netraven-io/netraven/pkg/config"
	"github.com/netraven-io/netraven/pkg/model"
)

// fileSink appends records to a rolling file. Rotation triggers on size or
// on a timed boundary (when/interval), whichever fires first; rotated files
// get a timestamp suffix and old backups beyond backupCount are removed.
type fileSink struct {
	path       string
	format     string // "json" or "text"
	minLevel   model.LogLevel
	maxSize    int64 // bytes; 0 disables size rotation
	backups    int
	when       string
	interval   int
	nextRotate time.Time

	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

func newFileSink(path string) (*fileSink, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	s := &fileSink{
		path:     path,
		format:   config.GetLogFileFormat(),
		minLevel: model.LogLevel(config.GetLogFileLevel()),
		maxSize:  int64(config.GetLogFileMaxSizeMB()) * 1024 * 1024,
		backups:  config.GetLogFileBackupCount(),
		when:     config.GetLogFileWhen(),
		interval: config.GetLogFileInterval(),
		file:     file,
		encoder:  json.NewEncoder(file),
	}
	s.nextRotate = s.nextRotation(time.Now())
	return s, nil
}

// nextRotation computes the next timed boundary after now. The when values
// mirror the configuration surface: "S", "M", "H", "D", and "midnight".
func (s *fileSink) nextRotation(now time.Time) time.Time {
	n := s.interval
	if n < 1 {
		n = 1
	}
	switch s.when {
	case "S":
		return now.Add(time.Duration(n) * time.Second)
	case "M":
		return now.Add(time.Duration(n) * time.Minute)
	case "H":
		return now.Add(time.Duration(n) * time.Hour)
	case "D":
		return now.AddDate(0, 0, n)
	default: // midnight
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
		if n > 1 {
			next = next.AddDate(0, 0, n-1)
		}
		return next
	}
}

func (s *fileSink) Write(record *model.LogRecord) error {
	if !record.Level.AtLeast(s.minLevel) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	rotate := !s.nextRotate.IsZero() && now.After(s.nextRotate)
	if !rotate && s.maxSize > 0 {
		if info, err := s.file.Stat(); err == nil && info.Size() >= s.maxSize {
			rotate = true
		}
	}
	if rotate {
		if err := s.rotate(now); err != nil {
			return fmt.Errorf("rotating log file: %w", err)
		}
	}

	if s.format == "text" {
		_, err := fmt.Fprintf(s.file, "%s %s [%s] %s: %s\n",
			record.Timestamp.Format(time.RFC3339), record.Level, record.LogType,
			record.Source, record.Message)
		return err
	}
	return s.encoder.Encode(record)
}

func (s *fileSink) rotate(now time.Time) error {
	if err := s.file.Close(); err != nil {
		return err
	}

	rotatedPath := s.path + "." + now.Format("20060102-150405")
	if err := os.Rename(s.path, rotatedPath); err != nil {
		return err
	}

	file, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	s.file = file
	s.encoder = json.NewEncoder(file)
	s.nextRotate = s.nextRotation(now)

	if s.backups > 0 {
		s.cleanupOldFiles()
	}
	return nil
}

func (s *fileSink) cleanupOldFiles() {
	matches, err := filepath.Glob(s.path + ".*")
	if err != nil {
		return
	}

	type backup struct {
		path    string
		modTime time.Time
	}
	var files []backup
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		files = append(files, backup{path, info.ModTime()})
	}
	if len(files) <= s.backups {
		return
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})
	for i := 0; i < len(files)-s.backups; i++ {
		os.Remove(files[i].path)
	}
}

func (s *fileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
