package logpipe

import (
	"context"
	"sync"
	"time"

	"github.com/netraven-io/netraven/pkg/model"
	"github.com/netraven-io/netraven/pkg/util"
)

// dbSink inserts records into the unified log table. Failures get one
// retry, then are swallowed: a reporting outage must never take down the
// work being reported on. The first drop is surfaced on the process log.
type dbSink struct {
	store      LogStore
	reportOnce sync.Once
}

func (s *dbSink) Write(record *model.LogRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.store.InsertLogRecord(ctx, record)
	if err != nil {
		err = s.store.InsertLogRecord(ctx, record)
	}
	if err != nil {
		s.reportOnce.Do(func() {
			util.Errorf("log pipeline: db sink failing, entries dropped: %v", err)
		})
	}
}
