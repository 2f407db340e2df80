package logpipe

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/netraven-io/netraven/pkg/config"
	"github.com/netraven-io/netraven/pkg/model"
	"github.com/netraven-io/netraven/pkg/util"
)

// channelSink publishes JSON records to <prefix>:<log_type> for live
// subscribers. Delivery is fire-and-forget through a bounded buffer; when
// the buffer is full records are dropped rather than blocking callers.
type channelSink struct {
	client *redis.Client
	prefix string

	buf      chan *model.LogRecord
	done     chan struct{}
	wg       sync.WaitGroup
	dropOnce sync.Once
}

func newChannelSink() *channelSink {
	client := redis.NewClient(&redis.Options{
		Addr:     config.GetChannelSinkAddr(),
		DB:       config.GetChannelSinkDB(),
		Password: config.GetChannelSinkPassword(),
	})
	s := &channelSink{
		client: client,
		prefix: config.GetChannelPrefix(),
		buf:    make(chan *model.LogRecord, 256),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.publishLoop()
	return s
}

func (s *channelSink) Write(record *model.LogRecord) {
	select {
	case s.buf <- record:
	default:
		s.dropOnce.Do(func() {
			util.Warnf("log pipeline: channel sink backlogged, dropping records")
		})
	}
}

func (s *channelSink) publishLoop() {
	defer s.wg.Done()
	for {
		select {
		case record := <-s.buf:
			s.publish(record)
		case <-s.done:
			for {
				select {
				case record := <-s.buf:
					s.publish(record)
				default:
					return
				}
			}
		}
	}
}

func (s *channelSink) publish(record *model.LogRecord) {
	payload, err := json.Marshal(record)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.client.Publish(ctx, s.prefix+":"+string(record.LogType), payload)
}

func (s *channelSink) Close() error {
	close(s.done)
	s.wg.Wait()
	return s.client.Close()
}
