package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/netraven-io/netraven/internal/testutil"
	"github.com/netraven-io/netraven/pkg/config"
	"github.com/netraven-io/netraven/pkg/executor"
	"github.com/netraven-io/netraven/pkg/logpipe"
	"github.com/netraven-io/netraven/pkg/model"
)

// captureLog collects pipeline records in memory for assertions
type captureLog struct {
	mu      sync.Mutex
	records []*model.LogRecord
}

func (c *captureLog) InsertLogRecord(_ context.Context, record *model.LogRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, record)
	return nil
}

func (c *captureLog) contains(substr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.records {
		if strings.Contains(r.Message, substr) {
			return true
		}
	}
	return false
}

func (c *captureLog) count(substr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.records {
		if strings.Contains(r.Message, substr) {
			n++
		}
	}
	return n
}

// fakeHandler scripts per-device outcomes and tracks attempts, the order
// devices are first seen, and peak concurrency.
type fakeHandler struct {
	mu       sync.Mutex
	attempts map[int64]int
	order    []int64
	inputs   map[int64]executor.Input
	handle   func(in executor.Input, attempt int) (*model.JobResult, error)

	delay       time.Duration
	inflight    int32
	maxInflight int32
}

func newFakeHandler(handle func(in executor.Input, attempt int) (*model.JobResult, error)) *fakeHandler {
	return &fakeHandler{
		attempts: make(map[int64]int),
		inputs:   make(map[int64]executor.Input),
		handle:   handle,
	}
}

func (f *fakeHandler) HandleDevice(_ context.Context, in executor.Input) (*model.JobResult, error) {
	cur := atomic.AddInt32(&f.inflight, 1)
	defer atomic.AddInt32(&f.inflight, -1)
	for {
		max := atomic.LoadInt32(&f.maxInflight)
		if cur <= max || atomic.CompareAndSwapInt32(&f.maxInflight, max, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.attempts[in.Device.ID]++
	attempt := f.attempts[in.Device.ID]
	if attempt == 1 {
		f.order = append(f.order, in.Device.ID)
	}
	f.inputs[in.Device.ID] = in
	f.mu.Unlock()

	return f.handle(in, attempt)
}

func (f *fakeHandler) attemptCount(deviceID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[deviceID]
}

func (f *fakeHandler) totalAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.attempts {
		n += c
	}
	return n
}

// fakeResults stands in for the store when the dispatcher persists
// synthesized results itself.
type fakeResults struct {
	mu   sync.Mutex
	rows []*model.JobResult
}

func (f *fakeResults) InsertJobResult(_ context.Context, result *model.JobResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, result)
	return nil
}

func succeed(in executor.Input, _ int) (*model.JobResult, error) {
	return model.NewJobResult(in.Job.ID, in.Device.ID, true), nil
}

func failRetriable(in executor.Input) *model.JobResult {
	return model.FailureResult(in.Job.ID, in.Device.ID, "unreachable", "connect refused", true)
}

func newTestDispatcher(t *testing.T, handler DeviceHandler, settings map[string]interface{}) (*Dispatcher, *fakeResults, *captureLog) {
	t.Helper()
	config.SetValue("logging.stdout.enabled", false)
	config.SetValue("scheduler.retry_backoff_seconds", 0)
	for key, value := range settings {
		config.SetValue(key, value)
	}
	t.Cleanup(config.Reset)

	capture := &captureLog{}
	logs, err := logpipe.New(capture)
	if err != nil {
		t.Fatalf("building pipeline: %v", err)
	}
	t.Cleanup(func() { logs.Close() })

	sink := &fakeResults{}
	return New(handler, sink, logs), sink, capture
}

func devices(ids ...int64) []*model.Device {
	out := make([]*model.Device, 0, len(ids))
	for _, id := range ids {
		out = append(out, testutil.Device(id, "10.0.0.1"))
	}
	return out
}

func TestDispatchAllSucceed(t *testing.T) {
	handler := newFakeHandler(succeed)
	d, _, capture := newTestDispatcher(t, handler, nil)

	results, err := d.Dispatch(context.Background(), testutil.Job(1, "reachability"), devices(3, 1, 2), nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, want := range []int64{1, 2, 3} {
		if results[i].DeviceID != want {
			t.Errorf("results[%d].DeviceID = %d, want %d", i, results[i].DeviceID, want)
		}
		if !results[i].Success {
			t.Errorf("device %d: expected success", want)
		}
		if got := handler.attemptCount(want); got != 1 {
			t.Errorf("device %d: %d attempts, want 1", want, got)
		}
	}
	if !capture.contains("dispatch complete: 3/3 devices succeeded") {
		t.Error("missing dispatch summary log")
	}
}

func TestDispatchSubmissionOrderIsStable(t *testing.T) {
	handler := newFakeHandler(succeed)
	d, _, _ := newTestDispatcher(t, handler, map[string]interface{}{
		"worker.thread_pool_size": 1,
	})

	if _, err := d.Dispatch(context.Background(), testutil.Job(1, "reachability"), devices(5, 2, 9, 1), nil); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	want := []int64{1, 2, 5, 9}
	if len(handler.order) != len(want) {
		t.Fatalf("saw %d devices, want %d", len(handler.order), len(want))
	}
	for i, id := range want {
		if handler.order[i] != id {
			t.Fatalf("submission order %v, want %v", handler.order, want)
		}
	}
}

func TestDispatchRespectsPoolSize(t *testing.T) {
	handler := newFakeHandler(succeed)
	handler.delay = 30 * time.Millisecond
	d, _, _ := newTestDispatcher(t, handler, map[string]interface{}{
		"worker.thread_pool_size": 2,
	})

	if _, err := d.Dispatch(context.Background(), testutil.Job(1, "reachability"), devices(1, 2, 3, 4, 5, 6), nil); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if peak := atomic.LoadInt32(&handler.maxInflight); peak > 2 {
		t.Errorf("peak concurrency %d exceeds pool size 2", peak)
	}
	if handler.totalAttempts() != 6 {
		t.Errorf("total attempts = %d, want 6", handler.totalAttempts())
	}
}

func TestDispatchRetriesRetriableFailure(t *testing.T) {
	handler := newFakeHandler(func(in executor.Input, attempt int) (*model.JobResult, error) {
		if attempt < 3 {
			return failRetriable(in), nil
		}
		return model.NewJobResult(in.Job.ID, in.Device.ID, true), nil
	})
	d, _, capture := newTestDispatcher(t, handler, map[string]interface{}{
		"scheduler.max_retries": 2,
	})

	results, err := d.Dispatch(context.Background(), testutil.Job(1, "reachability"), devices(1), nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !results[0].Success {
		t.Error("expected success after retries")
	}
	if got := handler.attemptCount(1); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	if capture.count("retrying device dev-1") != 2 {
		t.Errorf("retry logs = %d, want 2", capture.count("retrying device dev-1"))
	}
	if !capture.contains("attempt 2 of 3") {
		t.Error("missing attempt numbering in retry log")
	}
}

func TestDispatchBackoffDoubles(t *testing.T) {
	handler := newFakeHandler(func(in executor.Input, _ int) (*model.JobResult, error) {
		return failRetriable(in), nil
	})
	d, _, capture := newTestDispatcher(t, handler, map[string]interface{}{
		"scheduler.max_retries": 2,
	})
	d.backoff = time.Millisecond

	if _, err := d.Dispatch(context.Background(), testutil.Job(1, "reachability"), devices(1), nil); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !capture.contains("in 1ms (attempt 2 of 3)") {
		t.Error("first retry should wait the base backoff")
	}
	if !capture.contains("in 2ms (attempt 3 of 3)") {
		t.Error("second retry should wait twice the base backoff")
	}
}

func TestDispatchDoesNotRetryNonRetriable(t *testing.T) {
	handler := newFakeHandler(func(in executor.Input, _ int) (*model.JobResult, error) {
		return model.FailureResult(in.Job.ID, in.Device.ID, "command", "command rejected", false), nil
	})
	d, _, _ := newTestDispatcher(t, handler, map[string]interface{}{
		"scheduler.max_retries": 2,
	})

	results, err := d.Dispatch(context.Background(), testutil.Job(1, "reachability"), devices(1), nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if results[0].Success {
		t.Error("expected failure result")
	}
	if got := handler.attemptCount(1); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestDispatchExhaustsRetries(t *testing.T) {
	handler := newFakeHandler(func(in executor.Input, _ int) (*model.JobResult, error) {
		return failRetriable(in), nil
	})
	d, _, _ := newTestDispatcher(t, handler, map[string]interface{}{
		"scheduler.max_retries": 1,
	})

	results, err := d.Dispatch(context.Background(), testutil.Job(1, "reachability"), devices(1), nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if results[0].Success {
		t.Error("expected failure after exhausting retries")
	}
	if got := handler.attemptCount(1); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestDispatchStorageErrorDoesNotAbortSiblings(t *testing.T) {
	storageErr := errors.New("insert job_results: connection reset")
	handler := newFakeHandler(func(in executor.Input, _ int) (*model.JobResult, error) {
		if in.Device.ID == 2 {
			return nil, storageErr
		}
		return model.NewJobResult(in.Job.ID, in.Device.ID, true), nil
	})
	d, _, _ := newTestDispatcher(t, handler, nil)

	results, err := d.Dispatch(context.Background(), testutil.Job(1, "reachability"), devices(1, 2, 3), nil)
	if !errors.Is(err, storageErr) {
		t.Fatalf("err = %v, want the storage error", err)
	}
	if errors.Is(err, ErrDispatcher) {
		t.Error("storage errors must not be tagged as dispatcher failures")
	}
	if results != nil {
		t.Error("expected nil results on run failure")
	}
	for _, id := range []int64{1, 2, 3} {
		if handler.attemptCount(id) != 1 {
			t.Errorf("device %d: %d attempts, want 1", id, handler.attemptCount(id))
		}
	}
}

func TestDispatchPanicBecomesDispatcherError(t *testing.T) {
	handler := newFakeHandler(func(in executor.Input, _ int) (*model.JobResult, error) {
		if in.Device.ID == 1 {
			panic("boom")
		}
		return model.NewJobResult(in.Job.ID, in.Device.ID, true), nil
	})
	d, _, _ := newTestDispatcher(t, handler, nil)

	_, err := d.Dispatch(context.Background(), testutil.Job(1, "reachability"), devices(1, 2), nil)
	if !errors.Is(err, ErrDispatcher) {
		t.Fatalf("err = %v, want ErrDispatcher", err)
	}
	if !strings.Contains(err.Error(), "panic") {
		t.Errorf("err = %v, want panic detail", err)
	}
}

func TestDispatchCancelledBeforeStart(t *testing.T) {
	handler := newFakeHandler(succeed)
	d, sink, capture := newTestDispatcher(t, handler, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := d.Dispatch(ctx, testutil.Job(1, "reachability"), devices(1, 2, 3), nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for _, r := range results {
		if r.Success {
			t.Errorf("device %d: cancelled device reported success", r.DeviceID)
		}
		if r.Details[model.DetailErrorType] != model.ErrorTypeCancelled {
			t.Errorf("device %d: error_type = %v", r.DeviceID, r.Details[model.DetailErrorType])
		}
	}
	if handler.totalAttempts() != 0 {
		t.Errorf("handler ran %d times for a cancelled job", handler.totalAttempts())
	}
	if len(sink.rows) != 3 {
		t.Errorf("persisted %d synthesized results, want 3", len(sink.rows))
	}
	if capture.count("dropped: job cancelled") != 3 {
		t.Errorf("drop logs = %d, want 3", capture.count("dropped: job cancelled"))
	}
}

func TestDispatchCancelDuringBackoff(t *testing.T) {
	handler := newFakeHandler(func(in executor.Input, _ int) (*model.JobResult, error) {
		return failRetriable(in), nil
	})
	d, _, _ := newTestDispatcher(t, handler, map[string]interface{}{
		"scheduler.max_retries": 3,
	})
	d.backoff = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	results, err := d.Dispatch(ctx, testutil.Job(1, "reachability"), devices(1), nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 800*time.Millisecond {
		t.Errorf("cancellation did not interrupt backoff (took %s)", elapsed)
	}
	if got := handler.attemptCount(1); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
	if results[0].Success {
		t.Error("expected the completed attempt's failure result")
	}
}

func TestDispatchCredentialRouting(t *testing.T) {
	handler := newFakeHandler(succeed)
	d, _, _ := newTestDispatcher(t, handler, nil)

	creds := map[int64][]*model.Credential{
		1: {testutil.Credential(100, "admin", 10)},
	}
	if _, err := d.Dispatch(context.Background(), testutil.Job(1, "reachability"), devices(1, 2), creds); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got := handler.inputs[1].Credentials; len(got) != 1 || got[0].ID != 100 {
		t.Errorf("device 1 credentials = %v, want the pre-resolved set", got)
	}
	if got := handler.inputs[2].Credentials; got == nil || len(got) != 0 {
		t.Errorf("device 2 credentials = %v, want empty non-nil", got)
	}

	if _, err := d.Dispatch(context.Background(), testutil.Job(1, "reachability"), devices(3), nil); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if handler.inputs[3].Credentials != nil {
		t.Error("nil credential map should delegate resolution to the handler")
	}
}

func TestDispatchEmptyDeviceList(t *testing.T) {
	d, _, _ := newTestDispatcher(t, newFakeHandler(succeed), nil)
	results, err := d.Dispatch(context.Background(), testutil.Job(1, "reachability"), nil, nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if results != nil {
		t.Errorf("results = %v, want nil", results)
	}
}
