// Package queue is the redis layer between scheduler, workers, and
// streaming consumers: a pending list with per-consumer claims for
// at-least-once delivery, a persistent schedule registry keyed by
// (job id, schedule signature), and pub/sub channels.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/netraven-io/netraven/pkg/config"
	"github.com/netraven-io/netraven/pkg/util"
)

// Namespace prefixes every redis key and channel the queue touches.
const Namespace = "netraven"

// Trigger values recorded on a task.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// Task is one queued runner invocation.
type Task struct {
	Handle     string    `json:"handle"`
	JobID      int64     `json:"job_id"`
	Trigger    string    `json:"trigger"`
	EnqueuedAt time.Time `json:"enqueued_at"`

	// set on claim; Ack needs the exact list entry and owner
	raw      string
	consumer string
}

// Queue wraps one redis connection. Scheduler and each worker open their
// own.
type Queue struct {
	client *redis.Client
	ns     string
}

// New creates a queue client from configuration.
func New() *Queue {
	return &Queue{
		client: redis.NewClient(&redis.Options{
			Addr:     config.GetQueueRedisAddr(),
			DB:       config.GetQueueRedisDB(),
			Password: config.GetQueueRedisPassword(),
		}),
		ns: Namespace,
	}
}

// Connect tests the connection
func (q *Queue) Connect(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close closes the connection
func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) pendingKey() string   { return q.ns + ":queue:jobs" }
func (q *Queue) claimedAtKey() string { return q.ns + ":queue:claimed_at" }
func (q *Queue) scheduleKey() string  { return q.ns + ":schedule" }
func (q *Queue) everyKey() string     { return q.ns + ":schedule:every" }

func (q *Queue) claimsKey(consumer string) string {
	return q.ns + ":queue:jobs:claims:" + consumer
}

func (q *Queue) channelKey(channel string) string {
	return q.ns + ":" + channel
}

func scheduleMember(jobID int64, signature string) string {
	return fmt.Sprintf("%d:%s", jobID, signature)
}

func parseMember(member string) (int64, error) {
	parts := strings.SplitN(member, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed schedule member %q", member)
	}
	return strconv.ParseInt(parts[0], 10, 64)
}

// Enqueue pushes a runner invocation onto the pending queue and returns
// its task with a fresh handle.
func (q *Queue) Enqueue(ctx context.Context, jobID int64, trigger string) (*Task, error) {
	task := &Task{
		Handle:     uuid.NewString(),
		JobID:      jobID,
		Trigger:    trigger,
		EnqueuedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}
	if err := q.client.LPush(ctx, q.pendingKey(), payload).Err(); err != nil {
		return nil, fmt.Errorf("enqueueing job %d: %w", jobID, err)
	}
	return task, nil
}

// Claim blocks up to timeout for the next pending task and moves it onto
// the consumer's claims list, so a worker crash cannot lose it. Returns
// nil with no error when the wait times out.
func (q *Queue) Claim(ctx context.Context, consumer string, timeout time.Duration) (*Task, error) {
	raw, err := q.client.BRPopLPush(ctx, q.pendingKey(), q.claimsKey(consumer), timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming from queue: %w", err)
	}
	var task Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		q.client.LRem(ctx, q.claimsKey(consumer), 1, raw)
		return nil, fmt.Errorf("dropping malformed task payload: %w", err)
	}
	task.raw = raw
	task.consumer = consumer
	if err := q.client.HSet(ctx, q.claimedAtKey(), task.Handle, time.Now().UTC().Unix()).Err(); err != nil {
		util.Warnf("queue: recording claim time for %s: %v", task.Handle, err)
	}
	return &task, nil
}

// Ack removes a claimed task; the at-least-once window closes here.
func (q *Queue) Ack(ctx context.Context, task *Task) error {
	if task == nil || task.raw == "" {
		return errors.New("task was not claimed")
	}
	if err := q.client.LRem(ctx, q.claimsKey(task.consumer), 1, task.raw).Err(); err != nil {
		return fmt.Errorf("acknowledging task %s: %w", task.Handle, err)
	}
	if err := q.client.HDel(ctx, q.claimedAtKey(), task.Handle).Err(); err != nil {
		return fmt.Errorf("clearing claim time for %s: %w", task.Handle, err)
	}
	return nil
}

// RequeueStale returns claimed-but-unacknowledged tasks older than
// staleAfter to the pending queue. Covers workers that died mid-job;
// duplicate delivery is the accepted cost.
func (q *Queue) RequeueStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-staleAfter).Unix()
	reclaimed := 0
	var cursor uint64
	for {
		keys, next, err := q.client.Scan(ctx, cursor, q.claimsKey("*"), 64).Result()
		if err != nil {
			return reclaimed, fmt.Errorf("scanning claims lists: %w", err)
		}
		for _, key := range keys {
			n, err := q.requeueList(ctx, key, cutoff)
			reclaimed += n
			if err != nil {
				return reclaimed, err
			}
		}
		cursor = next
		if cursor == 0 {
			return reclaimed, nil
		}
	}
}

func (q *Queue) requeueList(ctx context.Context, key string, cutoff int64) (int, error) {
	entries, err := q.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("reading claims list %s: %w", key, err)
	}
	reclaimed := 0
	for _, raw := range entries {
		var task Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			q.client.LRem(ctx, key, 1, raw)
			continue
		}
		claimedAt, err := q.client.HGet(ctx, q.claimedAtKey(), task.Handle).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return reclaimed, fmt.Errorf("reading claim time for %s: %w", task.Handle, err)
		}
		// a claim with no recorded time is treated as already stale
		if err == nil && claimedAt > cutoff {
			continue
		}
		// the remover wins the entry under concurrent requeuers
		if q.client.LRem(ctx, key, 1, raw).Val() == 0 {
			continue
		}
		q.client.HDel(ctx, q.claimedAtKey(), task.Handle)
		if err := q.client.LPush(ctx, q.pendingKey(), raw).Err(); err != nil {
			return reclaimed, fmt.Errorf("requeueing task %s: %w", task.Handle, err)
		}
		reclaimed++
	}
	return reclaimed, nil
}

// ScheduleAt registers one future execution, idempotent by (job id,
// signature): re-registering an existing member leaves its time untouched.
// every > 0 makes the registration recurring, re-added by MoveDue one
// interval after each firing. Reports whether a new registration was
// created.
func (q *Queue) ScheduleAt(ctx context.Context, jobID int64, signature string, when time.Time, every time.Duration) (bool, error) {
	member := scheduleMember(jobID, signature)
	added, err := q.client.ZAddNX(ctx, q.scheduleKey(), &redis.Z{
		Score:  float64(when.UTC().Unix()),
		Member: member,
	}).Result()
	if err != nil {
		return false, fmt.Errorf("registering schedule for job %d: %w", jobID, err)
	}
	if every > 0 {
		if err := q.client.HSet(ctx, q.everyKey(), member, int64(every.Seconds())).Err(); err != nil {
			return false, fmt.Errorf("recording interval for job %d: %w", jobID, err)
		}
	}
	return added == 1, nil
}

// CancelSchedule removes one registration.
func (q *Queue) CancelSchedule(ctx context.Context, jobID int64, signature string) error {
	member := scheduleMember(jobID, signature)
	if err := q.client.ZRem(ctx, q.scheduleKey(), member).Err(); err != nil {
		return fmt.Errorf("cancelling schedule for job %d: %w", jobID, err)
	}
	return q.client.HDel(ctx, q.everyKey(), member).Err()
}

// PruneJobSchedules removes every registration for a job except the one
// carrying keepSignature; pass "" to remove them all. Used when a job is
// disabled, deleted, or its schedule definition changes.
func (q *Queue) PruneJobSchedules(ctx context.Context, jobID int64, keepSignature string) (int, error) {
	prefix := strconv.FormatInt(jobID, 10) + ":"
	keep := ""
	if keepSignature != "" {
		keep = scheduleMember(jobID, keepSignature)
	}
	removed := 0
	var cursor uint64
	for {
		// ZSCAN yields member/score pairs flattened
		pairs, next, err := q.client.ZScan(ctx, q.scheduleKey(), cursor, prefix+"*", 64).Result()
		if err != nil {
			return removed, fmt.Errorf("scanning schedules for job %d: %w", jobID, err)
		}
		for i := 0; i+1 < len(pairs); i += 2 {
			member := pairs[i]
			if member == keep {
				continue
			}
			if q.client.ZRem(ctx, q.scheduleKey(), member).Val() == 1 {
				q.client.HDel(ctx, q.everyKey(), member)
				removed++
			}
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

// ScheduledJobIDs returns the distinct job ids holding at least one
// registration. The scheduler uses it to cancel registrations of jobs
// that were disabled or deleted.
func (q *Queue) ScheduledJobIDs(ctx context.Context) ([]int64, error) {
	members, err := q.client.ZRange(ctx, q.scheduleKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing schedule registrations: %w", err)
	}
	seen := make(map[int64]bool, len(members))
	var ids []int64
	for _, member := range members {
		id, err := parseMember(member)
		if err != nil || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

// MoveDue pops every registration due at now into the pending queue and
// returns the enqueued tasks. Recurring registrations are re-added one
// interval out; single-shot ones are cleared and, for cron jobs, the
// scheduler's next reconcile re-creates them at the following match.
func (q *Queue) MoveDue(ctx context.Context, now time.Time) ([]*Task, error) {
	members, err := q.client.ZRangeByScore(ctx, q.scheduleKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UTC().Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("listing due schedules: %w", err)
	}
	var moved []*Task
	for _, member := range members {
		// the remover wins the member under concurrent movers
		if q.client.ZRem(ctx, q.scheduleKey(), member).Val() == 0 {
			continue
		}
		jobID, err := parseMember(member)
		if err != nil {
			q.client.HDel(ctx, q.everyKey(), member)
			util.Warnf("queue: dropping malformed schedule member %q", member)
			continue
		}
		if every, err := q.client.HGet(ctx, q.everyKey(), member).Int64(); err == nil && every > 0 {
			q.client.ZAdd(ctx, q.scheduleKey(), &redis.Z{
				Score:  float64(now.UTC().Add(time.Duration(every) * time.Second).Unix()),
				Member: member,
			})
		} else {
			q.client.HDel(ctx, q.everyKey(), member)
		}
		task, err := q.Enqueue(ctx, jobID, TriggerSchedule)
		if err != nil {
			return moved, err
		}
		moved = append(moved, task)
	}
	return moved, nil
}

// Message is one published payload.
type Message struct {
	Channel string
	Payload []byte
}

// Publish sends payload to live subscribers of the namespaced channel.
func (q *Queue) Publish(ctx context.Context, channel string, payload []byte) error {
	return q.client.Publish(ctx, q.channelKey(channel), payload).Err()
}

// Subscription is a live feed of one channel. Close it to release the
// redis subscription; C closes afterwards.
type Subscription struct {
	ps *redis.PubSub
	C  <-chan Message
}

// Subscribe opens a live feed of the namespaced channel. The subscription
// is confirmed before returning.
func (q *Queue) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	ps := q.client.Subscribe(ctx, q.channelKey(channel))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", channel, err)
	}
	out := make(chan Message, 64)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}
		}
	}()
	return &Subscription{ps: ps, C: out}, nil
}

// Close terminates the feed.
func (s *Subscription) Close() error {
	return s.ps.Close()
}
