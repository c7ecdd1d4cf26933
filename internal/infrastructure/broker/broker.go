// Package broker implements the ranking domain's Broker (C3) contract over
// Redis Streams, generalizing the observability telemetry stream
// consumer/producer pair into three fixed named queues with parent/child
// flow tracking.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"brokle/internal/core/domain/ranking"
	"brokle/internal/infrastructure/database"
	"brokle/pkg/ulid"
)

const (
	streamKeyPrefix = "ranking:queue:"
	dlqKeyPrefix    = "ranking:dlq:"
	flowKeyPrefix   = "ranking:flow:"
	cancelKeyPrefix = "ranking:cancel:"
	consumerGroup   = "ranking-workers"

	dlqRetention = 7 * 24 * time.Hour
	dlqMaxLength = 1000
	cancelTTL    = time.Hour
)

// completeChildScript atomically increments the completed (and, on
// failure, failed) counters for a flow and reports whether this call was
// the one that pushed it to all-terminal, so exactly one caller enqueues
// the parent.
var completeChildScript = redis.NewScript(`
local completed = redis.call('HINCRBY', KEYS[1], 'completed', 1)
if ARGV[1] == '1' then
  redis.call('HINCRBY', KEYS[1], 'failed', 1)
end
local total = tonumber(redis.call('HGET', KEYS[1], 'total'))
if completed >= total then
  return 1
end
return 0
`)

type envelope struct {
	JobID      ulid.ULID       `json:"job_id"`
	Payload    json.RawMessage `json:"payload"`
	FlowID     string          `json:"flow_id,omitempty"`
	FlowIndex  int             `json:"flow_index,omitempty"`
	Attempt    int             `json:"attempt"`
}

type storedFlowParent struct {
	Queue   ranking.QueueName `json:"queue"`
	JobID   ulid.ULID         `json:"job_id"`
	Payload json.RawMessage   `json:"payload"`
}

// Broker is the Redis Streams implementation of ranking.Broker.
type Broker struct {
	redis  *database.RedisDB
	logger *logrus.Logger
	retry  ranking.RetryPolicy
	consumerID string

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc
}

func New(redisDB *database.RedisDB, logger *logrus.Logger, retry ranking.RetryPolicy) *Broker {
	return &Broker{
		redis:      redisDB,
		logger:     logger,
		retry:      retry,
		consumerID: "worker-" + ulid.New().String(),
		cancels:    make(map[string]context.CancelFunc),
	}
}

var _ ranking.Broker = (*Broker)(nil)

func streamKey(queue ranking.QueueName) string { return streamKeyPrefix + string(queue) }
func dlqKey(queue ranking.QueueName) string    { return dlqKeyPrefix + string(queue) }
func flowKey(flowID ulid.ULID) string          { return flowKeyPrefix + flowID.String() }
func flowParentKey(flowID ulid.ULID) string    { return flowKeyPrefix + flowID.String() + ":parent" }
func cancelKey(jobID ulid.ULID) string         { return cancelKeyPrefix + jobID.String() }

func (b *Broker) Enqueue(ctx context.Context, queue ranking.QueueName, jobID ulid.ULID, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	env := envelope{JobID: jobID, Payload: raw}
	return b.publish(ctx, queue, env)
}

func (b *Broker) publish(ctx context.Context, queue ranking.QueueName, env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	_, err = b.redis.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(queue),
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
	if err != nil {
		return fmt.Errorf("enqueue to %s: %w", queue, err)
	}
	return nil
}

func (b *Broker) EnqueueChildren(ctx context.Context, parentQueue ranking.QueueName, parentJobID ulid.ULID, parent interface{}, childQueue ranking.QueueName, childJobID ulid.ULID, children []interface{}) (ulid.ULID, error) {
	if len(children) == 0 {
		return ulid.ULID{}, errors.New("broker: flow requires at least one child")
	}
	flowID := ulid.New()

	parentRaw, err := json.Marshal(parent)
	if err != nil {
		return ulid.ULID{}, fmt.Errorf("marshal parent payload: %w", err)
	}
	storedParent := storedFlowParent{Queue: parentQueue, JobID: parentJobID, Payload: parentRaw}
	storedParentData, err := json.Marshal(storedParent)
	if err != nil {
		return ulid.ULID{}, fmt.Errorf("marshal stored parent: %w", err)
	}

	pipe := b.redis.Client.TxPipeline()
	pipe.HSet(ctx, flowKey(flowID), map[string]interface{}{"total": len(children), "completed": 0, "failed": 0})
	pipe.Set(ctx, flowParentKey(flowID), storedParentData, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return ulid.ULID{}, fmt.Errorf("init flow state: %w", err)
	}

	for i, child := range children {
		raw, err := json.Marshal(child)
		if err != nil {
			return flowID, fmt.Errorf("marshal child %d payload: %w", i, err)
		}
		env := envelope{JobID: childJobID, Payload: raw, FlowID: flowID.String(), FlowIndex: i}
		if err := b.publish(ctx, childQueue, env); err != nil {
			return flowID, fmt.Errorf("enqueue child %d: %w", i, err)
		}
	}
	return flowID, nil
}

func (b *Broker) ChildCompleted(ctx context.Context, flowID ulid.ULID, childIndex int, failed bool) error {
	failedArg := "0"
	if failed {
		failedArg = "1"
	}
	allTerminal, err := completeChildScript.Run(ctx, b.redis.Client, []string{flowKey(flowID)}, failedArg).Int()
	if err != nil {
		return fmt.Errorf("complete child: %w", err)
	}
	if allTerminal != 1 {
		return nil
	}

	data, err := b.redis.Client.Get(ctx, flowParentKey(flowID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("load flow parent: %w", err)
	}
	var parent storedFlowParent
	if err := json.Unmarshal([]byte(data), &parent); err != nil {
		return fmt.Errorf("unmarshal flow parent: %w", err)
	}

	env := envelope{JobID: parent.JobID, Payload: parent.Payload}
	if err := b.publish(ctx, parent.Queue, env); err != nil {
		return fmt.Errorf("enqueue parent after flow completion: %w", err)
	}

	b.redis.Client.Del(ctx, flowKey(flowID), flowParentKey(flowID))
	return nil
}

func (b *Broker) Cancel(ctx context.Context, jobID ulid.ULID) error {
	b.cancelMu.Lock()
	if cancel, ok := b.cancels[jobID.String()]; ok {
		cancel()
	}
	b.cancelMu.Unlock()
	return b.redis.Client.Set(ctx, cancelKey(jobID), "1", cancelTTL).Err()
}

func (b *Broker) isCancelled(ctx context.Context, jobID ulid.ULID) bool {
	n, err := b.redis.Client.Exists(ctx, cancelKey(jobID)).Result()
	return err == nil && n > 0
}

// Consume starts `concurrency` goroutines reading from the named queue's
// consumer group; each blocks on Consume until ctx is cancelled.
func (b *Broker) Consume(ctx context.Context, queue ranking.QueueName, concurrency int, handler ranking.Handler) error {
	if err := b.redis.Client.XGroupCreateMkStream(ctx, streamKey(queue), consumerGroup, "0").Err(); err != nil {
		if !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("create consumer group for %s: %w", queue, err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(workerIdx int) {
			defer wg.Done()
			b.consumeLoop(ctx, queue, handler, fmt.Sprintf("%s-%d", b.consumerID, workerIdx))
		}(i)
	}
	wg.Wait()
	return nil
}

func (b *Broker) consumeLoop(ctx context.Context, queue ranking.QueueName, handler ranking.Handler, consumerID string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		streams, err := b.redis.Client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    consumerGroup,
			Consumer: consumerID,
			Streams:  []string{streamKey(queue), ">"},
			Count:    1,
			Block:    time.Second,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				b.logger.WithError(err).WithField("queue", queue).Error("XReadGroup failed")
				time.Sleep(100 * time.Millisecond)
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				b.handleDelivery(ctx, queue, msg, handler)
			}
		}
	}
}

func (b *Broker) handleDelivery(ctx context.Context, queue ranking.QueueName, msg redis.XMessage, handler ranking.Handler) {
	dataStr, ok := msg.Values["data"].(string)
	if !ok {
		b.logger.WithField("message_id", msg.ID).Error("delivery missing data field, acking to drop")
		b.redis.Client.XAck(ctx, streamKey(queue), consumerGroup, msg.ID)
		return
	}

	var env envelope
	if err := json.Unmarshal([]byte(dataStr), &env); err != nil {
		b.logger.WithError(err).WithField("message_id", msg.ID).Error("failed to decode envelope, acking to drop")
		b.redis.Client.XAck(ctx, streamKey(queue), consumerGroup, msg.ID)
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	b.cancelMu.Lock()
	b.cancels[env.JobID.String()] = cancel
	b.cancelMu.Unlock()
	defer func() {
		cancel()
		b.cancelMu.Lock()
		delete(b.cancels, env.JobID.String())
		b.cancelMu.Unlock()
	}()

	failed := b.processWithRetry(jobCtx, queue, env, handler)

	if err := b.redis.Client.XAck(ctx, streamKey(queue), consumerGroup, msg.ID).Err(); err != nil {
		b.logger.WithError(err).WithField("message_id", msg.ID).Warn("failed to ack delivery")
	}

	if env.FlowID != "" {
		flowID, err := ulid.Parse(env.FlowID)
		if err == nil {
			if err := b.ChildCompleted(ctx, flowID, env.FlowIndex, failed); err != nil {
				b.logger.WithError(err).WithField("flow_id", env.FlowID).Error("failed to record child completion")
			}
		}
	}
}

// processWithRetry runs handler up to the configured attempt ceiling,
// moving the delivery to the queue's DLQ on exhaustion. Returns true if
// the delivery ultimately failed.
func (b *Broker) processWithRetry(ctx context.Context, queue ranking.QueueName, env envelope, handler ranking.Handler) bool {
	if b.isCancelled(ctx, env.JobID) {
		b.logger.WithField("job_id", env.JobID.String()).Info("job cancelled, skipping delivery")
		return true
	}

	progress := func(ranking.ProgressUpdate) {}

	var lastErr error
	wait := b.retry.InitialWait
	for attempt := 1; attempt <= b.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				lastErr = ctx.Err()
				return true
			case <-timer.C:
			}
			wait *= 2
		}

		err := handler(ctx, env.Payload, progress)
		if err == nil {
			return false
		}
		lastErr = err
		b.logger.WithError(err).WithFields(logrus.Fields{
			"queue":   queue,
			"job_id":  env.JobID.String(),
			"attempt": attempt,
		}).Warn("handler attempt failed")
	}

	if err := b.moveToDLQ(ctx, queue, env, lastErr); err != nil {
		b.logger.WithError(err).WithField("job_id", env.JobID.String()).Error("failed to move delivery to DLQ")
	}
	return true
}

func (b *Broker) moveToDLQ(ctx context.Context, queue ranking.QueueName, env envelope, cause error) error {
	causeMsg := ""
	if cause != nil {
		causeMsg = cause.Error()
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = b.redis.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: dlqKey(queue),
		MaxLen: dlqMaxLength,
		Approx: true,
		Values: map[string]interface{}{
			"job_id": env.JobID.String(),
			"error":  causeMsg,
			"data":   string(data),
		},
	}).Result()
	if err != nil {
		return err
	}
	return b.redis.Client.Expire(ctx, dlqKey(queue), dlqRetention).Err()
}

// WithProgressSink wraps a handler, forwarding every progress update it
// reports to sink. Percent must be non-decreasing within one execution;
// the wiring layer is responsible for choosing a sink (e.g. ProgressHub.Publish).
func WithProgressSink(handler ranking.Handler, jobID ulid.ULID, sink func(ulid.ULID, ranking.ProgressUpdate)) ranking.Handler {
	return func(ctx context.Context, payload []byte, _ func(ranking.ProgressUpdate)) error {
		last := -1
		return handler(ctx, payload, func(u ranking.ProgressUpdate) {
			if u.Percent < last {
				return
			}
			last = u.Percent
			sink(jobID, u)
		})
	}
}

func parseConcurrency(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
