package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Youssef-Hatem/policylens/internal/service"
)

const (
	queueReadyKey      = "pl:queue:ready"
	queueProcessingKey = "pl:queue:processing"
	queueLeasesKey     = "pl:queue:leases"
	queueRetryKey      = "pl:queue:retry"
)

// TaskQueue is an at-least-once broker on Redis lists. Dequeue atomically
// moves a message to the processing list and stamps a lease; Ack releases
// both. Crashed consumers leave their lease behind for ReclaimStale.
// Delayed redeliveries wait in a ZSET scored by their due time.
type TaskQueue struct {
	rdb *redis.Client
	now func() time.Time
}

func NewTaskQueue(rdb *redis.Client) service.TaskQueue {
	return &TaskQueue{rdb: rdb, now: time.Now}
}

func (q *TaskQueue) Enqueue(ctx context.Context, msg *service.TaskMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue encode: %w", err)
	}
	if err := q.rdb.LPush(ctx, queueReadyKey, raw).Err(); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

func (q *TaskQueue) Dequeue(ctx context.Context, timeout time.Duration) (*service.TaskMessage, error) {
	raw, err := q.rdb.BLMove(ctx, queueReadyKey, queueProcessingKey, "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue dequeue: %w", err)
	}

	q.rdb.ZAdd(context.WithoutCancel(ctx), queueLeasesKey, redis.Z{
		Score:  float64(q.now().Unix()),
		Member: raw,
	})

	var msg service.TaskMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		// A poison payload is dropped rather than redelivered forever.
		q.release(context.WithoutCancel(ctx), raw)
		return nil, fmt.Errorf("queue decode: %w", err)
	}
	msg.Receipt = raw
	return &msg, nil
}

func (q *TaskQueue) Ack(ctx context.Context, msg *service.TaskMessage) error {
	if msg.Receipt == "" {
		return fmt.Errorf("queue ack: message has no receipt")
	}
	return q.release(ctx, msg.Receipt)
}

func (q *TaskQueue) release(ctx context.Context, raw string) error {
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, queueProcessingKey, 1, raw)
	pipe.ZRem(ctx, queueLeasesKey, raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue release: %w", err)
	}
	return nil
}

// ScheduleRetry releases the current lease and parks the message, with its
// attempt counter bumped, until due.
func (q *TaskQueue) ScheduleRetry(ctx context.Context, msg *service.TaskMessage, delay time.Duration) error {
	if err := q.release(ctx, msg.Receipt); err != nil {
		return err
	}

	next := *msg
	next.Attempt = msg.Attempt + 1
	next.Receipt = ""
	raw, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("queue retry encode: %w", err)
	}
	due := q.now().Add(delay)
	if err := q.rdb.ZAdd(ctx, queueRetryKey, redis.Z{
		Score:  float64(due.Unix()),
		Member: raw,
	}).Err(); err != nil {
		return fmt.Errorf("queue retry schedule: %w", err)
	}
	return nil
}

// PromoteDue moves due retry messages back onto the ready list.
func (q *TaskQueue) PromoteDue(ctx context.Context) (int, error) {
	now := fmt.Sprintf("%d", q.now().Unix())
	due, err := q.rdb.ZRangeByScore(ctx, queueRetryKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("queue promote scan: %w", err)
	}

	promoted := 0
	for _, raw := range due {
		pipe := q.rdb.TxPipeline()
		pipe.ZRem(ctx, queueRetryKey, raw)
		pipe.LPush(ctx, queueReadyKey, raw)
		if _, err := pipe.Exec(ctx); err != nil {
			return promoted, fmt.Errorf("queue promote: %w", err)
		}
		promoted++
	}
	return promoted, nil
}

// ReclaimStale requeues messages whose lease is older than olderThan. Their
// consumer is presumed dead; at-least-once delivery accepts the duplicate
// risk.
func (q *TaskQueue) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := fmt.Sprintf("%d", q.now().Add(-olderThan).Unix())
	stale, err := q.rdb.ZRangeByScore(ctx, queueLeasesKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: cutoff,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("queue reclaim scan: %w", err)
	}

	reclaimed := 0
	for _, raw := range stale {
		pipe := q.rdb.TxPipeline()
		pipe.ZRem(ctx, queueLeasesKey, raw)
		pipe.LRem(ctx, queueProcessingKey, 1, raw)
		pipe.LPush(ctx, queueReadyKey, raw)
		if _, err := pipe.Exec(ctx); err != nil {
			return reclaimed, fmt.Errorf("queue reclaim: %w", err)
		}
		reclaimed++
	}
	return reclaimed, nil
}

// Depth counts messages waiting to run: ready plus parked retries.
func (q *TaskQueue) Depth(ctx context.Context) (int64, error) {
	pipe := q.rdb.Pipeline()
	readyCmd := pipe.LLen(ctx, queueReadyKey)
	retryCmd := pipe.ZCard(ctx, queueRetryKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return readyCmd.Val() + retryCmd.Val(), nil
}
