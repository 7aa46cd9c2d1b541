package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Youssef-Hatem/policylens/internal/service"
)

func newTestQueue(t *testing.T) (*TaskQueue, *time.Time) {
	t.Helper()
	_, rdb := newTestRedis(t)
	clock := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	q := &TaskQueue{rdb: rdb, now: func() time.Time { return clock }}
	return q, &clock
}

func testMessage(jobID string) *service.TaskMessage {
	return &service.TaskMessage{
		ID:         "msg-" + jobID,
		JobID:      jobID,
		EnqueuedAt: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}
}

func TestQueueEnqueueDequeueAck(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testMessage("job-1")))

	msg, err := q.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "job-1", msg.JobID)
	assert.NotEmpty(t, msg.Receipt)

	// The message is leased, not gone.
	processing, err := q.rdb.LLen(ctx, queueProcessingKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), processing)
	leases, err := q.rdb.ZCard(ctx, queueLeasesKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), leases)

	require.NoError(t, q.Ack(ctx, msg))
	processing, err = q.rdb.LLen(ctx, queueProcessingKey).Result()
	require.NoError(t, err)
	assert.Zero(t, processing)
	leases, err = q.rdb.ZCard(ctx, queueLeasesKey).Result()
	require.NoError(t, err)
	assert.Zero(t, leases)
}

func TestQueueDequeueTimesOutEmpty(t *testing.T) {
	q, _ := newTestQueue(t)

	msg, err := q.Dequeue(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestQueueAckWithoutReceipt(t *testing.T) {
	q, _ := newTestQueue(t)
	assert.Error(t, q.Ack(context.Background(), testMessage("job-1")))
}

func TestQueueScheduleRetryAndPromote(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testMessage("job-1")))
	msg, err := q.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, msg)

	require.NoError(t, q.ScheduleRetry(ctx, msg, time.Minute))

	// The lease is released and the message waits in the retry set.
	leases, err := q.rdb.ZCard(ctx, queueLeasesKey).Result()
	require.NoError(t, err)
	assert.Zero(t, leases)
	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	// Not yet due.
	promoted, err := q.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, promoted)

	*clock = clock.Add(61 * time.Second)
	promoted, err = q.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	redelivered, err := q.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, redelivered)
	assert.Equal(t, "job-1", redelivered.JobID)
	assert.Equal(t, 1, redelivered.Attempt)
}

func TestQueueReclaimStale(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testMessage("job-1")))
	msg, err := q.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, msg)

	// A fresh lease is left alone.
	reclaimed, err := q.ReclaimStale(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, reclaimed)

	// Past the window the consumer is presumed dead.
	*clock = clock.Add(11 * time.Minute)
	reclaimed, err = q.ReclaimStale(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	redelivered, err := q.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, redelivered)
	assert.Equal(t, msg.JobID, redelivered.JobID)
}

func TestQueueDepthCountsReadyAndRetry(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testMessage("job-1")))
	require.NoError(t, q.Enqueue(ctx, testMessage("job-2")))

	msg, err := q.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.NoError(t, q.ScheduleRetry(ctx, msg, time.Minute))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)
}
