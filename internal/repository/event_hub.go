package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Youssef-Hatem/policylens/internal/domain"
	"github.com/Youssef-Hatem/policylens/internal/service"
)

const (
	eventChannelPrefix = "pl:events:"
	eventSeqPrefix     = "pl:events:seq:"
	eventSeqTTL        = 2 * time.Hour
)

// EventHub fans out job events over Redis Pub/Sub so subscribers on any API
// node see events published by any worker. Terminal replay for late
// subscribers is the job store's business, not the hub's.
type EventHub struct {
	rdb *redis.Client
}

func NewEventHub(rdb *redis.Client) service.EventHub {
	return &EventHub{rdb: rdb}
}

func eventChannel(jobID string) string { return eventChannelPrefix + jobID }

// Publish assigns the per-job sequence number and broadcasts the event.
// Publishing to a channel nobody subscribes to is a no-op, which is exactly
// the fire-and-forget the pipeline needs.
func (h *EventHub) Publish(ctx context.Context, ev *service.StreamEvent) error {
	seq, err := h.rdb.Incr(ctx, eventSeqPrefix+ev.JobID).Result()
	if err != nil {
		return fmt.Errorf("event seq: %w", err)
	}
	h.rdb.Expire(ctx, eventSeqPrefix+ev.JobID, eventSeqTTL)
	ev.Seq = seq

	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("event encode: %w", err)
	}
	if err := h.rdb.Publish(ctx, eventChannel(ev.JobID), raw).Err(); err != nil {
		return fmt.Errorf("event publish: %w", err)
	}
	return nil
}

// Subscribe delivers the job's events until a terminal event arrives, the
// caller releases the subscription, or ctx ends. The returned channel is
// closed in all three cases.
func (h *EventHub) Subscribe(ctx context.Context, jobID string) (<-chan *service.StreamEvent, func(), error) {
	pubsub := h.rdb.Subscribe(ctx, eventChannel(jobID))
	// Force the SUBSCRIBE round trip so the caller can re-check the job
	// snapshot knowing the subscription is live.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("event subscribe: %w", err)
	}

	out := make(chan *service.StreamEvent, 16)
	done := make(chan struct{})

	go func() {
		defer close(out)
		src := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case msg, ok := <-src:
				if !ok {
					return
				}
				var ev service.StreamEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					slog.Warn("event_decode_failed", "job_id", jobID, "error", err.Error())
					continue
				}
				select {
				case out <- &ev:
				case <-ctx.Done():
					return
				case <-done:
					return
				}
				if ev.Kind == domain.EventKindCompleted || ev.Kind == domain.EventKindFailed {
					return
				}
			}
		}
	}()

	var releaseOnce sync.Once
	release := func() {
		releaseOnce.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}
	return out, release, nil
}
