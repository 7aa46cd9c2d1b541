package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Youssef-Hatem/policylens/internal/domain"
	apperrors "github.com/Youssef-Hatem/policylens/internal/pkg/errors"
)

// IdempotencyCache stores terminal results keyed by request fingerprint.
// Get returns (nil, nil) on a miss; Has checks presence without touching the
// hit/miss counters.
type IdempotencyCache interface {
	Get(ctx context.Context, key string) (*AnalysisResponse, error)
	Store(ctx context.Context, key string, resp *AnalysisResponse, ttl time.Duration) error
	Has(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Stats(ctx context.Context) (*CacheStats, error)
}

// DegradationCache stores the last good result per (policy type, content
// hash). Find returns (nil, nil) on a miss. Clear drops every entry of one
// policy type and reports how many were removed.
type DegradationCache interface {
	Find(ctx context.Context, policyType, contentHash string) (*AnalysisResponse, error)
	Store(ctx context.Context, policyType, contentHash string, resp *AnalysisResponse, ttl time.Duration) error
	Clear(ctx context.Context, policyType string) (int, error)
}

// JobStore persists job snapshots. Get returns (nil, nil) when the job does
// not exist. The cancel flag lives beside the snapshot so a cancel issued on
// the API node reaches the worker holding the job.
type JobStore interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Update(ctx context.Context, job *Job) error
	SetProgress(ctx context.Context, id string, p Progress) error
	RequestCancel(ctx context.Context, id string) error
	CancelRequested(ctx context.Context, id string) (bool, error)
}

// TaskQueue is the at-least-once work broker. Dequeue returns (nil, nil)
// when the wait times out; a dequeued message must be Acked once handled or
// scheduled for retry.
type TaskQueue interface {
	Enqueue(ctx context.Context, msg *TaskMessage) error
	Dequeue(ctx context.Context, timeout time.Duration) (*TaskMessage, error)
	Ack(ctx context.Context, msg *TaskMessage) error
	ScheduleRetry(ctx context.Context, msg *TaskMessage, delay time.Duration) error
	PromoteDue(ctx context.Context) (int, error)
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error)
	Depth(ctx context.Context) (int64, error)
}

// EventHub fans out per-job stream events.
type EventHub interface {
	Publish(ctx context.Context, ev *StreamEvent) error
	Subscribe(ctx context.Context, jobID string) (<-chan *StreamEvent, func(), error)
}

// ForceLimiter rate-limits cache-bypassing submissions per origin.
type ForceLimiter interface {
	Allow(ctx context.Context, origin string) (allowed bool, retryAfter time.Duration, err error)
}

// SubmitOptions modify a submission.
type SubmitOptions struct {
	// Force bypasses the idempotency cache. Subject to the force limiter.
	Force bool
	// Origin identifies the caller for force rate limiting.
	Origin string
}

// SubmitResult is the accepted-or-served outcome of a submission.
type SubmitResult struct {
	Status         string            `json:"status"`
	TaskID         string            `json:"task_id,omitempty"`
	IdempotencyKey string            `json:"idempotency_key"`
	Result         *AnalysisResponse `json:"result,omitempty"`
}

// AnalysisService is the job supervisor: it serves cache hits synchronously
// and hands everything else to the broker. Content validation happens on the
// worker once the job is dequeued, so a rejection surfaces as a failed task
// rather than a synchronous refusal.
type AnalysisService struct {
	idem    IdempotencyCache
	jobs    JobStore
	queue   TaskQueue
	limiter ForceLimiter

	idemTTL time.Duration
	now     func() time.Time
	newID   func() string
}

func NewAnalysisService(idem IdempotencyCache, jobs JobStore, queue TaskQueue, limiter ForceLimiter, idemTTL time.Duration) *AnalysisService {
	return &AnalysisService{
		idem:    idem,
		jobs:    jobs,
		queue:   queue,
		limiter: limiter,
		idemTTL: idemTTL,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Submit either serves a cached terminal result or enqueues a new job.
func (s *AnalysisService) Submit(ctx context.Context, req AnalysisRequest, opts SubmitOptions) (*SubmitResult, error) {
	normalizeRequest(&req)

	key := Fingerprint(req)

	if opts.Force {
		if s.limiter != nil {
			allowed, retryAfter, err := s.limiter.Allow(ctx, opts.Origin)
			if err != nil {
				return nil, apperrors.InternalServer("FORCE_LIMITER_UNAVAILABLE", "could not check the force-analysis limit").WithCause(err)
			}
			if !allowed {
				return nil, apperrors.TooManyRequests("FORCE_RATE_LIMITED", "too many forced re-analyses; try again later").
					WithMetadata(map[string]string{
						"retry_after_seconds": fmt.Sprintf("%.0f", retryAfter.Seconds()),
					})
			}
		}
		// The forced re-run supersedes any cached result; drop it so other
		// callers stop being served the stale copy while the job runs.
		if had, err := s.idem.Has(ctx, key); err == nil && had {
			if err := s.idem.Delete(ctx, key); err != nil {
				slog.WarnContext(ctx, "idempotency_invalidate_failed", "error", err.Error())
			} else {
				slog.InfoContext(ctx, "idempotency_entry_invalidated", "idempotency_key", key)
			}
		}
	} else {
		cached, err := s.idem.Get(ctx, key)
		if err != nil {
			// A broken cache degrades to a fresh analysis.
			slog.WarnContext(ctx, "idempotency_lookup_failed", "error", err.Error())
		}
		if cached != nil {
			cached.FromCache = true
			slog.InfoContext(ctx, "analysis_served_from_cache",
				"idempotency_key", key,
				"policy_type", req.PolicyType)
			return &SubmitResult{
				Status:         domain.JobStatusCompleted,
				IdempotencyKey: key,
				Result:         cached,
			}, nil
		}
	}

	now := s.now().UTC()
	job := &Job{
		ID:             s.newID(),
		IdempotencyKey: key,
		ContentHash:    ContentHash(req.PolicyText),
		Status:         domain.JobStatusPending,
		Request:        req,
		Force:          opts.Force,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, apperrors.InternalServer("JOB_CREATE_FAILED", "could not create the analysis task").WithCause(err)
	}
	msg := &TaskMessage{
		ID:         s.newID(),
		JobID:      job.ID,
		EnqueuedAt: now,
	}
	if err := s.queue.Enqueue(ctx, msg); err != nil {
		return nil, apperrors.InternalServer("ENQUEUE_FAILED", "could not queue the analysis task").WithCause(err)
	}

	slog.InfoContext(ctx, "analysis_task_enqueued",
		"task_id", job.ID,
		"policy_type", req.PolicyType,
		"force", opts.Force)

	return &SubmitResult{
		Status:         domain.JobStatusPending,
		TaskID:         job.ID,
		IdempotencyKey: key,
	}, nil
}

// Status returns the current job snapshot.
func (s *AnalysisService) Status(ctx context.Context, id string) (*Job, error) {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return nil, apperrors.InternalServer("JOB_LOOKUP_FAILED", "could not load the analysis task").WithCause(err)
	}
	if job == nil {
		return nil, apperrors.NotFound("TASK_NOT_FOUND", "no analysis task with that id")
	}
	return job, nil
}

// Cancel requests a best-effort stop of a running job. The worker observes
// the flag between stages; a stage already in flight finishes first.
func (s *AnalysisService) Cancel(ctx context.Context, id string) error {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return apperrors.InternalServer("JOB_LOOKUP_FAILED", "could not load the analysis task").WithCause(err)
	}
	if job == nil {
		return apperrors.NotFound("TASK_NOT_FOUND", "no analysis task with that id")
	}
	if domain.TerminalJobStatus(job.Status) {
		return apperrors.Conflict("TASK_ALREADY_FINISHED", "the analysis task has already finished")
	}
	if err := s.jobs.RequestCancel(ctx, id); err != nil {
		return apperrors.InternalServer("CANCEL_FAILED", "could not record the cancellation").WithCause(err)
	}
	slog.InfoContext(ctx, "analysis_task_cancel_requested", "task_id", id)
	return nil
}

// CacheStats exposes idempotency cache statistics for the health payload.
func (s *AnalysisService) CacheStats(ctx context.Context) (*CacheStats, error) {
	return s.idem.Stats(ctx)
}

func normalizeRequest(req *AnalysisRequest) {
	req.ShopName = strings.TrimSpace(req.ShopName)
	req.ShopSpecialization = strings.TrimSpace(req.ShopSpecialization)
	req.PolicyType = strings.ToLower(strings.TrimSpace(req.PolicyType))
	req.PolicyText = strings.TrimSpace(req.PolicyText)
}
