// Package worker hosts the analysis consumers. Each consumer leases one
// message at a time from the broker, drives the pipeline and persists the
// terminal outcome.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Youssef-Hatem/policylens/internal/config"
	"github.com/Youssef-Hatem/policylens/internal/domain"
	"github.com/Youssef-Hatem/policylens/internal/service"
)

const (
	dequeueWait        = 5 * time.Second
	promoteInterval    = 5 * time.Second
	cancelPollInterval = 2 * time.Second
	// persistTimeout bounds terminal writes after the job context is gone.
	persistTimeout = 10 * time.Second
)

// Worker runs the consumer pool against the task queue.
type Worker struct {
	queue     service.TaskQueue
	jobs      service.JobStore
	idem      service.IdempotencyCache
	hub       service.EventHub
	validator *service.Validator
	pipeline  *service.Pipeline

	cfg     config.WorkerConfig
	idemTTL time.Duration
}

func New(queue service.TaskQueue, jobs service.JobStore, idem service.IdempotencyCache, hub service.EventHub, validator *service.Validator, pipeline *service.Pipeline, cfg config.WorkerConfig, idemTTL time.Duration) *Worker {
	return &Worker{
		queue:     queue,
		jobs:      jobs,
		idem:      idem,
		hub:       hub,
		validator: validator,
		pipeline:  pipeline,
		cfg:       cfg,
		idemTTL:   idemTTL,
	}
}

// Run blocks until ctx ends, hosting the consumers and the retry promoter.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error { return w.consume(ctx) })
	}
	g.Go(func() error { return w.promoteLoop(ctx) })

	slog.InfoContext(ctx, "worker_started", "concurrency", w.cfg.Concurrency)
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) consume(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := w.queue.Dequeue(ctx, dequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.WarnContext(ctx, "dequeue_failed", "error", err.Error())
			time.Sleep(time.Second)
			continue
		}
		if msg == nil {
			continue
		}
		w.process(ctx, msg)
	}
}

func (w *Worker) promoteLoop(ctx context.Context) error {
	ticker := time.NewTicker(promoteInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := w.queue.PromoteDue(ctx); err != nil {
				slog.WarnContext(ctx, "retry_promotion_failed", "error", err.Error())
			} else if n > 0 {
				slog.InfoContext(ctx, "retries_promoted", "count", n)
			}
		}
	}
}

// process handles one delivery end to end. Every path must either Ack or
// schedule a retry; leaking the lease would stall the message until the
// stale reclaim sweep.
func (w *Worker) process(ctx context.Context, msg *service.TaskMessage) {
	log := slog.With("task_id", msg.JobID, "attempt", msg.Attempt)

	job, err := w.jobs.Get(ctx, msg.JobID)
	if err != nil {
		log.Warn("job_load_failed", "error", err.Error())
		// Snapshot store unreachable; leave the lease for reclaim.
		return
	}
	if job == nil {
		log.Warn("job_snapshot_missing")
		w.ack(ctx, msg)
		return
	}
	if domain.TerminalJobStatus(job.Status) {
		// Duplicate delivery after a reclaim race.
		w.ack(ctx, msg)
		return
	}
	if cancelled, _ := w.jobs.CancelRequested(ctx, job.ID); cancelled {
		w.finishCancelled(ctx, job)
		w.ack(ctx, msg)
		return
	}

	job.Status = domain.JobStatusRunning
	job.Attempt = msg.Attempt
	if err := w.jobs.Update(ctx, job); err != nil {
		log.Warn("job_mark_running_failed", "error", err.Error())
	}

	// Content checks run on the consumer so a rejection terminates the job
	// the same way any other failure does, before any provider quota is
	// spent.
	if ve := w.validator.Validate(&job.Request); ve != nil {
		w.finishRejected(ctx, job, ve)
		w.ack(ctx, msg)
		return
	}

	// The hard limit bounds the run; crossing the soft limit only logs, so
	// a slow-but-progressing job still finishes.
	runCtx, cancelRun := context.WithTimeout(ctx, w.cfg.HardTimeLimit)
	softTimer := time.AfterFunc(w.cfg.SoftTimeLimit, func() {
		slog.Warn("task_soft_limit_exceeded",
			"task_id", job.ID,
			"soft_limit", w.cfg.SoftTimeLimit)
	})
	stopWatch := w.watchCancel(runCtx, cancelRun, job.ID)

	result, runErr := w.pipeline.Run(runCtx, job, w.progressEmitter(job.ID))

	stopWatch()
	softTimer.Stop()
	cancelRun()

	if runErr == nil {
		w.finishCompleted(ctx, job, result)
		w.ack(ctx, msg)
		return
	}

	if cancelled, _ := w.jobs.CancelRequested(ctx, job.ID); cancelled || errors.Is(runErr, context.Canceled) {
		if ctx.Err() != nil {
			// The process is shutting down, not the job being cancelled.
			// Leave the lease; the reclaim sweep will redeliver.
			return
		}
		w.finishCancelled(ctx, job)
		w.ack(ctx, msg)
		return
	}

	kind := service.ClassifyError(runErr)
	if service.Retryable(kind) && msg.Attempt < w.cfg.MaxRetries {
		delay := w.cfg.RetryBackoff * (1 << msg.Attempt)
		log.Warn("task_retry_scheduled",
			"kind", kind,
			"delay", delay,
			"error", runErr.Error())
		job.Status = domain.JobStatusPending
		_ = w.jobs.Update(ctx, job)
		if err := w.queue.ScheduleRetry(ctx, msg, delay); err != nil {
			log.Warn("retry_schedule_failed", "error", err.Error())
		}
		return
	}

	w.finishFailed(ctx, job, kind, runErr)
	w.ack(ctx, msg)
}

// watchCancel polls the cancel flag while the pipeline runs and aborts the
// run context when it appears.
func (w *Worker) watchCancel(runCtx context.Context, cancelRun context.CancelFunc, jobID string) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cancelPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if cancelled, err := w.jobs.CancelRequested(runCtx, jobID); err == nil && cancelled {
					slog.Info("task_cancel_observed", "task_id", jobID)
					cancelRun()
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

// progressEmitter persists each progress update on the snapshot and fans it
// out to stream subscribers. Both writes are best-effort; progress loss never
// fails a run.
func (w *Worker) progressEmitter(jobID string) service.ProgressFunc {
	return func(ctx context.Context, p service.Progress) {
		ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()
		if err := w.jobs.SetProgress(ectx, jobID, p); err != nil {
			slog.Warn("progress_persist_failed", "task_id", jobID, "error", err.Error())
		}
		w.publish(ectx, &service.StreamEvent{
			JobID:    jobID,
			Kind:     domain.EventKindProgress,
			Progress: &p,
		})
	}
}

// finishCompleted persists the terminal result, feeds the idempotency cache
// and publishes the closing event. Mismatch terminals carry Success false and
// stay out of the cache; a retry with a corrected policy type must not find
// them.
func (w *Worker) finishCompleted(ctx context.Context, job *service.Job, result *service.AnalysisResponse) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	job.Status = domain.JobStatusCompleted
	job.Result = result
	job.Error = nil
	if err := w.jobs.Update(pctx, job); err != nil {
		slog.Warn("job_persist_failed", "task_id", job.ID, "error", err.Error())
	}
	if result.Success {
		if err := w.idem.Store(pctx, job.IdempotencyKey, result, w.idemTTL); err != nil {
			slog.Warn("idempotency_store_failed", "task_id", job.ID, "error", err.Error())
		}
	}
	w.publish(pctx, &service.StreamEvent{
		JobID:  job.ID,
		Kind:   domain.EventKindCompleted,
		Result: result,
	})
	slog.Info("task_completed",
		"task_id", job.ID,
		"policy_type", job.Request.PolicyType,
		"degraded", result.GracefulDegradation)
}

func (w *Worker) finishFailed(ctx context.Context, job *service.Job, kind string, runErr error) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	var completed []string
	failedStage := ""
	var se *service.StageError
	if errors.As(runErr, &se) {
		completed = se.CompletedStages()
		failedStage = se.Stage()
	}

	rec := service.ErrorRecordFor(kind, runErr, completed, failedStage)
	job.Status = domain.JobStatusFailed
	job.Error = rec
	if err := w.jobs.Update(pctx, job); err != nil {
		slog.Warn("job_persist_failed", "task_id", job.ID, "error", err.Error())
	}
	w.publish(pctx, &service.StreamEvent{
		JobID: job.ID,
		Kind:  domain.EventKindFailed,
		Error: rec,
	})
	slog.Error("task_failed",
		"task_id", job.ID,
		"kind", kind,
		"failed_stage", failedStage,
		"error", runErr.Error())
}

// finishRejected terminates a job whose content failed validation. The only
// event the subscriber sees is the failed terminal; no progress was made.
func (w *Worker) finishRejected(ctx context.Context, job *service.Job, ve *service.ValidationError) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	rec := &service.ErrorRecord{
		Kind:       domain.ErrorKindValidation,
		Category:   ve.Category,
		Message:    ve.Message,
		Details:    ve.Details,
		UserAction: ve.UserAction,
	}
	job.Status = domain.JobStatusFailed
	job.Error = rec
	if err := w.jobs.Update(pctx, job); err != nil {
		slog.Warn("job_persist_failed", "task_id", job.ID, "error", err.Error())
	}
	w.publish(pctx, &service.StreamEvent{
		JobID: job.ID,
		Kind:  domain.EventKindFailed,
		Error: rec,
	})
	slog.Info("task_rejected",
		"task_id", job.ID,
		"category", ve.Category)
}

func (w *Worker) finishCancelled(ctx context.Context, job *service.Job) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	// Cancellation is a terminal failure; the cancelled kind on the error
	// record tells callers why.
	rec := service.ErrorRecordFor(domain.ErrorKindCancelled, nil, nil, "")
	job.Status = domain.JobStatusFailed
	job.Error = rec
	if err := w.jobs.Update(pctx, job); err != nil {
		slog.Warn("job_persist_failed", "task_id", job.ID, "error", err.Error())
	}
	w.publish(pctx, &service.StreamEvent{
		JobID: job.ID,
		Kind:  domain.EventKindFailed,
		Error: rec,
	})
	slog.Info("task_cancelled", "task_id", job.ID)
}

func (w *Worker) publish(ctx context.Context, ev *service.StreamEvent) {
	if err := w.hub.Publish(ctx, ev); err != nil {
		slog.Warn("event_publish_failed", "task_id", ev.JobID, "error", err.Error())
	}
}

func (w *Worker) ack(ctx context.Context, msg *service.TaskMessage) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := w.queue.Ack(actx, msg); err != nil {
		slog.Warn("ack_failed", "task_id", msg.JobID, "error", err.Error())
	}
}
