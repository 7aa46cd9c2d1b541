package service

import (
	"context"

	"github.com/Youssef-Hatem/policylens/internal/domain"
	apperrors "github.com/Youssef-Hatem/policylens/internal/pkg/errors"
)

// StreamService attaches subscribers to a job's event channel. Jobs that are
// already terminal get their stored outcome replayed as a single event, so a
// late subscriber never hangs waiting for frames that were published before
// it arrived.
type StreamService struct {
	jobs JobStore
	hub  EventHub
}

func NewStreamService(jobs JobStore, hub EventHub) *StreamService {
	return &StreamService{jobs: jobs, hub: hub}
}

// Stream returns the event channel of one job plus a release function the
// caller must invoke when done. The channel closes after a terminal event or
// when ctx ends.
func (s *StreamService) Stream(ctx context.Context, jobID string) (<-chan *StreamEvent, func(), error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, nil, apperrors.InternalServer("JOB_LOOKUP_FAILED", "could not load the analysis task").WithCause(err)
	}
	if job == nil {
		return nil, nil, apperrors.NotFound("TASK_NOT_FOUND", "no analysis task with that id")
	}
	if domain.TerminalJobStatus(job.Status) {
		return replayTerminal(job), func() {}, nil
	}

	events, release, err := s.hub.Subscribe(ctx, jobID)
	if err != nil {
		return nil, nil, apperrors.InternalServer("SUBSCRIBE_FAILED", "could not subscribe to the analysis task").WithCause(err)
	}

	// The job may have finished between the snapshot read and the
	// subscription taking effect; re-check so the terminal event cannot be
	// lost in that window.
	job, err = s.jobs.Get(ctx, jobID)
	if err == nil && job != nil && domain.TerminalJobStatus(job.Status) {
		release()
		return replayTerminal(job), func() {}, nil
	}
	return events, release, nil
}

// replayTerminal synthesizes the single closing event of a finished job.
func replayTerminal(job *Job) <-chan *StreamEvent {
	ch := make(chan *StreamEvent, 1)
	ev := &StreamEvent{JobID: job.ID}
	switch job.Status {
	case domain.JobStatusCompleted:
		ev.Kind = domain.EventKindCompleted
		ev.Result = job.Result
	default:
		ev.Kind = domain.EventKindFailed
		ev.Error = job.Error
		if ev.Error == nil {
			ev.Error = ErrorRecordFor(domain.ErrorKindUnknown, nil, nil, "")
		}
	}
	ch <- ev
	close(ch)
	return ch
}
