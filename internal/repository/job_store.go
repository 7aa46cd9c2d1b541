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
	jobKeyPrefix    = "pl:job:"
	cancelKeySuffix = ":cancel"
)

// JobStore persists job snapshots as TTL'd JSON values. Snapshots are only
// written by the submitting API node (Create) and the single worker holding
// the job, so plain SET is race-free here. The cancel flag is a separate key
// because it is written by API nodes while the worker owns the snapshot.
type JobStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewJobStore(rdb *redis.Client, ttl time.Duration) service.JobStore {
	return &JobStore{rdb: rdb, ttl: ttl}
}

func jobKey(id string) string    { return jobKeyPrefix + id }
func cancelKey(id string) string { return jobKeyPrefix + id + cancelKeySuffix }

func (s *JobStore) Create(ctx context.Context, job *service.Job) error {
	return s.write(ctx, job)
}

func (s *JobStore) Update(ctx context.Context, job *service.Job) error {
	job.UpdatedAt = time.Now().UTC()
	return s.write(ctx, job)
}

func (s *JobStore) write(ctx context.Context, job *service.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("job encode: %w", err)
	}
	if err := s.rdb.Set(ctx, jobKey(job.ID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("job write: %w", err)
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*service.Job, error) {
	raw, err := s.rdb.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("job get: %w", err)
	}
	var job service.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("job decode: %w", err)
	}
	return &job, nil
}

// SetProgress updates only the progress fields of the snapshot.
func (s *JobStore) SetProgress(ctx context.Context, id string, p service.Progress) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %s not found", id)
	}
	job.Progress = &p
	return s.Update(ctx, job)
}

func (s *JobStore) RequestCancel(ctx context.Context, id string) error {
	if err := s.rdb.Set(ctx, cancelKey(id), "1", s.ttl).Err(); err != nil {
		return fmt.Errorf("job cancel flag: %w", err)
	}
	return nil
}

func (s *JobStore) CancelRequested(ctx context.Context, id string) (bool, error) {
	err := s.rdb.Get(ctx, cancelKey(id)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("job cancel check: %w", err)
	}
	return true, nil
}
