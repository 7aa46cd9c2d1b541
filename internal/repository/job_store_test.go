package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Youssef-Hatem/policylens/internal/domain"
	"github.com/Youssef-Hatem/policylens/internal/service"
)

func newTestJobStore(t *testing.T) service.JobStore {
	t.Helper()
	_, rdb := newTestRedis(t)
	return NewJobStore(rdb, time.Hour)
}

func testJob(id string) *service.Job {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	return &service.Job{
		ID:             id,
		IdempotencyKey: "fp-" + id,
		ContentHash:    "hash-" + id,
		Status:         domain.JobStatusPending,
		Request: service.AnalysisRequest{
			ShopName:           "Corner Books",
			ShopSpecialization: "used books",
			PolicyType:         domain.PolicyTypeReturns,
			PolicyText:         "Items may be returned within 30 days with a receipt.",
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestJobStoreRoundtrip(t *testing.T) {
	store := newTestJobStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testJob("job-1")))

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Equal(t, "fp-job-1", got.IdempotencyKey)
	assert.Equal(t, domain.PolicyTypeReturns, got.Request.PolicyType)
}

func TestJobStoreGetMissing(t *testing.T) {
	store := newTestJobStore(t)

	got, err := store.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestJobStoreUpdateStampsUpdatedAt(t *testing.T) {
	store := newTestJobStore(t)
	ctx := context.Background()

	job := testJob("job-1")
	require.NoError(t, store.Create(ctx, job))

	job.Status = domain.JobStatusCompleted
	job.Result = &service.AnalysisResponse{Success: true}
	require.NoError(t, store.Update(ctx, job))

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))
}

func TestJobStoreSetProgress(t *testing.T) {
	store := newTestJobStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testJob("job-1")))
	require.NoError(t, store.SetProgress(ctx, "job-1", service.Progress{
		Current: 2,
		Total:   4,
		Status:  domain.StageCompliance,
	}))

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.Progress)
	assert.Equal(t, 2, got.Progress.Current)
	assert.Equal(t, domain.StageCompliance, got.Progress.Status)

	assert.Error(t, store.SetProgress(ctx, "missing", service.Progress{}))
}

func TestJobStoreCancelFlag(t *testing.T) {
	store := newTestJobStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testJob("job-1")))

	flagged, err := store.CancelRequested(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, flagged)

	require.NoError(t, store.RequestCancel(ctx, "job-1"))
	flagged, err = store.CancelRequested(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, flagged)

	// The flag lives beside the snapshot, not inside it.
	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.JobStatusPending, got.Status)
}
