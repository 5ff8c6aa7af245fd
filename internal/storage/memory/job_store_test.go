package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-price-matcher/internal/pricing"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	job := pricing.Job{ID: "job-1", Status: pricing.JobStatusPending}

	require.NoError(t, store.CreateJob(ctx, job))
	require.ErrorIs(t, store.CreateJob(ctx, job), ErrJobExists)

	require.Error(t, store.FinishJob(ctx, job.ID, pricing.JobStatusCompleted, nil, nil, ""))
	require.NoError(t, store.MarkRunning(ctx, job.ID))
	require.Error(t, store.MarkRunning(ctx, job.ID))

	diags := []pricing.SourceDiagnostic{{Source: "shop", Status: pricing.SourceOK, Attempts: 1}}
	result := &pricing.MatchResult{JobID: job.ID}
	require.NoError(t, store.FinishJob(ctx, job.ID, pricing.JobStatusCompleted, result, diags, ""))
	diags[0].Source = "mutated"

	final, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, pricing.JobStatusCompleted, final.Status)
	require.NotNil(t, final.StartedAt)
	require.NotNil(t, final.FinishedAt)
	require.Equal(t, "shop", final.Diagnostics[0].Source)
	require.Same(t, result, final.Result)

	require.Error(t, store.FinishJob(ctx, job.ID, pricing.JobStatusFailed, nil, nil, "again"))
}

func TestJobStoreUnknownJob(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	_, err := store.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, pricing.ErrJobNotFound)
	_, err = store.Wait(context.Background(), "missing")
	require.ErrorIs(t, err, pricing.ErrJobNotFound)
	require.ErrorIs(t, store.MarkRunning(context.Background(), "missing"), pricing.ErrJobNotFound)
}

func TestJobStoreWaitWakesOnFinish(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, pricing.Job{ID: "job-2", Status: pricing.JobStatusPending}))
	require.NoError(t, store.MarkRunning(ctx, "job-2"))

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = store.FinishJob(ctx, "job-2", pricing.JobStatusTimedOut, nil, nil, "")
	}()

	job, err := store.Wait(ctx, "job-2")
	require.NoError(t, err)
	require.Equal(t, pricing.JobStatusTimedOut, job.Status)
}

func TestJobStoreWaitHonorsContext(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	require.NoError(t, store.CreateJob(context.Background(), pricing.Job{ID: "job-3", Status: pricing.JobStatusPending}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	job, err := store.Wait(ctx, "job-3")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, pricing.JobStatusPending, job.Status)
}

func TestJobStoreTerminalOnCreateIsDone(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, pricing.Job{ID: "cached", Status: pricing.JobStatusCompleted, Cached: true}))

	job, err := store.Wait(ctx, "cached")
	require.NoError(t, err)
	require.True(t, job.Cached)
}
