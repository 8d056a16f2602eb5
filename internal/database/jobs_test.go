package database_test

import (
	"context"
	"testing"
	"time"

	"whatsapp-automations/internal/models"
	"whatsapp-automations/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueJob_Dedupes(t *testing.T) {
	store := testutil.NewStore(t)
	ctx := context.Background()
	key := "resume:run-1"

	id1, err := store.EnqueueJob(ctx, &models.QueueJob{Kind: "resume", RunID: "run-1", RunAt: time.Now().UTC(), MaxAttempts: 3, DedupeKey: &key})
	require.NoError(t, err)
	id2, err := store.EnqueueJob(ctx, &models.QueueJob{Kind: "resume", RunID: "run-1", RunAt: time.Now().UTC(), MaxAttempts: 3, DedupeKey: &key})
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
}

func TestClaimDueJobs_OnlyDueAndOnce(t *testing.T) {
	store := testutil.NewStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	dueID, err := store.EnqueueJob(ctx, &models.QueueJob{Kind: "k", RunAt: now.Add(-time.Second), MaxAttempts: 3})
	require.NoError(t, err)
	_, err = store.EnqueueJob(ctx, &models.QueueJob{Kind: "k", RunAt: now.Add(time.Hour), MaxAttempts: 3})
	require.NoError(t, err)

	jobs, err := store.ClaimDueJobs(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, dueID, jobs[0].ID)
	assert.Equal(t, models.JobRunning, jobs[0].Status)

	again, err := store.ClaimDueJobs(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestFailJob_RequeuesThenFails(t *testing.T) {
	store := testutil.NewStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	id, err := store.EnqueueJob(ctx, &models.QueueJob{Kind: "k", RunAt: now, MaxAttempts: 2})
	require.NoError(t, err)

	status, err := store.FailJob(ctx, id, "first", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.JobQueued, status)

	status, err = store.FailJob(ctx, id, "second", now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, status)

	job, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, job.Attempt)
	assert.Equal(t, "second", job.LastError)
}

func TestFailJob_KeepsCanceledJob(t *testing.T) {
	store := testutil.NewStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	id, err := store.EnqueueJob(ctx, &models.QueueJob{Kind: "k", RunAt: now.Add(-time.Second), MaxAttempts: 3})
	require.NoError(t, err)
	_, err = store.ClaimDueJobs(ctx, now, 10)
	require.NoError(t, err)
	require.NoError(t, store.CancelJob(ctx, id))

	status, err := store.FailJob(ctx, id, "run already failed", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.JobCanceled, status)

	job, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobCanceled, job.Status)
	assert.Equal(t, 0, job.Attempt)

	again, err := store.ClaimDueJobs(ctx, now.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestRequeueStaleRunningJobs(t *testing.T) {
	store := testutil.NewStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	_, err := store.EnqueueJob(ctx, &models.QueueJob{Kind: "k", RunAt: now.Add(-time.Hour), MaxAttempts: 3})
	require.NoError(t, err)
	_, err = store.ClaimDueJobs(ctx, now.Add(-30*time.Minute), 10)
	require.NoError(t, err)

	n, err := store.RequeueStaleRunningJobs(ctx, now.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
