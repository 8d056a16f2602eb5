// Package queue runs durable delayed jobs stored in the database.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"whatsapp-automations/internal/models"
	"whatsapp-automations/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// Repo is the job persistence the queue needs.
type Repo interface {
	EnqueueJob(ctx context.Context, job *models.QueueJob) (string, error)
	ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]models.QueueJob, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id, errMsg string, nextRunAt time.Time) (models.JobStatus, error)
	CancelJob(ctx context.Context, id string) error
	RequeueStaleRunningJobs(ctx context.Context, staleBefore time.Time) (int, error)
}

// Handler executes one job. A returned error triggers a retry with backoff.
type Handler func(ctx context.Context, job models.QueueJob) error

// FailureHandler runs once when a job has exhausted its attempts.
type FailureHandler func(ctx context.Context, job models.QueueJob, lastErr error)

type Options struct {
	Concurrency    int
	PollInterval   time.Duration
	MaxAttempts    int
	BaseBackoff    time.Duration
	StaleThreshold time.Duration
}

type Queue struct {
	repo   Repo
	opts   Options
	logger logger.Logger
	now    func() time.Time

	mu        sync.RWMutex
	handlers  map[string]Handler
	onFailure map[string]FailureHandler
}

func New(repo Repo, opts Options, log logger.Logger) *Queue {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 5
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 30 * time.Second
	}
	if opts.StaleThreshold <= 0 {
		opts.StaleThreshold = 5 * time.Minute
	}
	return &Queue{
		repo:      repo,
		opts:      opts,
		logger:    log,
		now:       func() time.Time { return time.Now().UTC() },
		handlers:  make(map[string]Handler),
		onFailure: make(map[string]FailureHandler),
	}
}

// Register binds a handler and an optional exhaustion handler to a job kind.
func (q *Queue) Register(kind string, handler Handler, onFailure FailureHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = handler
	if onFailure != nil {
		q.onFailure[kind] = onFailure
	}
	q.logger.WithField("kind", kind).Debug("Queue handler registered")
}

// Schedule enqueues a job for runID after delay. Scheduling the same kind for
// the same run twice while the first job is pending returns the first job's id.
func (q *Queue) Schedule(ctx context.Context, kind, runID string, delay time.Duration, payload interface{}) (string, error) {
	dedupe := kind + ":" + runID
	job := &models.QueueJob{
		Kind:        kind,
		RunID:       runID,
		RunAt:       q.now().Add(delay),
		PayloadJSON: models.EncodeJSON(payload),
		Status:      models.JobQueued,
		MaxAttempts: q.opts.MaxAttempts,
		DedupeKey:   &dedupe,
	}
	id, err := q.repo.EnqueueJob(ctx, job)
	if err != nil {
		return "", fmt.Errorf("schedule %s for run %s: %w", kind, runID, err)
	}
	q.logger.WithFields(map[string]interface{}{
		"job_id": id,
		"kind":   kind,
		"run_id": runID,
		"run_at": job.RunAt,
	}).Info("Job scheduled")
	return id, nil
}

func (q *Queue) Cancel(ctx context.Context, jobID string) error {
	return q.repo.CancelJob(ctx, jobID)
}

// RecoverStaleJobs requeues jobs left running by a crashed process. Call once at startup.
func (q *Queue) RecoverStaleJobs(ctx context.Context) error {
	n, err := q.repo.RequeueStaleRunningJobs(ctx, q.now().Add(-q.opts.StaleThreshold))
	if err != nil {
		return err
	}
	if n > 0 {
		q.logger.WithField("count", n).Info("Requeued stale jobs")
	}
	return nil
}

// Run polls until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) {
	q.logger.WithField("poll_interval", q.opts.PollInterval.String()).Info("Job queue started")
	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			q.logger.Info("Job queue stopping")
			return
		case <-ticker.C:
			q.Poll(ctx)
		}
	}
}

// Poll claims the currently due jobs and runs them with bounded concurrency.
// It returns once every claimed job has been handled.
func (q *Queue) Poll(ctx context.Context) int {
	jobs, err := q.repo.ClaimDueJobs(ctx, q.now(), q.opts.Concurrency*2)
	if err != nil {
		q.logger.WithField("error", err.Error()).Error("Claiming due jobs failed")
		return 0
	}

	var g errgroup.Group
	g.SetLimit(q.opts.Concurrency)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			q.execute(ctx, job)
			return nil
		})
	}
	_ = g.Wait()
	return len(jobs)
}

func (q *Queue) execute(ctx context.Context, job models.QueueJob) {
	log := q.logger.WithFields(map[string]interface{}{
		"job_id":  job.ID,
		"kind":    job.Kind,
		"run_id":  job.RunID,
		"attempt": job.Attempt,
	})

	q.mu.RLock()
	handler, ok := q.handlers[job.Kind]
	onFailure := q.onFailure[job.Kind]
	q.mu.RUnlock()

	var err error
	if !ok {
		err = fmt.Errorf("no handler registered for kind: %s", job.Kind)
	} else {
		err = q.safeCall(ctx, handler, job)
	}

	if err == nil {
		if cerr := q.repo.CompleteJob(ctx, job.ID); cerr != nil {
			log.WithField("error", cerr.Error()).Error("Completing job failed")
		}
		log.Debug("Job completed")
		return
	}

	nextRun := q.now().Add(q.Backoff(job.Attempt))
	status, ferr := q.repo.FailJob(ctx, job.ID, err.Error(), nextRun)
	if ferr != nil {
		log.WithField("error", ferr.Error()).Error("Recording job failure failed")
		return
	}
	if status == models.JobCanceled {
		log.WithField("error", err.Error()).Debug("Job canceled while running, not retrying")
		return
	}
	if status == models.JobFailed {
		log.WithField("error", err.Error()).Error("Job exhausted its attempts")
		if onFailure != nil {
			onFailure(ctx, job, err)
		}
		return
	}
	log.WithFields(map[string]interface{}{"error": err.Error(), "next_run": nextRun}).Warn("Job failed, retrying")
}

func (q *Queue) safeCall(ctx context.Context, handler Handler, job models.QueueJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()
	return handler(ctx, job)
}

// Backoff is base * 2^attempt.
func (q *Queue) Backoff(attempt int) time.Duration {
	if attempt > 16 {
		attempt = 16
	}
	return q.opts.BaseBackoff * time.Duration(1<<attempt)
}
