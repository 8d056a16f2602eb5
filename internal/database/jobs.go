package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"whatsapp-automations/internal/models"

	"gorm.io/gorm"
)

// EnqueueJob inserts a job. When the job carries a dedupe key and a
// non-terminal job with that key exists, the existing id is returned instead.
func (s *Store) EnqueueJob(ctx context.Context, job *models.QueueJob) (string, error) {
	db := s.db.WithContext(ctx)
	if job.DedupeKey != nil && *job.DedupeKey != "" {
		var existing models.QueueJob
		err := db.Where("dedupe_key = ? AND status IN ?", *job.DedupeKey, []models.JobStatus{models.JobQueued, models.JobRunning}).
			First(&existing).Error
		if err == nil {
			return existing.ID, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("dedupe check failed: %w", err)
		}
	}
	if job.Status == "" {
		job.Status = models.JobQueued
	}
	if err := db.Create(job).Error; err != nil {
		return "", fmt.Errorf("enqueue job failed: %w", err)
	}
	return job.ID, nil
}

// ClaimDueJobs moves up to limit due jobs to running. Each claim is a
// compare-and-set so two pollers never run the same job.
func (s *Store) ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]models.QueueJob, error) {
	db := s.db.WithContext(ctx)
	var candidates []models.QueueJob
	err := db.Where("status = ? AND run_at <= ?", models.JobQueued, now).
		Order("run_at ASC").Limit(limit).Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("claim due jobs query failed: %w", err)
	}

	claimed := make([]models.QueueJob, 0, len(candidates))
	for _, job := range candidates {
		res := db.Model(&models.QueueJob{}).
			Where("id = ? AND status = ?", job.ID, models.JobQueued).
			Updates(map[string]interface{}{"status": models.JobRunning, "locked_at": now})
		if res.Error != nil {
			return claimed, fmt.Errorf("mark job running failed: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			continue
		}
		job.Status = models.JobRunning
		lockedAt := now
		job.LockedAt = &lockedAt
		claimed = append(claimed, job)
	}
	return claimed, nil
}

func (s *Store) CompleteJob(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Model(&models.QueueJob{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": models.JobDone, "locked_at": nil}).Error
	if err != nil {
		return fmt.Errorf("complete job failed: %w", err)
	}
	return nil
}

// FailJob records the error and either requeues the job at nextRunAt or, when
// attempts are exhausted, marks it failed. A job canceled meanwhile stays
// canceled. The resulting status is returned.
func (s *Store) FailJob(ctx context.Context, id, errMsg string, nextRunAt time.Time) (models.JobStatus, error) {
	db := s.db.WithContext(ctx)
	var job models.QueueJob
	if err := db.Where("id = ?", id).First(&job).Error; err != nil {
		return "", fmt.Errorf("fail job lookup failed: %w", err)
	}
	if job.Status == models.JobCanceled {
		return models.JobCanceled, nil
	}

	attempt := job.Attempt + 1
	updates := map[string]interface{}{
		"attempt":    attempt,
		"last_error": errMsg,
		"locked_at":  nil,
	}
	status := models.JobQueued
	if attempt >= job.MaxAttempts {
		status = models.JobFailed
	} else {
		updates["run_at"] = nextRunAt
	}
	updates["status"] = status

	res := db.Model(&models.QueueJob{}).Where("id = ? AND status <> ?", id, models.JobCanceled).Updates(updates)
	if res.Error != nil {
		return "", fmt.Errorf("fail job update failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.JobCanceled, nil
	}
	return status, nil
}

func (s *Store) CancelJob(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Model(&models.QueueJob{}).
		Where("id = ? AND status IN ?", id, []models.JobStatus{models.JobQueued, models.JobRunning}).
		Updates(map[string]interface{}{"status": models.JobCanceled, "locked_at": nil}).Error
	if err != nil {
		return fmt.Errorf("cancel job failed: %w", err)
	}
	return nil
}

// RequeueStaleRunningJobs resets jobs left running by a crashed process.
func (s *Store) RequeueStaleRunningJobs(ctx context.Context, staleBefore time.Time) (int, error) {
	res := s.db.WithContext(ctx).Model(&models.QueueJob{}).
		Where("status = ? AND locked_at < ?", models.JobRunning, staleBefore).
		Updates(map[string]interface{}{"status": models.JobQueued, "locked_at": nil})
	if res.Error != nil {
		return 0, fmt.Errorf("requeue stale jobs failed: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*models.QueueJob, error) {
	var job models.QueueJob
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, notFound(err, "job", id)
	}
	return &job, nil
}
