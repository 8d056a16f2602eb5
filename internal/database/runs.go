package database

import (
	"context"
	"fmt"
	"time"

	"whatsapp-automations/internal/models"
)

func (s *Store) CreateRun(ctx context.Context, r *models.Run) error {
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*models.Run, error) {
	var r models.Run
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, notFound(err, "run", id)
	}
	return &r, nil
}

// UpdateRun applies column updates unconditionally.
func (s *Store) UpdateRun(ctx context.Context, id string, updates map[string]interface{}) error {
	if err := s.db.WithContext(ctx).Model(&models.Run{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("update run %s: %w", id, err)
	}
	return nil
}

// TransitionRun applies updates only while the run is in one of the from
// statuses. It reports whether this caller won the transition.
func (s *Store) TransitionRun(ctx context.Context, id string, from []models.RunStatus, updates map[string]interface{}) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Run{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("transition run %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// FindWaitingRuns returns WAITING_REPLY runs for a phone number whose automation
// uses the given device, started after since, newest first.
func (s *Store) FindWaitingRuns(ctx context.Context, phoneNumber, deviceID string, since time.Time) ([]models.Run, error) {
	var runs []models.Run
	err := s.db.WithContext(ctx).Model(&models.Run{}).
		Select("runs.*").
		Joins("JOIN automations ON automations.id = runs.automation_id").
		Where("runs.status = ? AND runs.phone_number = ? AND automations.device_id = ? AND runs.started_at >= ?",
			models.RunWaitingReply, phoneNumber, deviceID, since).
		Order("runs.started_at DESC").
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("find waiting runs: %w", err)
	}
	return runs, nil
}

func (s *Store) ListRuns(ctx context.Context, automationID string, limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []models.Run
	err := s.db.WithContext(ctx).Where("automation_id = ?", automationID).
		Order("started_at DESC").Limit(limit).Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// CountRunsByStatus tallies the runs of every automation a user owns.
func (s *Store) CountRunsByStatus(ctx context.Context, userID string) (map[models.RunStatus]int64, error) {
	var rows []struct {
		Status models.RunStatus
		Total  int64
	}
	err := s.db.WithContext(ctx).Model(&models.Run{}).
		Select("runs.status AS status, COUNT(*) AS total").
		Joins("JOIN automations ON automations.id = runs.automation_id").
		Where("automations.user_id = ?", userID).
		Group("runs.status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}
	counts := make(map[models.RunStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Total
	}
	return counts, nil
}
