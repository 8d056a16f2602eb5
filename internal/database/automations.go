package database

import (
	"context"
	"fmt"

	"whatsapp-automations/internal/models"
)

func (s *Store) CreateAutomation(ctx context.Context, a *models.Automation) error {
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("create automation: %w", err)
	}
	return nil
}

func (s *Store) GetAutomation(ctx context.Context, id string) (*models.Automation, error) {
	var a models.Automation
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, notFound(err, "automation", id)
	}
	return &a, nil
}

// GetAutomationForUser returns not-found for automations owned by somebody else.
func (s *Store) GetAutomationForUser(ctx context.Context, userID, id string) (*models.Automation, error) {
	var a models.Automation
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&a).Error; err != nil {
		return nil, notFound(err, "automation", id)
	}
	return &a, nil
}

func (s *Store) SaveAutomation(ctx context.Context, a *models.Automation) error {
	if err := s.db.WithContext(ctx).Save(a).Error; err != nil {
		return fmt.Errorf("save automation %s: %w", a.ID, err)
	}
	return nil
}

func (s *Store) DeleteAutomation(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Automation{}).Error; err != nil {
		return fmt.Errorf("delete automation %s: %w", id, err)
	}
	return nil
}

func (s *Store) ListAutomations(ctx context.Context, userID string) ([]models.Automation, error) {
	var out []models.Automation
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list automations: %w", err)
	}
	return out, nil
}

func (s *Store) ListActiveAutomationsByTrigger(ctx context.Context, kind models.TriggerKind) ([]models.Automation, error) {
	var out []models.Automation
	err := s.db.WithContext(ctx).
		Where("trigger_kind = ? AND is_active = ?", kind, true).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list %s automations: %w", kind, err)
	}
	return out, nil
}

func (s *Store) SetAutomationActive(ctx context.Context, id string, active bool) error {
	err := s.db.WithContext(ctx).Model(&models.Automation{}).Where("id = ?", id).Update("is_active", active).Error
	if err != nil {
		return fmt.Errorf("toggle automation %s: %w", id, err)
	}
	return nil
}

func (s *Store) UpdateAutomationMetadata(ctx context.Context, id string, metadata map[string]interface{}) error {
	err := s.db.WithContext(ctx).Model(&models.Automation{}).Where("id = ?", id).
		Update("metadata", models.EncodeJSON(metadata)).Error
	if err != nil {
		return fmt.Errorf("update automation %s metadata: %w", id, err)
	}
	return nil
}
