package database

import (
	"context"
	"fmt"
	"time"

	"whatsapp-automations/internal/models"
)

func (s *Store) GetConnection(ctx context.Context, id string) (*models.Connection, error) {
	var c models.Connection
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, notFound(err, "connection", id)
	}
	return &c, nil
}

func (s *Store) CreateConnection(ctx context.Context, c *models.Connection) error {
	return s.db.WithContext(ctx).Create(c).Error
}

// UpdateConnectionToken persists a refreshed OAuth token.
func (s *Store) UpdateConnectionToken(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error {
	updates := map[string]interface{}{
		"access_token":     accessToken,
		"token_expires_at": expiresAt,
	}
	if refreshToken != "" {
		updates["refresh_token"] = refreshToken
	}
	if err := s.db.WithContext(ctx).Model(&models.Connection{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("update connection %s token: %w", id, err)
	}
	return nil
}

func (s *Store) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	var d models.Device
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, notFound(err, "device", id)
	}
	return &d, nil
}

func (s *Store) GetDeviceByInstance(ctx context.Context, instanceName string) (*models.Device, error) {
	var d models.Device
	if err := s.db.WithContext(ctx).Where("instance_name = ?", instanceName).First(&d).Error; err != nil {
		return nil, notFound(err, "device", instanceName)
	}
	return &d, nil
}

func (s *Store) CreateDevice(ctx context.Context, d *models.Device) error {
	return s.db.WithContext(ctx).Create(d).Error
}

// DeleteDevice removes the device row. Automations pointing at it fail their
// next run with an unavailable device.
func (s *Store) DeleteDevice(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Device{}).Error; err != nil {
		return fmt.Errorf("delete device %s: %w", id, err)
	}
	return nil
}

// UpdateDeviceStatus is last-writer-wins; status is advisory.
func (s *Store) UpdateDeviceStatus(ctx context.Context, id string, status models.DeviceStatus) error {
	err := s.db.WithContext(ctx).Model(&models.Device{}).Where("id = ?", id).Update("status", status).Error
	if err != nil {
		return fmt.Errorf("update device %s status: %w", id, err)
	}
	return nil
}

func (s *Store) GetMessageTemplate(ctx context.Context, id string) (*models.MessageTemplate, error) {
	var t models.MessageTemplate
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, notFound(err, "message template", id)
	}
	return &t, nil
}

func (s *Store) CreateMessageTemplate(ctx context.Context, t *models.MessageTemplate) error {
	return s.db.WithContext(ctx).Create(t).Error
}

func (s *Store) ListConnections(ctx context.Context, userID string) ([]models.Connection, error) {
	var out []models.Connection
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return out, nil
}

func (s *Store) ListDevices(ctx context.Context, userID string) ([]models.Device, error) {
	var out []models.Device
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return out, nil
}

func (s *Store) ListMessageTemplates(ctx context.Context, userID string) ([]models.MessageTemplate, error) {
	var out []models.MessageTemplate
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list message templates: %w", err)
	}
	return out, nil
}
