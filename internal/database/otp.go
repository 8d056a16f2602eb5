package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"whatsapp-automations/internal/models"

	"gorm.io/gorm"
)

func (s *Store) CreateOTP(ctx context.Context, o *models.OTP) error {
	if err := s.db.WithContext(ctx).Create(o).Error; err != nil {
		return fmt.Errorf("create otp: %w", err)
	}
	return nil
}

// FindValidOTP returns the most recent unverified, unexpired code for the
// user and phone, or nil when none matches.
func (s *Store) FindValidOTP(ctx context.Context, userID, phoneNumber, code string, now time.Time) (*models.OTP, error) {
	var o models.OTP
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND phone_number = ? AND code = ? AND verified_at IS NULL AND expires_at > ?",
			userID, phoneNumber, code, now).
		Order("created_at DESC").
		First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find otp: %w", err)
	}
	return &o, nil
}

// ConsumeOTP sets verified_at once. A second call for the same row returns false.
func (s *Store) ConsumeOTP(ctx context.Context, id string, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.OTP{}).
		Where("id = ? AND verified_at IS NULL", id).
		Update("verified_at", now)
	if res.Error != nil {
		return false, fmt.Errorf("consume otp %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) CreateVerificationEvent(ctx context.Context, e *models.OTPVerificationEvent) error {
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("create verification event: %w", err)
	}
	return nil
}
