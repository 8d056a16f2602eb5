// Package otp issues and verifies one-time checkout codes sent over WhatsApp.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"whatsapp-automations/internal/apperr"
	"whatsapp-automations/internal/database"
	"whatsapp-automations/internal/models"
	"whatsapp-automations/internal/phone"
	"whatsapp-automations/internal/templates"
	"whatsapp-automations/internal/whatsapp"
	"whatsapp-automations/pkg/logger"
)

var (
	ErrAutomationRequired = errors.New("automationId is required")
	ErrAutomationNotFound = errors.New("automation not found")
	ErrNotOTPAutomation   = errors.New("automation does not issue verification codes")
	ErrAutomationInactive = errors.New("automation is inactive")
	ErrInvalidPhone       = errors.New("invalid phone number")
	ErrInvalidCode        = errors.New("invalid or expired verification code")
	ErrSendFailed         = errors.New("failed to send verification code")
)

// Messenger sends the code to the customer.
type Messenger interface {
	SendText(ctx context.Context, instance, number, text string) (*whatsapp.SendResponse, error)
}

type Service struct {
	store     *database.Store
	messenger Messenger
	templates *templates.Registry
	logger    logger.Logger
	now       func() time.Time

	defaultLength int
	defaultExpiry time.Duration
}

func NewService(store *database.Store, messenger Messenger, registry *templates.Registry, defaultLength int, defaultExpiry time.Duration, log logger.Logger) *Service {
	if defaultLength <= 0 {
		defaultLength = 6
	}
	if defaultExpiry <= 0 {
		defaultExpiry = 10 * time.Minute
	}
	return &Service{
		store:         store,
		messenger:     messenger,
		templates:     registry,
		logger:        log,
		now:           func() time.Time { return time.Now().UTC() },
		defaultLength: defaultLength,
		defaultExpiry: defaultExpiry,
	}
}

type RequestInput struct {
	AutomationID    string
	Platform        string
	Phone           string `json:"phone"`
	Email           string `json:"email"`
	IsTest          bool   `json:"isTest"`
	ShippingCountry string `json:"shippingCountry"`
	BillingCountry  string `json:"billingCountry"`
}

type IssueInput struct {
	Phone           string
	Email           string
	IsTest          bool
	ShippingCountry string
	BillingCountry  string
}

type VerifyInput struct {
	Platform        string
	UserID          string `json:"userId"`
	AutomationID    string `json:"automationId"`
	Phone           string `json:"phone"`
	Code            string `json:"otp"`
	ShippingCountry string `json:"shippingCountry"`
	BillingCountry  string `json:"billingCountry"`
	DefaultCountry  string `json:"defaultCountry"`
}

// Request validates the automation behind a storefront call and issues a code.
func (s *Service) Request(ctx context.Context, in RequestInput) (*models.OTP, error) {
	if in.AutomationID == "" {
		return nil, ErrAutomationRequired
	}
	a, err := s.store.GetAutomation(ctx, in.AutomationID)
	if err != nil {
		var resErr *apperr.ResourceError
		if errors.As(err, &resErr) && resErr.NotFound() {
			return nil, ErrAutomationNotFound
		}
		return nil, err
	}
	if !a.IsActive {
		return nil, ErrAutomationInactive
	}
	cfg, err := s.ConfigFor(a)
	if err != nil {
		return nil, err
	}
	return s.Issue(ctx, a, cfg, IssueInput{
		Phone:           in.Phone,
		Email:           in.Email,
		IsTest:          in.IsTest,
		ShippingCountry: in.ShippingCountry,
		BillingCountry:  in.BillingCountry,
	})
}

// ConfigFor decodes the OTP config of a, failing for non-OTP automations.
func (s *Service) ConfigFor(a *models.Automation) (*templates.OTPVerificationConfig, error) {
	def, ok := s.templates.Get(a.TemplateDefinitionID)
	if !ok || def.ExecutionLogic != templates.LogicOTPVerification {
		return nil, ErrNotOTPAutomation
	}
	decoded, err := def.DecodeConfig([]byte(a.Config))
	if err != nil {
		return nil, &apperr.ConfigurationDriftError{AutomationID: a.ID, TemplateID: def.ID, Err: err}
	}
	cfg, ok := decoded.(*templates.OTPVerificationConfig)
	if !ok {
		return nil, ErrNotOTPAutomation
	}
	return cfg, nil
}

// Issue stores a fresh code for the customer and sends it from the automation's device.
func (s *Service) Issue(ctx context.Context, a *models.Automation, cfg *templates.OTPVerificationConfig, in IssueInput) (*models.OTP, error) {
	normalized := phone.NormalizeWithDefault(in.Phone, in.ShippingCountry, in.BillingCountry, cfg.DefaultCountry)
	if !normalized.IsValid {
		return nil, ErrInvalidPhone
	}
	if a.DeviceID == nil {
		return nil, fmt.Errorf("%w: automation has no device", ErrSendFailed)
	}
	device, err := s.store.GetDevice(ctx, *a.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	length := cfg.CodeLength
	if length <= 0 {
		length = s.defaultLength
	}
	expiry := time.Duration(cfg.ExpiryMinutes) * time.Minute
	if expiry <= 0 {
		expiry = s.defaultExpiry
	}
	code, err := GenerateCode(length)
	if err != nil {
		return nil, err
	}

	otpType := models.OTPTypeVerification
	if in.IsTest {
		otpType = models.OTPTypeTest
	}
	record := &models.OTP{
		UserID:       a.UserID,
		AutomationID: a.ID,
		Code:         code,
		PhoneNumber:  normalized.Canonical,
		Email:        strings.TrimSpace(in.Email),
		ExpiresAt:    s.now().Add(expiry),
		Type:         otpType,
	}
	if err := s.store.CreateOTP(ctx, record); err != nil {
		return nil, err
	}

	text := whatsapp.RenderTemplate(cfg.Message, map[string]string{"code": code})
	if _, err := s.messenger.SendText(ctx, device.InstanceName, normalized.Canonical, text); err != nil {
		s.logger.WithFields(map[string]interface{}{
			"automation_id": a.ID,
			"error":         err.Error(),
		}).Error("Sending verification code failed")
		return nil, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	s.logger.WithFields(map[string]interface{}{
		"automation_id": a.ID,
		"otp_id":        record.ID,
		"test":          in.IsTest,
	}).Info("Verification code sent")
	return record, nil
}

// Verify consumes a matching code. A code verifies at most once.
func (s *Service) Verify(ctx context.Context, in VerifyInput) error {
	normalized := phone.Normalize(in.Phone, in.ShippingCountry, in.BillingCountry)
	if !normalized.IsValid && in.DefaultCountry != "" {
		normalized = phone.NormalizeWithDefault(in.Phone, in.ShippingCountry, in.BillingCountry, in.DefaultCountry)
	}
	if !normalized.IsValid {
		return ErrInvalidPhone
	}
	code := strings.TrimSpace(in.Code)
	if in.UserID == "" || code == "" {
		return ErrInvalidCode
	}

	now := s.now()
	record, err := s.store.FindValidOTP(ctx, in.UserID, normalized.Canonical, code, now)
	if err != nil {
		return err
	}
	if record == nil {
		return ErrInvalidCode
	}
	consumed, err := s.store.ConsumeOTP(ctx, record.ID, now)
	if err != nil {
		return err
	}
	if !consumed {
		return ErrInvalidCode
	}

	event := &models.OTPVerificationEvent{
		OTPID:        record.ID,
		UserID:       record.UserID,
		AutomationID: record.AutomationID,
		Platform:     in.Platform,
		PhoneNumber:  record.PhoneNumber,
		VerifiedAt:   now,
	}
	if err := s.store.CreateVerificationEvent(ctx, event); err != nil {
		s.logger.WithField("error", err.Error()).Warn("Recording verification event failed")
	}
	return nil
}

// GenerateCode returns a random numeric code of the given length.
func GenerateCode(length int) (string, error) {
	var b strings.Builder
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
