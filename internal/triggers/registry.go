// Package triggers registers and removes the external webhook subscriptions
// that deliver platform events back to this service.
package triggers

import (
	"context"

	"whatsapp-automations/internal/models"
)

// Internal trigger types, independent of any platform's vocabulary.
const (
	OrderCreated    = "order_created"
	OrderConfirmed  = "order_confirmed"
	OrderPaid       = "order_paid"
	CheckoutCreated = "checkout_created"
)

type SetupInput struct {
	AutomationID   string
	UserID         string
	Connection     *models.Connection
	TriggerType    string
	WebhookURLBase string
}

type SetupResult struct {
	ExternalID string
	WebhookURL string
	Extras     map[string]string
}

type CleanupInput struct {
	AutomationID  string
	UserID        string
	Connection    *models.Connection // nil when the connection is gone
	TriggerConfig models.TriggerConfig
}

type CleanupResult struct {
	Success bool
	Message string
}

// Service manages subscriptions for one source platform.
type Service interface {
	CanHandle(platform models.Platform, triggerType string) bool
	Setup(ctx context.Context, in SetupInput) (*SetupResult, error)
	Cleanup(ctx context.Context, in CleanupInput) (*CleanupResult, error)
}

type Registry struct {
	services []Service
}

func NewRegistry(services ...Service) *Registry {
	return &Registry{services: services}
}

// Resolve returns the first service that handles the pair, or nil.
func (r *Registry) Resolve(platform models.Platform, triggerType string) Service {
	for _, s := range r.services {
		if s.CanHandle(platform, triggerType) {
			return s
		}
	}
	return nil
}

// CallbackURL is the deterministic URL a platform posts events for an automation to.
func CallbackURL(base, automationID string) string {
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return base + "/" + automationID
}

// ToTriggerConfig merges a setup result into the stored trigger config.
func (r *SetupResult) ToTriggerConfig(platform models.Platform, triggerType string) models.TriggerConfig {
	return models.TriggerConfig{
		Platform:    platform,
		TriggerType: triggerType,
		ExternalID:  r.ExternalID,
		WebhookURL:  r.WebhookURL,
		Extras:      r.Extras,
	}
}
