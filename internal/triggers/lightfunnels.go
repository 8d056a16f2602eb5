package triggers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"whatsapp-automations/internal/apperr"
	"whatsapp-automations/internal/lightfunnels"
	"whatsapp-automations/internal/models"
	"whatsapp-automations/pkg/logger"
)

// LightfunnelsAPI is the part of the Lightfunnels client the service uses.
type LightfunnelsAPI interface {
	CreateWebhook(ctx context.Context, accessToken, eventType, url string) (*lightfunnels.Webhook, error)
	DeleteWebhook(ctx context.Context, accessToken, id string) error
}

var lightfunnelsEvents = map[string]string{
	OrderCreated:    lightfunnels.EventOrderCreated,
	OrderConfirmed:  lightfunnels.EventOrderConfirmed,
	OrderPaid:       lightfunnels.EventOrderPaid,
	CheckoutCreated: lightfunnels.EventCheckoutCreated,
}

type LightfunnelsService struct {
	api    LightfunnelsAPI
	logger logger.Logger
}

func NewLightfunnelsService(api LightfunnelsAPI, log logger.Logger) *LightfunnelsService {
	return &LightfunnelsService{api: api, logger: log}
}

func (s *LightfunnelsService) CanHandle(platform models.Platform, triggerType string) bool {
	if platform != models.PlatformLightfunnels {
		return false
	}
	_, ok := lightfunnelsEvents[triggerType]
	return ok
}

func (s *LightfunnelsService) Setup(ctx context.Context, in SetupInput) (*SetupResult, error) {
	event, ok := lightfunnelsEvents[in.TriggerType]
	if !ok {
		return nil, fmt.Errorf("lightfunnels does not support trigger type %q", in.TriggerType)
	}
	if in.Connection == nil || in.Connection.AccessToken == "" {
		return nil, &apperr.ResourceError{Kind: "connection", Reason: "lightfunnels connection has no access token"}
	}

	url := CallbackURL(in.WebhookURLBase, in.AutomationID)
	hook, err := s.api.CreateWebhook(ctx, in.Connection.AccessToken, event, url)
	if err != nil {
		return nil, fmt.Errorf("register lightfunnels webhook: %w", err)
	}
	s.logger.WithFields(map[string]interface{}{
		"automation_id": in.AutomationID,
		"webhook_id":    hook.ID,
		"event":         event,
	}).Info("Lightfunnels webhook registered")

	return &SetupResult{
		ExternalID: hook.ID,
		WebhookURL: url,
		Extras:     map[string]string{"event": event},
	}, nil
}

func (s *LightfunnelsService) Cleanup(ctx context.Context, in CleanupInput) (*CleanupResult, error) {
	if in.TriggerConfig.ExternalID == "" {
		return &CleanupResult{Success: true, Message: "no external webhook recorded"}, nil
	}
	if in.Connection == nil || in.Connection.AccessToken == "" {
		return &CleanupResult{Success: true, Message: "connection missing, webhook " + in.TriggerConfig.ExternalID + " left for the platform to expire"}, nil
	}

	err := s.api.DeleteWebhook(ctx, in.Connection.AccessToken, in.TriggerConfig.ExternalID)
	if err != nil {
		var apiErr *apperr.ExternalAPIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return &CleanupResult{Success: true, Message: "webhook already removed"}, nil
		}
		return nil, fmt.Errorf("remove lightfunnels webhook: %w", err)
	}
	return &CleanupResult{Success: true}, nil
}
