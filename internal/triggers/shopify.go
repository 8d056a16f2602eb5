package triggers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"whatsapp-automations/internal/apperr"
	"whatsapp-automations/internal/models"
	"whatsapp-automations/internal/shopify"
	"whatsapp-automations/pkg/logger"
)

type ShopifyAPI interface {
	CreateWebhookSubscription(ctx context.Context, shopDomain, accessToken, topic, callbackURL string) (*shopify.WebhookSubscription, error)
	DeleteWebhookSubscription(ctx context.Context, shopDomain, accessToken, id string) error
}

var shopifyTopics = map[string]string{
	OrderCreated:    shopify.TopicOrdersCreate,
	OrderPaid:       shopify.TopicOrdersPaid,
	CheckoutCreated: shopify.TopicCheckoutsCreate,
}

type ShopifyService struct {
	api    ShopifyAPI
	logger logger.Logger
}

func NewShopifyService(api ShopifyAPI, log logger.Logger) *ShopifyService {
	return &ShopifyService{api: api, logger: log}
}

func (s *ShopifyService) CanHandle(platform models.Platform, triggerType string) bool {
	if platform != models.PlatformShopify {
		return false
	}
	_, ok := shopifyTopics[triggerType]
	return ok
}

func (s *ShopifyService) Setup(ctx context.Context, in SetupInput) (*SetupResult, error) {
	topic, ok := shopifyTopics[in.TriggerType]
	if !ok {
		return nil, fmt.Errorf("shopify does not support trigger type %q", in.TriggerType)
	}
	if in.Connection == nil || in.Connection.AccessToken == "" || in.Connection.ShopDomain == "" {
		return nil, &apperr.ResourceError{Kind: "connection", Reason: "shopify connection needs a shop domain and access token"}
	}

	url := CallbackURL(in.WebhookURLBase, in.AutomationID)
	sub, err := s.api.CreateWebhookSubscription(ctx, in.Connection.ShopDomain, in.Connection.AccessToken, topic, url)
	if err != nil {
		return nil, fmt.Errorf("register shopify subscription: %w", err)
	}
	s.logger.WithFields(map[string]interface{}{
		"automation_id":   in.AutomationID,
		"subscription_id": sub.ID,
		"topic":           topic,
	}).Info("Shopify webhook subscription registered")

	return &SetupResult{
		ExternalID: sub.ID,
		WebhookURL: url,
		Extras:     map[string]string{"topic": topic, "shopDomain": in.Connection.ShopDomain},
	}, nil
}

func (s *ShopifyService) Cleanup(ctx context.Context, in CleanupInput) (*CleanupResult, error) {
	if in.TriggerConfig.ExternalID == "" {
		return &CleanupResult{Success: true, Message: "no external subscription recorded"}, nil
	}
	if in.Connection == nil || in.Connection.AccessToken == "" {
		return &CleanupResult{Success: true, Message: "connection missing, subscription " + in.TriggerConfig.ExternalID + " not removed"}, nil
	}
	shop := in.Connection.ShopDomain
	if recorded := in.TriggerConfig.Extras["shopDomain"]; recorded != "" {
		shop = recorded
	}

	err := s.api.DeleteWebhookSubscription(ctx, shop, in.Connection.AccessToken, in.TriggerConfig.ExternalID)
	if err != nil {
		var apiErr *apperr.ExternalAPIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return &CleanupResult{Success: true, Message: "subscription already removed"}, nil
		}
		return nil, fmt.Errorf("remove shopify subscription: %w", err)
	}
	return &CleanupResult{Success: true}, nil
}
