package automation

import (
	"context"
	"errors"
	"fmt"

	"whatsapp-automations/internal/classifier"
	"whatsapp-automations/internal/models"
	"whatsapp-automations/internal/phone"
	"whatsapp-automations/internal/templates"
	"whatsapp-automations/internal/whatsapp"
)

// OrderConfirmation asks the customer to confirm a new order and waits for
// the answer.
type OrderConfirmation struct {
	messenger Messenger
}

func NewOrderConfirmation(messenger Messenger) *OrderConfirmation {
	return &OrderConfirmation{messenger: messenger}
}

func (s *OrderConfirmation) Logic() templates.ExecutionLogic {
	return templates.LogicOrderConfirmation
}

func (s *OrderConfirmation) Execute(ctx context.Context, x *Execution) (Outcome, error) {
	cfg, ok := x.Config.(*templates.OrderConfirmationConfig)
	if !ok {
		return Outcome{}, fmt.Errorf("unexpected config %T for order confirmation", x.Config)
	}
	res, err := loadResources(ctx, x.exec.store, x.Run, x.Definition.RequiredResources)
	if err != nil {
		return Outcome{}, err
	}

	order := orderFromPayload(x.Definition.Trigger.Platform, x.Payload)
	if order.ID == "" {
		return Outcome{}, errors.New("trigger payload carries no order id")
	}
	normalized := phone.NormalizeWithDefault(order.Phone, order.ShippingCountry, order.BillingCountry, cfg.DefaultCountry)
	if !normalized.IsValid {
		return Outcome{}, fmt.Errorf("invalid customer phone number %q", order.Phone)
	}
	order.Phone = normalized.Canonical

	if err := x.SetPhone(ctx, normalized.Canonical); err != nil {
		return Outcome{}, err
	}
	text := whatsapp.RenderTemplate(res.template.Content, order.vars())
	sent, err := s.messenger.SendText(ctx, res.device.InstanceName, normalized.Canonical, text)
	if err != nil {
		return Outcome{}, fmt.Errorf("send confirmation request: %w", err)
	}
	err = x.UpdateContext(ctx, func(rc *models.RunContext) {
		rc.OrderID = order.ID
		rc.CustomerName = order.CustomerName
		rc.MessageID = sent.MessageID()
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{}, x.WaitForReply(ctx)
}

// HandleReply acknowledges the customer's decision with the configured text.
func (s *OrderConfirmation) HandleReply(ctx context.Context, x *Execution, result models.ReplyResult) error {
	cfg, ok := x.Config.(*templates.OrderConfirmationConfig)
	if !ok {
		return nil
	}
	var content string
	switch classifier.Classification(result.Classification) {
	case classifier.Confirm:
		content = cfg.ConfirmReply
	case classifier.Decline:
		content = cfg.DeclineReply
	}
	if content == "" || x.Run.PhoneNumber == "" {
		return nil
	}
	res, err := loadResources(ctx, x.exec.store, x.Run, templates.RequiredResources{Device: true})
	if err != nil {
		return err
	}
	rc := x.RunContext()
	text := whatsapp.RenderTemplate(content, map[string]string{
		"order_id":      rc.OrderID,
		"customer_name": rc.CustomerName,
	})
	_, err = s.messenger.SendText(ctx, res.device.InstanceName, x.Run.PhoneNumber, text)
	return err
}
