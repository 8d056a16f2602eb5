package automation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"whatsapp-automations/internal/lightfunnels"
	"whatsapp-automations/internal/models"
	"whatsapp-automations/internal/phone"
	"whatsapp-automations/internal/templates"
	"whatsapp-automations/internal/whatsapp"
)

// NoteCheckoutCompleted marks runs whose checkout was paid before the
// recovery message went out.
const NoteCheckoutCompleted = "Checkout Completed"

// AbandonedCheckout waits out the configured delay and then sends a recovery
// link unless the checkout turned into a paid order meanwhile.
type AbandonedCheckout struct {
	messenger Messenger
	checkouts CheckoutSource
	jobs      JobScheduler
}

func NewAbandonedCheckout(messenger Messenger, checkouts CheckoutSource, jobs JobScheduler) *AbandonedCheckout {
	return &AbandonedCheckout{messenger: messenger, checkouts: checkouts, jobs: jobs}
}

func (s *AbandonedCheckout) Logic() templates.ExecutionLogic {
	return templates.LogicAbandonedCheckout
}

func (s *AbandonedCheckout) Execute(ctx context.Context, x *Execution) (Outcome, error) {
	cfg, ok := x.Config.(*templates.AbandonedCheckoutConfig)
	if !ok {
		return Outcome{}, fmt.Errorf("unexpected config %T for abandoned checkout", x.Config)
	}
	checkout := lightfunnels.ParseCheckout(webhookNode(x.Payload))
	if checkout.ID == "" {
		return Outcome{}, errors.New("trigger payload carries no checkout id")
	}

	normalized := phone.NormalizeWithDefault(checkoutPhone(&checkout), checkout.Shipping.Country, checkout.Billing.Country, cfg.DefaultCountry)
	if normalized.IsValid {
		if err := x.SetPhone(ctx, normalized.Canonical); err != nil {
			return Outcome{}, err
		}
	}
	err := x.UpdateContext(ctx, func(rc *models.RunContext) {
		rc.CheckoutID = checkout.ID
		rc.RecoveryURL = checkout.RecoveryURL
		rc.CustomerName = checkout.CustomerName
		rc.AwaitingResume = true
	})
	if err != nil {
		return Outcome{}, err
	}

	delay := time.Duration(cfg.DelayMinutes) * time.Minute
	jobID, err := s.jobs.Schedule(ctx, JobKindResume, x.Run.ID, delay, map[string]string{"checkoutId": checkout.ID})
	if err != nil {
		return Outcome{}, fmt.Errorf("schedule recovery check: %w", err)
	}
	if err := x.UpdateContext(ctx, func(rc *models.RunContext) { rc.ResumeJobID = jobID }); err != nil {
		return Outcome{}, err
	}
	return Outcome{Deferred: true}, nil
}

func (s *AbandonedCheckout) Resume(ctx context.Context, x *Execution) error {
	cfg, ok := x.Config.(*templates.AbandonedCheckoutConfig)
	if !ok {
		return fmt.Errorf("unexpected config %T for abandoned checkout", x.Config)
	}
	res, err := loadResources(ctx, x.exec.store, x.Run, x.Definition.RequiredResources)
	if err != nil {
		return err
	}
	rc := x.RunContext()
	checkout, err := s.checkouts.Checkout(ctx, res.connection.AccessToken, rc.CheckoutID)
	if err != nil {
		return fmt.Errorf("fetch checkout %s: %w", rc.CheckoutID, err)
	}
	if checkout.Completed() {
		return x.Finish(ctx, models.RunSucceeded, NoteCheckoutCompleted)
	}

	number := x.Run.PhoneNumber
	if number == "" {
		normalized := phone.NormalizeWithDefault(checkoutPhone(checkout), checkout.Shipping.Country, checkout.Billing.Country, cfg.DefaultCountry)
		if !normalized.IsValid {
			return fmt.Errorf("invalid customer phone number %q", checkoutPhone(checkout))
		}
		number = normalized.Canonical
		if err := x.SetPhone(ctx, number); err != nil {
			return err
		}
	}
	recoveryURL := firstNonBlank(checkout.RecoveryURL, rc.RecoveryURL)
	text := whatsapp.RenderTemplate(res.template.Content, map[string]string{
		"customer_name": firstNonBlank(checkout.CustomerName, rc.CustomerName),
		"recovery_url":  recoveryURL,
		"checkout_id":   checkout.ID,
		"total":         strconv.FormatFloat(checkout.Total, 'f', 2, 64),
	})
	sent, err := s.messenger.SendText(ctx, res.device.InstanceName, number, text)
	if err != nil {
		return fmt.Errorf("send recovery message: %w", err)
	}
	return x.UpdateContext(ctx, func(rc *models.RunContext) {
		rc.MessageID = sent.MessageID()
		rc.RecoveryURL = recoveryURL
	})
}

func checkoutPhone(c *lightfunnels.Checkout) string {
	return firstNonBlank(c.Phone, c.Shipping.Phone, c.Billing.Phone)
}
