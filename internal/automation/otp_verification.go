package automation

import (
	"context"
	"fmt"

	"whatsapp-automations/internal/models"
	"whatsapp-automations/internal/otp"
	"whatsapp-automations/internal/templates"
)

// OTPVerification issues a verification code when an OTP automation is
// triggered through a generic webhook instead of the storefront script.
type OTPVerification struct {
	codes CodeIssuer
}

func NewOTPVerification(codes CodeIssuer) *OTPVerification {
	return &OTPVerification{codes: codes}
}

func (s *OTPVerification) Logic() templates.ExecutionLogic {
	return templates.LogicOTPVerification
}

func (s *OTPVerification) Execute(ctx context.Context, x *Execution) (Outcome, error) {
	cfg, ok := x.Config.(*templates.OTPVerificationConfig)
	if !ok {
		return Outcome{}, fmt.Errorf("unexpected config %T for otp verification", x.Config)
	}
	p := webhookNode(x.Payload)
	issued, err := s.codes.Issue(ctx, x.Automation, cfg, otp.IssueInput{
		Phone:           firstNonBlank(p.Get("phone").String(), p.Get("phoneNumber").String()),
		Email:           p.Get("email").String(),
		IsTest:          p.Get("isTest").Bool(),
		ShippingCountry: p.Get("shippingCountry").String(),
		BillingCountry:  p.Get("billingCountry").String(),
	})
	if err != nil {
		return Outcome{}, err
	}
	if err := x.SetPhone(ctx, issued.PhoneNumber); err != nil {
		return Outcome{}, err
	}
	return Outcome{}, x.UpdateContext(ctx, func(rc *models.RunContext) {
		rc.Note = "verification code " + issued.ID + " sent"
	})
}
