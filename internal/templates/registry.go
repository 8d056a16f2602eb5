// Package templates holds the built-in automation templates: their config
// schemas, required resources and execution logic identifiers.
package templates

import (
	"sort"

	"whatsapp-automations/internal/models"
)

// ExecutionLogic names the strategy that runs a template.
type ExecutionLogic string

const (
	LogicOrderConfirmation ExecutionLogic = "order_confirmation"
	LogicAbandonedCheckout ExecutionLogic = "abandoned_checkout"
	LogicOTPVerification   ExecutionLogic = "otp_verification"
	LogicOrderToSheet      ExecutionLogic = "order_to_sheet"
	LogicSheetRowMessage   ExecutionLogic = "sheet_row_message"
)

const (
	ActionSendWhatsApp = "send_whatsapp"
	ActionIssueOTP     = "issue_otp"
	ActionAppendRow    = "append_sheet_row"
)

type TriggerSpec struct {
	Types    []string           `json:"types,omitempty"`
	Platform models.Platform    `json:"platform,omitempty"`
	Kind     models.TriggerKind `json:"kind"`
}

// Supports reports whether triggerType is one of the template's trigger types.
func (t TriggerSpec) Supports(triggerType string) bool {
	for _, tt := range t.Types {
		if tt == triggerType {
			return true
		}
	}
	return false
}

type ActionSpec struct {
	Type string `json:"type"`
}

type RequiredResources struct {
	Connection      bool `json:"connection"`
	Device          bool `json:"device"`
	MessageTemplate bool `json:"messageTemplate"`
}

// Field describes one config field for form rendering.
type Field struct {
	Path     string      `json:"path"`
	Label    string      `json:"label"`
	Type     string      `json:"type"`
	Required bool        `json:"required"`
	Options  []string    `json:"options,omitempty"`
	Default  interface{} `json:"default,omitempty"`
}

type Definition struct {
	ID                         string                 `json:"id"`
	Name                       string                 `json:"name"`
	Description                string                 `json:"description"`
	Trigger                    TriggerSpec            `json:"trigger"`
	Action                     ActionSpec             `json:"action"`
	ExecutionLogic             ExecutionLogic         `json:"executionLogic"`
	AwaitsReply                bool                   `json:"awaitsReply"`
	RequiredResources          RequiredResources      `json:"requiredResources"`
	AllowedConnectionPlatforms []models.Platform      `json:"allowedConnectionPlatforms,omitempty"`
	Fields                     []Field                `json:"fields"`
	DefaultConfig              map[string]interface{} `json:"defaultConfig"`

	// NewConfig returns an empty value of the template's config variant.
	NewConfig func() Config `json:"-"`
}

// AllowsConnectionPlatform reports whether a connection on p may back this template.
func (d *Definition) AllowsConnectionPlatform(p models.Platform) bool {
	for _, allowed := range d.AllowedConnectionPlatforms {
		if allowed == p {
			return true
		}
	}
	return false
}

// Registry is immutable once built.
type Registry struct {
	byID map[string]*Definition
	ids  []string
}

// NewRegistry returns the built-in templates.
func NewRegistry() *Registry {
	return NewRegistryWith(builtins()...)
}

func NewRegistryWith(defs ...*Definition) *Registry {
	r := &Registry{byID: make(map[string]*Definition, len(defs))}
	for _, d := range defs {
		r.byID[d.ID] = d
		r.ids = append(r.ids, d.ID)
	}
	sort.Strings(r.ids)
	return r
}

func (r *Registry) Get(id string) (*Definition, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// List returns every definition ordered by id.
func (r *Registry) List() []*Definition {
	out := make([]*Definition, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.byID[id])
	}
	return out
}
