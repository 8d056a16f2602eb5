package templates

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"whatsapp-automations/internal/apperr"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DecodeConfig overlays raw on the template defaults, decodes the result
// into the template's config variant and validates it. Every offending path
// is reported in a single *apperr.ValidationError.
func (d *Definition) DecodeConfig(raw []byte) (Config, error) {
	if d.NewConfig == nil {
		return nil, fmt.Errorf("template %s has no config schema", d.ID)
	}

	merged := make(map[string]interface{}, len(d.DefaultConfig))
	for k, v := range d.DefaultConfig {
		merged[k] = v
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		var supplied map[string]interface{}
		if err := json.Unmarshal(raw, &supplied); err != nil {
			return nil, &apperr.ValidationError{Fields: []apperr.FieldError{{Path: "", Message: "config must be a JSON object"}}}
		}
		for k, v := range supplied {
			if v == nil {
				continue
			}
			merged[k] = v
		}
	}

	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode merged config: %w", err)
	}
	cfg := d.NewConfig()
	if err := json.Unmarshal(mergedJSON, cfg); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, &apperr.ValidationError{Fields: []apperr.FieldError{{
				Path:    typeErr.Field,
				Message: "must be a " + typeErr.Type.String(),
			}}}
		}
		return nil, &apperr.ValidationError{Fields: []apperr.FieldError{{Message: err.Error()}}}
	}

	var fields []apperr.FieldError
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, fmt.Errorf("validate config: %w", err)
		}
		for _, fe := range verrs {
			fields = append(fields, apperr.FieldError{Path: fieldPath(fe), Message: describe(fe)})
		}
	}

	if tt := cfg.AppTriggerType(); tt != "" && len(d.Trigger.Types) > 0 && !d.Trigger.Supports(tt) {
		fields = append(fields, apperr.FieldError{
			Path:    "triggerType",
			Message: "must be one of " + strings.Join(d.Trigger.Types, ", "),
		})
	}

	if len(fields) > 0 {
		return nil, &apperr.ValidationError{Fields: fields}
	}
	return cfg, nil
}

// EncodeConfig renders a decoded config for storage.
func EncodeConfig(cfg Config) (string, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return string(b), nil
}

// fieldPath drops the struct name from the validator namespace, leaving the JSON path.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	case "contains":
		return "must contain " + fe.Param()
	case "cron":
		return "must be a valid cron expression"
	default:
		return "failed " + fe.Tag() + " check"
	}
}
