// Package apperr holds the error taxonomy shared by the automation core.
// Callers wrap these with fmt.Errorf("...: %w") and inspect them with errors.As.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FieldError is one offending path in a config document.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError is a user-correctable schema mismatch.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Path+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Paths lists the offending paths in order.
func (e *ValidationError) Paths() []string {
	paths := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		paths = append(paths, f.Path)
	}
	return paths
}

// ResourceError means a referenced connection, device or template is missing,
// not owned by the caller, or not usable right now.
type ResourceError struct {
	Kind   string
	ID     string
	Reason string
}

func (e *ResourceError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s %s: %s", e.Kind, e.ID, e.Reason)
}

// NotFound reports whether the resource simply does not exist.
func (e *ResourceError) NotFound() bool {
	return e.Reason == ReasonNotFound
}

const (
	ReasonNotFound    = "not found"
	ReasonNotOwned    = "not owned by user"
	ReasonUnavailable = "not in a usable state"
)

func NotFound(kind, id string) *ResourceError {
	return &ResourceError{Kind: kind, ID: id, Reason: ReasonNotFound}
}

// ExternalAPIError is a non-success answer from a provider. It may be transient.
type ExternalAPIError struct {
	Provider   string
	StatusCode int
	Message    string
	Body       string
}

func (e *ExternalAPIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s API error: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.StatusCode, e.Message)
}

// Temporary reports whether retrying can help: transport failures, 429 and 5xx.
func (e *ExternalAPIError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ConfigurationDriftError means a stored config no longer validates against its
// template. It is an operator problem, not something the end user can fix.
type ConfigurationDriftError struct {
	AutomationID string
	TemplateID   string
	Err          error
}

func (e *ConfigurationDriftError) Error() string {
	return fmt.Sprintf("configuration drift for automation %s (template %s): %v", e.AutomationID, e.TemplateID, e.Err)
}

func (e *ConfigurationDriftError) Unwrap() error { return e.Err }

// AmbiguityError is raised when an inbound reply matches more than one waiting run.
type AmbiguityError struct {
	PhoneNumber string
	DeviceID    string
	Candidates  int
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("ambiguous reply: %d runs waiting for %s on device %s", e.Candidates, e.PhoneNumber, e.DeviceID)
}

// HTTPStatus maps an error from the taxonomy to a response code.
func HTTPStatus(err error) int {
	var validationErr *ValidationError
	var resourceErr *ResourceError
	var externalErr *ExternalAPIError
	var ambiguityErr *AmbiguityError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.As(err, &resourceErr):
		if resourceErr.NotFound() {
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	case errors.As(err, &externalErr):
		return http.StatusBadGateway
	case errors.As(err, &ambiguityErr):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
