package models

import "encoding/json"

// EncodeJSON renders v for a text column. Values in this package always
// marshal, so the error is dropped and "{}" is returned on the impossible path.
func EncodeJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// ParsedTriggerConfig decodes TriggerConfig; an empty or broken column yields the zero value.
func (a *Automation) ParsedTriggerConfig() TriggerConfig {
	var tc TriggerConfig
	if a.TriggerConfig != "" {
		_ = json.Unmarshal([]byte(a.TriggerConfig), &tc)
	}
	return tc
}

func (a *Automation) ParsedMetadata() map[string]interface{} {
	m := map[string]interface{}{}
	if a.Metadata != "" {
		_ = json.Unmarshal([]byte(a.Metadata), &m)
	}
	return m
}

func (r *Run) ParsedContext() RunContext {
	var rc RunContext
	if r.Context != "" {
		_ = json.Unmarshal([]byte(r.Context), &rc)
	}
	return rc
}

func (r *Run) ParsedReplyResult() (ReplyResult, bool) {
	var rr ReplyResult
	if r.AIResult == "" {
		return rr, false
	}
	if err := json.Unmarshal([]byte(r.AIResult), &rr); err != nil {
		return rr, false
	}
	return rr, true
}

func (r *Run) ParsedMetadata() map[string]interface{} {
	m := map[string]interface{}{}
	if r.Metadata != "" {
		_ = json.Unmarshal([]byte(r.Metadata), &m)
	}
	return m
}

// StringPtr returns nil for empty strings so optional foreign keys stay NULL.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
