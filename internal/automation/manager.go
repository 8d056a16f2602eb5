package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"whatsapp-automations/internal/apperr"
	"whatsapp-automations/internal/database"
	"whatsapp-automations/internal/models"
	"whatsapp-automations/internal/templates"
	"whatsapp-automations/internal/triggers"
	"whatsapp-automations/pkg/logger"
)

// Manager owns the automation lifecycle: it keeps stored configs valid and
// external webhook subscriptions in step with the rows.
type Manager struct {
	store       *database.Store
	templates   *templates.Registry
	triggers    *triggers.Registry
	webhookBase string
	logger      logger.Logger
	onChange    func(ctx context.Context)
}

func NewManager(store *database.Store, tpls *templates.Registry, trg *triggers.Registry, webhookBase string, log logger.Logger) *Manager {
	return &Manager{
		store:       store,
		templates:   tpls,
		triggers:    trg,
		webhookBase: webhookBase,
		logger:      log,
	}
}

// OnChange registers a hook called after every successful mutation.
func (m *Manager) OnChange(fn func(ctx context.Context)) {
	m.onChange = fn
}

type CreateInput struct {
	UserID            string          `json:"-"`
	TemplateID        string          `json:"templateId"`
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	Config            json.RawMessage `json:"config"`
	ConnectionID      string          `json:"connectionId"`
	DeviceID          string          `json:"deviceId"`
	MessageTemplateID string          `json:"messageTemplateId"`
	IsActive          *bool           `json:"isActive"`
}

// UpdateInput is a patch: nil fields are left alone, an empty string clears
// an optional reference.
type UpdateInput struct {
	Name              *string         `json:"name"`
	Description       *string         `json:"description"`
	Config            json.RawMessage `json:"config"`
	ConnectionID      *string         `json:"connectionId"`
	DeviceID          *string         `json:"deviceId"`
	MessageTemplateID *string         `json:"messageTemplateId"`
	IsActive          *bool           `json:"isActive"`
}

// BulkDeleteError lists the automations that could not be deleted. The
// successful deletions are kept.
type BulkDeleteError struct {
	Succeeded []string
	Failed    []string
	Errors    map[string]error
}

func (e *BulkDeleteError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, id := range e.Failed {
		parts = append(parts, fmt.Sprintf("%s: %v", id, e.Errors[id]))
	}
	return fmt.Sprintf("deleted %d automations, %d failed: %s", len(e.Succeeded), len(e.Failed), strings.Join(parts, "; "))
}

type resourceRefs struct {
	connectionID      string
	deviceID          string
	messageTemplateID string
	// currentDeviceID is the device already stored on the automation. Keeping
	// it does not require it to be connected right now.
	currentDeviceID string
}

// Create validates the input, persists the automation and registers its
// external trigger. A failure after the row exists removes the row again.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*models.Automation, error) {
	def, ok := m.templates.Get(in.TemplateID)
	if !ok {
		return nil, &apperr.ValidationError{Fields: []apperr.FieldError{{Path: "templateId", Message: "unknown template " + in.TemplateID}}}
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, &apperr.ValidationError{Fields: []apperr.FieldError{{Path: "name", Message: "is required"}}}
	}
	cfg, err := def.DecodeConfig(in.Config)
	if err != nil {
		return nil, err
	}
	refs := resourceRefs{connectionID: in.ConnectionID, deviceID: in.DeviceID, messageTemplateID: in.MessageTemplateID}
	conn, err := m.validateResources(ctx, in.UserID, def, cfg, refs)
	if err != nil {
		return nil, err
	}
	encoded, err := templates.EncodeConfig(cfg)
	if err != nil {
		return nil, err
	}

	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	a := &models.Automation{
		UserID:               in.UserID,
		TemplateDefinitionID: def.ID,
		Name:                 strings.TrimSpace(in.Name),
		Description:          in.Description,
		Config:               encoded,
		ConnectionID:         models.StringPtr(refs.connectionID),
		DeviceID:             models.StringPtr(refs.deviceID),
		TemplateID:           models.StringPtr(refs.messageTemplateID),
		Trigger:              def.Trigger.Kind,
		TriggerConfig:        "{}",
		IsActive:             active,
		Metadata:             "{}",
	}
	if err := m.store.CreateAutomation(ctx, a); err != nil {
		return nil, err
	}
	log := m.logger.WithFields(map[string]interface{}{"automation_id": a.ID, "template": def.ID})

	tc, err := m.setupTrigger(ctx, a, def, cfg, conn)
	if err != nil {
		m.rollbackCreate(ctx, a, nil)
		log.WithField("error", err.Error()).Warn("Trigger setup failed, automation removed")
		return nil, fmt.Errorf("set up trigger for automation %s: %w", a.ID, err)
	}
	if tc != nil {
		a.TriggerConfig = models.EncodeJSON(tc)
		if err := m.store.SaveAutomation(ctx, a); err != nil {
			m.rollbackCreate(ctx, a, conn)
			return nil, fmt.Errorf("store trigger for automation %s: %w", a.ID, err)
		}
	}

	log.Info("Automation created")
	m.changed(ctx)
	return a, nil
}

func (m *Manager) rollbackCreate(ctx context.Context, a *models.Automation, conn *models.Connection) {
	if conn != nil {
		if _, err := m.cleanupTrigger(ctx, a, conn); err != nil {
			m.logger.WithFields(map[string]interface{}{"automation_id": a.ID, "error": err.Error()}).Error("Rollback cleanup failed")
		}
	}
	if err := m.store.DeleteAutomation(ctx, a.ID); err != nil {
		m.logger.WithFields(map[string]interface{}{"automation_id": a.ID, "error": err.Error()}).Error("Rollback delete failed")
	}
}

// Update applies a patch. When the connection or trigger type changes, the old
// subscription is removed before the new one is registered. If the new setup
// fails the automation is left without an external trigger.
func (m *Manager) Update(ctx context.Context, userID, id string, in UpdateInput) (*models.Automation, error) {
	current, err := m.store.GetAutomationForUser(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	def, ok := m.templates.Get(current.TemplateDefinitionID)
	if !ok {
		return nil, fmt.Errorf("template %s of automation %s is no longer registered", current.TemplateDefinitionID, id)
	}

	rawConfig, err := overlayConfig(current.Config, in.Config)
	if err != nil {
		return nil, err
	}
	cfg, err := def.DecodeConfig(rawConfig)
	if err != nil {
		return nil, err
	}
	refs := resourceRefs{
		connectionID:      patchRef(current.ConnectionID, in.ConnectionID),
		deviceID:          patchRef(current.DeviceID, in.DeviceID),
		messageTemplateID: patchRef(current.TemplateID, in.MessageTemplateID),
		currentDeviceID:   models.Deref(current.DeviceID),
	}
	conn, err := m.validateResources(ctx, userID, def, cfg, refs)
	if err != nil {
		return nil, err
	}
	encoded, err := templates.EncodeConfig(cfg)
	if err != nil {
		return nil, err
	}

	updated := *current
	if in.Name != nil {
		if strings.TrimSpace(*in.Name) == "" {
			return nil, &apperr.ValidationError{Fields: []apperr.FieldError{{Path: "name", Message: "is required"}}}
		}
		updated.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		updated.Description = *in.Description
	}
	if in.IsActive != nil {
		updated.IsActive = *in.IsActive
	}
	updated.Config = encoded
	updated.ConnectionID = models.StringPtr(refs.connectionID)
	updated.DeviceID = models.StringPtr(refs.deviceID)
	updated.TemplateID = models.StringPtr(refs.messageTemplateID)

	oldTC := current.ParsedTriggerConfig()
	needsTrigger := def.Trigger.Kind == models.TriggerWebhook && cfg.AppTriggerType() != ""
	migrate := refs.connectionID != models.Deref(current.ConnectionID) ||
		cfg.AppTriggerType() != oldTC.TriggerType ||
		(needsTrigger && oldTC.ExternalID == "")

	log := m.logger.WithField("automation_id", id)
	if migrate {
		if oldTC.ExternalID != "" {
			oldConn := m.connectionOrNil(ctx, current.ConnectionID)
			res, err := m.cleanupTrigger(ctx, current, oldConn)
			if err != nil {
				return nil, fmt.Errorf("remove previous trigger of automation %s: %w", id, err)
			}
			if !res.Success {
				return nil, fmt.Errorf("remove previous trigger of automation %s: %s", id, res.Message)
			}
		}
		updated.TriggerConfig = "{}"

		tc, err := m.setupTrigger(ctx, &updated, def, cfg, conn)
		if err != nil {
			current.TriggerConfig = "{}"
			if saveErr := m.store.SaveAutomation(ctx, current); saveErr != nil {
				log.WithField("error", saveErr.Error()).Error("Clearing stale trigger config failed")
			}
			log.WithField("error", err.Error()).Warn("New trigger setup failed, automation has no external trigger")
			return nil, fmt.Errorf("set up trigger for automation %s: %w", id, err)
		}
		if tc != nil {
			updated.TriggerConfig = models.EncodeJSON(tc)
		}
	}

	if err := m.store.SaveAutomation(ctx, &updated); err != nil {
		return nil, err
	}
	log.WithField("trigger_migrated", migrate).Info("Automation updated")
	m.changed(ctx)
	return &updated, nil
}

// Delete removes the external trigger when it can and then always deletes
// the automation.
func (m *Manager) Delete(ctx context.Context, userID, id string) error {
	a, err := m.store.GetAutomationForUser(ctx, userID, id)
	if err != nil {
		return err
	}
	log := m.logger.WithField("automation_id", id)
	res, err := m.cleanupTrigger(ctx, a, m.connectionOrNil(ctx, a.ConnectionID))
	switch {
	case err != nil:
		log.WithField("error", err.Error()).Warn("Trigger cleanup failed, deleting anyway")
	case !res.Success:
		log.WithField("reason", res.Message).Warn("Trigger cleanup unsuccessful, deleting anyway")
	}
	if err := m.store.DeleteAutomation(ctx, id); err != nil {
		return err
	}
	log.Info("Automation deleted")
	m.changed(ctx)
	return nil
}

// BulkDelete deletes each id independently and returns a *BulkDeleteError
// when any of them failed.
func (m *Manager) BulkDelete(ctx context.Context, userID string, ids []string) error {
	result := &BulkDeleteError{Errors: map[string]error{}}
	for _, id := range ids {
		if err := m.Delete(ctx, userID, id); err != nil {
			result.Failed = append(result.Failed, id)
			result.Errors[id] = err
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	if len(result.Failed) > 0 {
		return result
	}
	return nil
}

func (m *Manager) SetActive(ctx context.Context, userID, id string, active bool) (*models.Automation, error) {
	a, err := m.store.GetAutomationForUser(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := m.store.SetAutomationActive(ctx, id, active); err != nil {
		return nil, err
	}
	a.IsActive = active
	m.changed(ctx)
	return a, nil
}

func (m *Manager) Get(ctx context.Context, userID, id string) (*models.Automation, error) {
	return m.store.GetAutomationForUser(ctx, userID, id)
}

func (m *Manager) List(ctx context.Context, userID string) ([]models.Automation, error) {
	return m.store.ListAutomations(ctx, userID)
}

// Runs lists the most recent runs of an automation owned by userID.
func (m *Manager) Runs(ctx context.Context, userID, id string, limit int) ([]models.Run, error) {
	if _, err := m.store.GetAutomationForUser(ctx, userID, id); err != nil {
		return nil, err
	}
	return m.store.ListRuns(ctx, id, limit)
}

// setupTrigger registers the external subscription. It returns nil for
// templates without a platform webhook.
func (m *Manager) setupTrigger(ctx context.Context, a *models.Automation, def *templates.Definition, cfg templates.Config, conn *models.Connection) (*models.TriggerConfig, error) {
	triggerType := cfg.AppTriggerType()
	if def.Trigger.Kind != models.TriggerWebhook || triggerType == "" {
		return nil, nil
	}
	if conn == nil {
		return nil, &apperr.ValidationError{Fields: []apperr.FieldError{{Path: "connectionId", Message: "is required for webhook triggers"}}}
	}
	svc := m.triggers.Resolve(conn.Platform, triggerType)
	if svc == nil {
		return nil, fmt.Errorf("no trigger service for %s %s", conn.Platform, triggerType)
	}
	res, err := svc.Setup(ctx, triggers.SetupInput{
		AutomationID:   a.ID,
		UserID:         a.UserID,
		Connection:     conn,
		TriggerType:    triggerType,
		WebhookURLBase: m.webhookBase,
	})
	if err != nil {
		return nil, err
	}
	tc := res.ToTriggerConfig(conn.Platform, triggerType)
	return &tc, nil
}

func (m *Manager) cleanupTrigger(ctx context.Context, a *models.Automation, conn *models.Connection) (*triggers.CleanupResult, error) {
	tc := a.ParsedTriggerConfig()
	if tc.ExternalID == "" {
		return &triggers.CleanupResult{Success: true, Message: "no external trigger registered"}, nil
	}
	svc := m.triggers.Resolve(tc.Platform, tc.TriggerType)
	if svc == nil {
		return nil, fmt.Errorf("no trigger service for %s %s", tc.Platform, tc.TriggerType)
	}
	return svc.Cleanup(ctx, triggers.CleanupInput{
		AutomationID:  a.ID,
		UserID:        a.UserID,
		Connection:    conn,
		TriggerConfig: tc,
	})
}

func (m *Manager) connectionOrNil(ctx context.Context, id *string) *models.Connection {
	if id == nil {
		return nil
	}
	conn, err := m.store.GetConnection(ctx, *id)
	if err != nil {
		return nil
	}
	return conn
}

// validateResources checks presence, ownership and fitness of every
// referenced record and returns the connection, if any.
func (m *Manager) validateResources(ctx context.Context, userID string, def *templates.Definition, cfg templates.Config, refs resourceRefs) (*models.Connection, error) {
	var missing []apperr.FieldError
	need := def.RequiredResources
	if need.Connection && refs.connectionID == "" {
		missing = append(missing, apperr.FieldError{Path: "connectionId", Message: "is required"})
	}
	if need.Device && refs.deviceID == "" {
		missing = append(missing, apperr.FieldError{Path: "deviceId", Message: "is required"})
	}
	if need.MessageTemplate && refs.messageTemplateID == "" {
		missing = append(missing, apperr.FieldError{Path: "messageTemplateId", Message: "is required"})
	}
	if len(missing) > 0 {
		return nil, &apperr.ValidationError{Fields: missing}
	}

	var conn *models.Connection
	if refs.connectionID != "" {
		c, err := m.ownedConnection(ctx, userID, refs.connectionID)
		if err != nil {
			return nil, err
		}
		if len(def.AllowedConnectionPlatforms) > 0 && !def.AllowsConnectionPlatform(c.Platform) {
			return nil, &apperr.ValidationError{Fields: []apperr.FieldError{{
				Path:    "connectionId",
				Message: fmt.Sprintf("%s connections cannot be used with template %s", c.Platform, def.ID),
			}}}
		}
		conn = c
	}
	if refs.deviceID != "" {
		device, err := m.store.GetDevice(ctx, refs.deviceID)
		if err != nil {
			return nil, err
		}
		if device.UserID != userID {
			return nil, &apperr.ResourceError{Kind: "device", ID: device.ID, Reason: apperr.ReasonNotOwned}
		}
		if device.Status != models.DeviceConnected && device.ID != refs.currentDeviceID {
			return nil, &apperr.ResourceError{Kind: "device", ID: device.ID, Reason: apperr.ReasonUnavailable}
		}
	}
	if refs.messageTemplateID != "" {
		tpl, err := m.store.GetMessageTemplate(ctx, refs.messageTemplateID)
		if err != nil {
			return nil, err
		}
		if tpl.UserID != userID {
			return nil, &apperr.ResourceError{Kind: "message template", ID: tpl.ID, Reason: apperr.ReasonNotOwned}
		}
	}
	if sheetCfg, ok := cfg.(*templates.OrderToSheetConfig); ok {
		sheetConn, err := m.ownedConnection(ctx, userID, sheetCfg.SheetsConnectionID)
		if err != nil {
			return nil, err
		}
		if sheetConn.Platform != models.PlatformGoogleSheets {
			return nil, &apperr.ValidationError{Fields: []apperr.FieldError{{Path: "config.sheetsConnectionId", Message: "must be a Google Sheets connection"}}}
		}
	}
	return conn, nil
}

func (m *Manager) ownedConnection(ctx context.Context, userID, id string) (*models.Connection, error) {
	conn, err := m.store.GetConnection(ctx, id)
	if err != nil {
		return nil, err
	}
	if conn.UserID != userID {
		return nil, &apperr.ResourceError{Kind: "connection", ID: conn.ID, Reason: apperr.ReasonNotOwned}
	}
	return conn, nil
}

func (m *Manager) changed(ctx context.Context) {
	if m.onChange != nil {
		m.onChange(ctx)
	}
}

func patchRef(current *string, patch *string) string {
	if patch == nil {
		return models.Deref(current)
	}
	return strings.TrimSpace(*patch)
}

// overlayConfig applies the top-level keys of patch on the stored config.
func overlayConfig(stored string, patch json.RawMessage) ([]byte, error) {
	if len(bytes.TrimSpace(patch)) == 0 {
		return []byte(stored), nil
	}
	base := map[string]interface{}{}
	if stored != "" {
		if err := json.Unmarshal([]byte(stored), &base); err != nil {
			return nil, fmt.Errorf("decode stored config: %w", err)
		}
	}
	var overlay map[string]interface{}
	if err := json.Unmarshal(patch, &overlay); err != nil {
		return nil, &apperr.ValidationError{Fields: []apperr.FieldError{{Path: "config", Message: "must be a JSON object"}}}
	}
	for k, v := range overlay {
		base[k] = v
	}
	out, err := json.Marshal(base)
	if err != nil {
		return nil, errors.New("encode config patch")
	}
	return out, nil
}
