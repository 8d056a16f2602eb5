package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"whatsapp-automations/internal/automation"
	dbmodels "whatsapp-automations/internal/models"
	"whatsapp-automations/internal/whatsapp"
	"whatsapp-automations/pkg/logger"
	"whatsapp-automations/pkg/models"

	"github.com/gin-gonic/gin"
)

// ExecutionStarter starts a run for an automation webhook delivery.
type ExecutionStarter interface {
	StartExecution(ctx context.Context, automationID string, payload []byte)
}

// ReplyRouter hands inbound WhatsApp messages to the waiting run.
type ReplyRouter interface {
	Route(ctx context.Context, msg automation.InboundMessage) automation.RouteResult
}

// DeviceStatusStore records the gateway's view of an instance connection.
type DeviceStatusStore interface {
	GetDeviceByInstance(ctx context.Context, instanceName string) (*dbmodels.Device, error)
	UpdateDeviceStatus(ctx context.Context, id string, status dbmodels.DeviceStatus) error
}

// EventConnectionUpdate reports an instance connecting or dropping.
const EventConnectionUpdate = "connection.update"

type Handler struct {
	executor ExecutionStarter
	router   ReplyRouter
	devices  DeviceStatusStore
	logger   logger.Logger

	// start runs accepted deliveries off the request goroutine.
	start func(fn func())
}

func NewHandler(executor ExecutionStarter, router ReplyRouter, devices DeviceStatusStore, log logger.Logger) *Handler {
	return &Handler{
		executor: executor,
		router:   router,
		devices:  devices,
		logger:   log,
		start:    func(fn func()) { go fn() },
	}
}

func (h *Handler) Register(r gin.IRouter) {
	r.POST("/webhooks/whatsapp/:instanceName", h.HandleWhatsApp)
	r.POST("/webhooks/:automationId", h.HandleAutomation)
}

// HandleAutomation accepts a platform delivery for one automation. The body
// is passed on verbatim; the run itself happens after the response.
func (h *Handler) HandleAutomation(c *gin.Context) {
	automationID := c.Param("automationId")
	body, err := io.ReadAll(c.Request.Body)
	if err != nil || !json.Valid(body) {
		h.logger.WithField("automation_id", automationID).Warn("Rejected webhook with invalid JSON body")
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be valid JSON"})
		return
	}

	h.start(func() {
		h.executor.StartExecution(context.Background(), automationID, body)
	})
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// HandleWhatsApp always answers 200 so the gateway does not redeliver.
func (h *Handler) HandleWhatsApp(c *gin.Context) {
	instance := c.Param("instanceName")
	log := h.logger.WithField("instance", instance)

	var payload models.EvolutionWebhook
	if err := c.ShouldBindJSON(&payload); err != nil {
		log.WithField("error", err.Error()).Warn("Ignoring unreadable WhatsApp event")
		c.JSON(http.StatusOK, gin.H{"status": automation.RouteIgnored, "reason": "unreadable payload"})
		return
	}

	if payload.Event == EventConnectionUpdate {
		h.updateDevice(c.Request.Context(), instance, payload.Data.State, log)
		c.JSON(http.StatusOK, gin.H{"status": "device_updated"})
		return
	}

	result := h.router.Route(c.Request.Context(), automation.InboundMessage{
		Event:        payload.Event,
		InstanceName: instance,
		RemoteJID:    payload.Data.Key.RemoteJID,
		FromMe:       payload.Data.Key.FromMe,
		Text:         payload.Data.Text(),
		MessageID:    payload.Data.Key.ID,
	})
	log.WithFields(map[string]interface{}{
		"status": result.Status,
		"run_id": result.RunID,
		"reason": result.Reason,
	}).Debug("WhatsApp event routed")
	c.JSON(http.StatusOK, result)
}

func (h *Handler) updateDevice(ctx context.Context, instance, state string, log logger.Logger) {
	status, ok := whatsapp.DeviceStatus(state)
	if !ok {
		log.WithField("state", state).Debug("Ignoring unknown connection state")
		return
	}
	device, err := h.devices.GetDeviceByInstance(ctx, instance)
	if err != nil {
		log.WithField("error", err.Error()).Warn("Connection update for unknown instance")
		return
	}
	if err := h.devices.UpdateDeviceStatus(ctx, device.ID, status); err != nil {
		log.WithField("error", err.Error()).Error("Updating device status failed")
		return
	}
	log.WithField("status", string(status)).Info("Device status updated")
}
