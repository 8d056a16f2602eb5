package api

import (
	"context"
	"net/http"

	"whatsapp-automations/internal/apperr"
	"whatsapp-automations/internal/database"
	"whatsapp-automations/internal/models"
	"whatsapp-automations/internal/whatsapp"
	"whatsapp-automations/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Gateway provisions the WhatsApp instances behind devices.
type Gateway interface {
	CreateInstance(ctx context.Context, instance string) (*whatsapp.CreateInstanceResponse, error)
	SetWebhook(ctx context.Context, instance, webhookURL string, events []string) error
	ConnectionState(ctx context.Context, instance string) (*whatsapp.ConnectionState, error)
	LogoutInstance(ctx context.Context, instance string) error
	DeleteInstance(ctx context.Context, instance string) error
}

type automationLookup interface {
	GetAutomation(ctx context.Context, id string) (*models.Automation, error)
}

// ResourceHandler manages the connections, devices and message templates
// automations point at.
type ResourceHandler struct {
	store       *database.Store
	gateway     Gateway
	webhookBase string
	logger      logger.Logger
}

func NewResourceHandler(store *database.Store, gateway Gateway, webhookBase string, log logger.Logger) *ResourceHandler {
	return &ResourceHandler{store: store, gateway: gateway, webhookBase: webhookBase, logger: log}
}

func (h *ResourceHandler) Register(r gin.IRouter) {
	r.GET("/connections", h.GetConnections)
	r.POST("/connections", h.CreateConnection)
	r.GET("/devices", h.GetDevices)
	r.POST("/devices", h.CreateDevice)
	r.PUT("/devices/:id/status", h.UpdateDeviceStatus)
	r.POST("/devices/:id/refresh", h.RefreshDevice)
	r.DELETE("/devices/:id", h.DeleteDevice)
	r.GET("/message-templates", h.GetMessageTemplates)
	r.POST("/message-templates", h.CreateMessageTemplate)
}

func (h *ResourceHandler) GetConnections(c *gin.Context) {
	list, err := h.store.ListConnections(c.Request.Context(), userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// CreateConnection stores platform credentials; tokens are never echoed back
func (h *ResourceHandler) CreateConnection(c *gin.Context) {
	var req struct {
		Platform     models.Platform `json:"platform" binding:"required,oneof=LIGHTFUNNELS SHOPIFY GOOGLE_SHEETS"`
		Name         string          `json:"name" binding:"required"`
		AccessToken  string          `json:"accessToken" binding:"required"`
		RefreshToken string          `json:"refreshToken"`
		ShopDomain   string          `json:"shopDomain" binding:"required_if=Platform SHOPIFY"`
		AccountID    string          `json:"accountId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conn := &models.Connection{
		UserID:       userID(c),
		Platform:     req.Platform,
		Name:         req.Name,
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		ShopDomain:   req.ShopDomain,
		AccountID:    req.AccountID,
	}
	if err := h.store.CreateConnection(c.Request.Context(), conn); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, conn)
}

func (h *ResourceHandler) GetDevices(c *gin.Context) {
	list, err := h.store.ListDevices(c.Request.Context(), userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// CreateDevice provisions a gateway instance and points its events at us.
// The response carries the QR code to pair the phone with.
func (h *ResourceHandler) CreateDevice(c *gin.Context) {
	var req struct {
		InstanceName string `json:"instanceName" binding:"required,max=64,excludesall=/?#"`
		PhoneNumber  string `json:"phoneNumber"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	created, err := h.gateway.CreateInstance(ctx, req.InstanceName)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.gateway.SetWebhook(ctx, req.InstanceName, h.webhookBase+"/whatsapp/"+req.InstanceName, whatsapp.DeviceEvents); err != nil {
		h.discardInstance(ctx, req.InstanceName)
		respondError(c, err)
		return
	}

	device := &models.Device{
		UserID:       userID(c),
		InstanceName: req.InstanceName,
		PhoneNumber:  req.PhoneNumber,
		Status:       models.DeviceConnecting,
	}
	if err := h.store.CreateDevice(ctx, device); err != nil {
		h.discardInstance(ctx, req.InstanceName)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"device": device, "qrcode": created.QRCode})
}

// UpdateDeviceStatus overrides the advisory device state
func (h *ResourceHandler) UpdateDeviceStatus(c *gin.Context) {
	var req struct {
		Status models.DeviceStatus `json:"status" binding:"required,oneof=CONNECTED CONNECTING DISCONNECTED"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	device, ok := h.ownedDevice(c)
	if !ok {
		return
	}
	if err := h.store.UpdateDeviceStatus(c.Request.Context(), device.ID, req.Status); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	device.Status = req.Status
	c.JSON(http.StatusOK, device)
}

// RefreshDevice asks the gateway for the live connection state
func (h *ResourceHandler) RefreshDevice(c *gin.Context) {
	device, ok := h.ownedDevice(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	state, err := h.gateway.ConnectionState(ctx, device.InstanceName)
	if err != nil {
		respondError(c, err)
		return
	}
	if status, known := whatsapp.DeviceStatus(state.Instance.State); known && status != device.Status {
		if err := h.store.UpdateDeviceStatus(ctx, device.ID, status); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		device.Status = status
	}
	c.JSON(http.StatusOK, device)
}

// DeleteDevice logs the instance out and removes it from the gateway
func (h *ResourceHandler) DeleteDevice(c *gin.Context) {
	device, ok := h.ownedDevice(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := h.gateway.LogoutInstance(ctx, device.InstanceName); err != nil {
		h.logger.WithFields(map[string]interface{}{"device_id": device.ID, "error": err.Error()}).Warn("Gateway logout failed")
	}
	if err := h.gateway.DeleteInstance(ctx, device.InstanceName); err != nil {
		respondError(c, err)
		return
	}
	if err := h.store.DeleteDevice(ctx, device.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Device deleted successfully"})
}

func (h *ResourceHandler) ownedDevice(c *gin.Context) (*models.Device, bool) {
	device, err := h.store.GetDevice(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if device.UserID != userID(c) {
		respondError(c, apperr.NotFound("device", device.ID))
		return nil, false
	}
	return device, true
}

func (h *ResourceHandler) discardInstance(ctx context.Context, instance string) {
	if err := h.gateway.DeleteInstance(ctx, instance); err != nil {
		h.logger.WithFields(map[string]interface{}{"instance": instance, "error": err.Error()}).Warn("Discarding gateway instance failed")
	}
}

func (h *ResourceHandler) GetMessageTemplates(c *gin.Context) {
	list, err := h.store.ListMessageTemplates(c.Request.Context(), userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *ResourceHandler) CreateMessageTemplate(c *gin.Context) {
	var req struct {
		Name    string `json:"name" binding:"required"`
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tpl := &models.MessageTemplate{UserID: userID(c), Name: req.Name, Content: req.Content}
	if err := h.store.CreateMessageTemplate(c.Request.Context(), tpl); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, tpl)
}
