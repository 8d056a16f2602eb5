package api

import (
	"errors"
	"net/http"
	"strconv"

	"whatsapp-automations/internal/otp"
	"whatsapp-automations/pkg/logger"

	"github.com/gin-gonic/gin"
)

// OTPHandler serves the storefront checkout verification endpoints. They are
// called cross-origin from shop pages and carry no user header.
type OTPHandler struct {
	service *otp.Service
	store   automationLookup
	baseURL string
	logger  logger.Logger
}

func NewOTPHandler(service *otp.Service, store automationLookup, baseURL string, log logger.Logger) *OTPHandler {
	return &OTPHandler{service: service, store: store, baseURL: baseURL, logger: log}
}

func (h *OTPHandler) Register(r gin.IRouter) {
	g := r.Group("/otp/:platform")
	g.POST("/request", h.RequestCode)
	g.POST("/verify", h.VerifyCode)
	g.GET("/script.js", h.Script)
}

// RequestCode issues and sends a code for the automation in the query string
func (h *OTPHandler) RequestCode(c *gin.Context) {
	var req otp.RequestInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.AutomationID = c.Query("automationId")
	req.Platform = c.Param("platform")

	if _, err := h.service.Request(c.Request.Context(), req); err != nil {
		switch {
		case errors.Is(err, otp.ErrAutomationRequired),
			errors.Is(err, otp.ErrAutomationNotFound),
			errors.Is(err, otp.ErrNotOTPAutomation),
			errors.Is(err, otp.ErrInvalidPhone):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, otp.ErrAutomationInactive):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		default:
			h.logger.WithFields(map[string]interface{}{
				"automation_id": req.AutomationID,
				"error":         err.Error(),
			}).Error("Verification code request failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send verification code"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// VerifyCode consumes a code; every mismatch looks the same to the caller
func (h *OTPHandler) VerifyCode(c *gin.Context) {
	var req otp.VerifyInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or expired verification code"})
		return
	}
	req.Platform = c.Param("platform")

	if err := h.service.Verify(c.Request.Context(), req); err != nil {
		if !errors.Is(err, otp.ErrInvalidCode) && !errors.Is(err, otp.ErrInvalidPhone) {
			h.logger.WithField("error", err.Error()).Error("Verification failed")
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or expired verification code"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Script renders the storefront JavaScript for one automation
func (h *OTPHandler) Script(c *gin.Context) {
	automationID := c.Query("automationId")
	if automationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": otp.ErrAutomationRequired.Error()})
		return
	}
	a, err := h.store.GetAutomation(c.Request.Context(), automationID)
	if err != nil {
		respondError(c, err)
		return
	}
	debug, _ := strconv.ParseBool(c.Query("debug"))

	js, err := otp.Script(otp.ScriptInput{
		AutomationID: a.ID,
		UserID:       a.UserID,
		Platform:     c.Param("platform"),
		BaseURL:      h.baseURL,
		Debug:        debug,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "application/javascript; charset=utf-8", []byte(js))
}
