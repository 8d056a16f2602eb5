package api

import (
	"errors"
	"net/http"
	"strconv"

	"whatsapp-automations/internal/automation"
	"whatsapp-automations/internal/database"
	"whatsapp-automations/internal/templates"

	"github.com/gin-gonic/gin"
)

type AutomationHandler struct {
	manager   *automation.Manager
	templates *templates.Registry
	store     *database.Store
}

func NewAutomationHandler(manager *automation.Manager, registry *templates.Registry, store *database.Store) *AutomationHandler {
	return &AutomationHandler{manager: manager, templates: registry, store: store}
}

func (h *AutomationHandler) Register(r gin.IRouter) {
	r.GET("/templates", h.GetTemplates)

	g := r.Group("/automations")
	g.GET("", h.GetAutomations)
	g.POST("", h.CreateAutomation)
	g.GET("/analytics", h.GetAnalytics)
	g.POST("/bulk-delete", h.BulkDelete)
	g.GET("/:id", h.GetAutomation)
	g.PUT("/:id", h.UpdateAutomation)
	g.DELETE("/:id", h.DeleteAutomation)
	g.POST("/:id/toggle", h.ToggleAutomation)
	g.GET("/:id/runs", h.GetRuns)
}

// GetTemplates returns the built-in automation templates
func (h *AutomationHandler) GetTemplates(c *gin.Context) {
	c.JSON(http.StatusOK, h.templates.List())
}

func (h *AutomationHandler) GetAutomations(c *gin.Context) {
	list, err := h.manager.List(c.Request.Context(), userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *AutomationHandler) GetAutomation(c *gin.Context) {
	a, err := h.manager.Get(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// CreateAutomation validates the config and registers the external trigger
func (h *AutomationHandler) CreateAutomation(c *gin.Context) {
	var req automation.CreateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.UserID = userID(c)

	a, err := h.manager.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (h *AutomationHandler) UpdateAutomation(c *gin.Context) {
	var req automation.UpdateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a, err := h.manager.Update(c.Request.Context(), userID(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *AutomationHandler) DeleteAutomation(c *gin.Context) {
	if err := h.manager.Delete(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Automation deleted successfully"})
}

// BulkDelete keeps the successful deletions and reports the rest
func (h *AutomationHandler) BulkDelete(c *gin.Context) {
	var req struct {
		IDs []string `json:"ids" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.manager.BulkDelete(c.Request.Context(), userID(c), req.IDs)
	var bulkErr *automation.BulkDeleteError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"deleted": req.IDs, "failed": []string{}})
	case errors.As(err, &bulkErr):
		failures := make(map[string]string, len(bulkErr.Errors))
		for id, e := range bulkErr.Errors {
			failures[id] = e.Error()
		}
		c.JSON(http.StatusMultiStatus, gin.H{"deleted": bulkErr.Succeeded, "failed": bulkErr.Failed, "errors": failures})
	default:
		respondError(c, err)
	}
}

// ToggleAutomation enables or disables an automation
func (h *AutomationHandler) ToggleAutomation(c *gin.Context) {
	var req struct {
		IsActive *bool `json:"isActive" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a, err := h.manager.SetActive(c.Request.Context(), userID(c), c.Param("id"), *req.IsActive)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// GetRuns returns the latest runs of one automation
func (h *AutomationHandler) GetRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	runs, err := h.manager.Runs(c.Request.Context(), userID(c), c.Param("id"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, runs)
}

// GetAnalytics returns run totals per status across the user's automations
func (h *AutomationHandler) GetAnalytics(c *gin.Context) {
	ctx := c.Request.Context()
	list, err := h.manager.List(ctx, userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	counts, err := h.store.CountRunsByStatus(ctx, userID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	var active int
	for _, a := range list {
		if a.IsActive {
			active++
		}
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	c.JSON(http.StatusOK, gin.H{
		"total_automations":  len(list),
		"active_automations": active,
		"total_runs":         total,
		"runs_by_status":     counts,
	})
}
