package api

import (
	"context"
	"net/http"
	"strconv"

	"whatsapp-automations/internal/apperr"
	"whatsapp-automations/internal/automation"
	"whatsapp-automations/internal/database"
	"whatsapp-automations/internal/lightfunnels"
	"whatsapp-automations/internal/models"
	"whatsapp-automations/internal/shopify"

	"github.com/gin-gonic/gin"
)

// FunnelCatalog is the read side of a Lightfunnels account.
type FunnelCatalog interface {
	Funnels(ctx context.Context, accessToken string) ([]lightfunnels.Funnel, error)
	Products(ctx context.Context, accessToken string) ([]lightfunnels.Product, error)
	Orders(ctx context.Context, accessToken string, first int) ([]lightfunnels.Order, error)
	Order(ctx context.Context, accessToken, id string) (*lightfunnels.Order, error)
	Webhooks(ctx context.Context, accessToken string) ([]lightfunnels.Webhook, error)
}

// ShopCatalog is the read side of a Shopify store.
type ShopCatalog interface {
	Order(ctx context.Context, shopDomain, accessToken, id string) (*shopify.Order, error)
	WebhookSubscriptions(ctx context.Context, shopDomain, accessToken string) ([]shopify.WebhookSubscription, error)
}

// PlatformHandler lets the dashboard browse what a connection can see while
// an automation is being configured.
type PlatformHandler struct {
	store        *database.Store
	lightfunnels FunnelCatalog
	shopify      ShopCatalog
	sheets       automation.SheetsOpener
}

func NewPlatformHandler(store *database.Store, lf FunnelCatalog, shop ShopCatalog, sheets automation.SheetsOpener) *PlatformHandler {
	return &PlatformHandler{store: store, lightfunnels: lf, shopify: shop, sheets: sheets}
}

func (h *PlatformHandler) Register(r gin.IRouter) {
	g := r.Group("/connections/:id")
	g.GET("/spreadsheets", h.ListSpreadsheets)
	g.POST("/spreadsheets", h.CreateSpreadsheet)
	g.GET("/funnels", h.ListFunnels)
	g.GET("/products", h.ListProducts)
	g.GET("/orders", h.ListOrders)
	g.GET("/orders/:orderId", h.GetOrder)
	g.GET("/webhooks", h.ListWebhooks)
}

func (h *PlatformHandler) ListSpreadsheets(c *gin.Context) {
	conn, ok := h.connection(c, models.PlatformGoogleSheets)
	if !ok {
		return
	}
	session, err := h.sheets.Open(c.Request.Context(), conn)
	if err != nil {
		respondError(c, err)
		return
	}
	list, err := session.ListSpreadsheets(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *PlatformHandler) CreateSpreadsheet(c *gin.Context) {
	var req struct {
		Title string `json:"title" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	conn, ok := h.connection(c, models.PlatformGoogleSheets)
	if !ok {
		return
	}
	session, err := h.sheets.Open(c.Request.Context(), conn)
	if err != nil {
		respondError(c, err)
		return
	}
	created, err := session.CreateSpreadsheet(c.Request.Context(), req.Title)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *PlatformHandler) ListFunnels(c *gin.Context) {
	conn, ok := h.connection(c, models.PlatformLightfunnels)
	if !ok {
		return
	}
	list, err := h.lightfunnels.Funnels(c.Request.Context(), conn.AccessToken)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *PlatformHandler) ListProducts(c *gin.Context) {
	conn, ok := h.connection(c, models.PlatformLightfunnels)
	if !ok {
		return
	}
	list, err := h.lightfunnels.Products(c.Request.Context(), conn.AccessToken)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// ListOrders returns the most recent orders, 20 unless ?first says otherwise
func (h *PlatformHandler) ListOrders(c *gin.Context) {
	first, err := strconv.Atoi(c.DefaultQuery("first", "20"))
	if err != nil || first < 1 || first > 100 {
		respondError(c, &apperr.ValidationError{Fields: []apperr.FieldError{{Path: "first", Message: "must be between 1 and 100"}}})
		return
	}
	conn, ok := h.connection(c, models.PlatformLightfunnels)
	if !ok {
		return
	}
	list, err := h.lightfunnels.Orders(c.Request.Context(), conn.AccessToken, first)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// GetOrder looks an order up on whichever store platform the connection is for
func (h *PlatformHandler) GetOrder(c *gin.Context) {
	conn, ok := h.connection(c, models.PlatformLightfunnels, models.PlatformShopify)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	var (
		order interface{}
		err   error
	)
	if conn.Platform == models.PlatformShopify {
		order, err = h.shopify.Order(ctx, conn.ShopDomain, conn.AccessToken, c.Param("orderId"))
	} else {
		order, err = h.lightfunnels.Order(ctx, conn.AccessToken, c.Param("orderId"))
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// ListWebhooks shows what the platform will call, for checking trigger drift
func (h *PlatformHandler) ListWebhooks(c *gin.Context) {
	conn, ok := h.connection(c, models.PlatformLightfunnels, models.PlatformShopify)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if conn.Platform == models.PlatformShopify {
		list, err := h.shopify.WebhookSubscriptions(ctx, conn.ShopDomain, conn.AccessToken)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
		return
	}
	list, err := h.lightfunnels.Webhooks(ctx, conn.AccessToken)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// connection loads the caller's connection and checks it is on one of the
// accepted platforms. It writes the error response itself.
func (h *PlatformHandler) connection(c *gin.Context, accepted ...models.Platform) (*models.Connection, bool) {
	conn, err := h.store.GetConnection(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if conn.UserID != userID(c) {
		respondError(c, apperr.NotFound("connection", conn.ID))
		return nil, false
	}
	for _, p := range accepted {
		if conn.Platform == p {
			return conn, true
		}
	}
	respondError(c, &apperr.ValidationError{Fields: []apperr.FieldError{{
		Path:    "connection",
		Message: "connection is for " + string(conn.Platform),
	}}})
	return nil, false
}
