package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whatsapp-automations/internal/api"
	"whatsapp-automations/internal/automation"
	"whatsapp-automations/internal/classifier"
	"whatsapp-automations/internal/config"
	"whatsapp-automations/internal/database"
	"whatsapp-automations/internal/lightfunnels"
	"whatsapp-automations/internal/otp"
	"whatsapp-automations/internal/queue"
	"whatsapp-automations/internal/scheduler"
	"whatsapp-automations/internal/sheets"
	"whatsapp-automations/internal/shopify"
	"whatsapp-automations/internal/templates"
	"whatsapp-automations/internal/triggers"
	"whatsapp-automations/internal/webhook"
	"whatsapp-automations/internal/whatsapp"
	"whatsapp-automations/internal/ws"
	"whatsapp-automations/pkg/logger"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.LoadConfig()
	log := logger.NewLogger(cfg.LogLevel)

	db, err := database.Open(cfg)
	if err != nil {
		log.Fatal("Failed to open database: " + err.Error())
	}
	store := database.NewStore(db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	whatsappClient := whatsapp.NewClient(cfg)
	lightfunnelsClient := lightfunnels.NewClient(cfg)
	shopifyClient := shopify.NewClient(cfg)
	sheetsClient := sheets.NewClient(cfg)

	registry := templates.NewRegistry()
	triggerRegistry := triggers.NewRegistry(
		triggers.NewLightfunnelsService(lightfunnelsClient, log.WithField("component", "triggers")),
		triggers.NewShopifyService(shopifyClient, log.WithField("component", "triggers")),
	)

	var replyClassifier classifier.Classifier = classifier.NewKeyword()
	if cfg.OpenAIAPIKey != "" {
		replyClassifier = classifier.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel, log.WithField("component", "classifier"))
	} else {
		log.Warn("OPENAI_API_KEY not set, classifying replies by keyword")
	}

	hub := ws.NewHub(log.WithField("component", "ws"))
	go hub.Run(ctx)

	jobQueue := queue.New(store, queue.Options{
		Concurrency:  cfg.QueueConcurrency,
		PollInterval: cfg.QueuePollInterval,
		MaxAttempts:  cfg.QueueMaxAttempts,
		BaseBackoff:  cfg.QueueBaseBackoff,
	}, log.WithField("component", "queue"))

	otpService := otp.NewService(store, whatsappClient, registry, cfg.OTPCodeLength, cfg.OTPExpiry, log.WithField("component", "otp"))
	sheetsOpener := automation.NewSheetsOpener(sheetsClient, store)

	executor, err := automation.NewExecutor(store, registry, replyClassifier, hub, log.WithField("component", "executor"),
		automation.NewOrderConfirmation(whatsappClient),
		automation.NewAbandonedCheckout(whatsappClient, lightfunnelsClient, jobQueue),
		automation.NewOTPVerification(otpService),
		automation.NewOrderToSheet(sheetsOpener),
		automation.NewSheetRowMessage(sheetsOpener, whatsappClient),
	)
	if err != nil {
		log.Fatal("Failed to build executor: " + err.Error())
	}
	executor.RegisterJobs(jobQueue)

	router := automation.NewRouter(store, executor, cfg.ReplyLookback, log.WithField("component", "router"))
	cronScheduler := scheduler.New(store, registry, executor, log.WithField("component", "scheduler"))
	manager := automation.NewManager(store, registry, triggerRegistry, cfg.WebhookBaseURL(), log.WithField("component", "manager"))
	manager.OnChange(func(ctx context.Context) {
		if err := cronScheduler.Sync(ctx); err != nil {
			log.WithField("error", err.Error()).Error("Schedule sync after automation change failed")
		}
	})

	if err := jobQueue.RecoverStaleJobs(ctx); err != nil {
		log.WithField("error", err.Error()).Error("Recovering stale jobs failed")
	}
	go jobQueue.Run(ctx)
	cronScheduler.Start(ctx)

	r := gin.Default()

	// CORS Middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, "+api.UserHeader)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ws", func(c *gin.Context) {
		hub.ServeWs(c.Writer, c.Request)
	})

	// Webhook Routes
	webhook.NewHandler(executor, router, store, log.WithField("component", "webhook")).Register(r)

	// Storefront OTP Routes
	api.NewOTPHandler(otpService, store, cfg.PublicBaseURL, log.WithField("component", "otp")).Register(r)

	// Dashboard API Routes
	apiGroup := r.Group("/api", api.RequireUser())
	api.NewAutomationHandler(manager, registry, store).Register(apiGroup)
	api.NewResourceHandler(store, whatsappClient, cfg.WebhookBaseURL(), log.WithField("component", "devices")).Register(apiGroup)
	api.NewPlatformHandler(store, lightfunnelsClient, shopifyClient, sheetsOpener).Register(apiGroup)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("Server starting on port " + cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to run server: " + err.Error())
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithField("error", err.Error()).Error("Server shutdown failed")
	}
	cronScheduler.Stop()
}
