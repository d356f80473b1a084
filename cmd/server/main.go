package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"entitlement-api/internal/api"
	"entitlement-api/internal/config"
	"entitlement-api/internal/database"
	"entitlement-api/internal/services"
	"entitlement-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

func main() {
	// Initialize configuration
	if err := config.InitConfig(); err != nil {
		log.Fatal("Failed to initialize config:", err)
	}

	// Initialize logging
	logging.InitLogging(config.AppConfig.Mode == "debug")

	// Initialize database
	if err := database.InitDatabase(); err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer database.CloseDatabase()

	cfg := config.AppConfig

	// Platform client. The API still serves notifications and status
	// queries when credentials are absent, only verification and
	// acknowledgment calls are disabled.
	var verifier *services.TokenVerifier
	var acknowledgerClient services.PurchaseAcknowledger
	if cfg.ServiceAccountJSON != "" {
		playClient, err := services.NewPlayClient(context.Background(), cfg.ServiceAccountJSON)
		if err != nil {
			log.Fatal("Failed to initialize platform client:", err)
		}
		verifier = services.NewTokenVerifier(playClient)
		acknowledgerClient = playClient
	} else {
		logging.Warnf("SERVICE_ACCOUNT_JSON not set, token verification disabled")
	}

	store := database.NewEntitlementStore()
	apps := services.NewApplicationService()
	cache := services.NewStatusCache()
	alerter := services.NewAlertMailer()
	dispatcher := services.NewDispatcher(apps)

	var acknowledger *services.Acknowledger
	var ackScheduler services.AckScheduler
	if acknowledgerClient != nil {
		acknowledger = services.NewAcknowledger(
			acknowledgerClient, store, alerter,
			cfg.AckMaxAttempts,
			time.Duration(cfg.AckDeadlineMinutes)*time.Minute,
		)
		acknowledger.Start()
		ackScheduler = acknowledger
	}

	reconciler := services.NewReconciler(store, ackScheduler, dispatcher, cache)

	queue := services.NewSignalQueue(reconciler, cfg.SignalWorkers, cfg.SignalQueueSize)
	queue.Start()

	pruner := services.NewLedgerPruner(store, time.Duration(cfg.LedgerRetentionHours)*time.Hour)
	pruner.Start()

	// Re-enqueue acknowledgments that were pending when the previous
	// process stopped.
	if acknowledger != nil {
		pending, err := store.GetUnacknowledged(500)
		if err != nil {
			logging.Errorf("Failed to load pending acknowledgments: %v", err)
		} else if len(pending) > 0 {
			logging.Infof("Resuming %d pending acknowledgments", len(pending))
			acknowledger.ResumePending(pending)
		}
	}

	// Set Gin mode
	gin.SetMode(cfg.Mode)

	// Create Gin engine
	r := gin.Default()

	// Setup routes
	api.SetupRoutes(r, api.Deps{
		Verifier:      verifier,
		Reconciler:    reconciler,
		Queue:         queue,
		Decoder:       services.NewNotificationDecoder(),
		Authenticator: services.NewPushAuthenticator(cfg.PubSubAudience, cfg.PubSubServiceAccount),
		Apps:          apps,
		Store:         store,
		Cache:         cache,
		Dedup:         services.NewDeliveryDeduper(time.Duration(cfg.LedgerRetentionHours) * time.Hour),
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		logging.Infof("Starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server:", err)
		}
	}()

	// Wait for shutdown signal, then drain in dependency order: stop
	// accepting requests, drain the signal queue, then stop the
	// background workers.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Infof("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.Errorf("Server shutdown failed: %v", err)
	}

	queue.Stop()
	pruner.Stop()
	if acknowledger != nil {
		acknowledger.Stop()
	}

	logging.Infof("Server stopped")
}
