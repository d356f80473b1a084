package api

import (
	"entitlement-api/internal/database"
	"entitlement-api/internal/middleware"
	"entitlement-api/internal/services"

	"github.com/gin-gonic/gin"
)

// Deps carries the wired service instances the handlers use.
type Deps struct {
	Verifier      *services.TokenVerifier // nil when the platform client is not configured
	Reconciler    *services.Reconciler
	Queue         *services.SignalQueue
	Decoder       *services.NotificationDecoder
	Authenticator *services.PushAuthenticator
	Apps          *services.ApplicationService
	Store         *database.EntitlementStore
	Cache         *services.StatusCache
	Dedup         services.DeliveryDeduper
}

var deps Deps

// SetupRoutes sets up all routes
func SetupRoutes(r *gin.Engine, d Deps) {
	deps = d

	// Initialize application registry
	middleware.InitAppRegistry()

	// API route group
	api := r.Group("/api")
	{
		// Purchase routes (client API - no authentication required)
		purchase := api.Group("/purchase")
		{
			purchase.POST("/verify", VerifyPurchase)
		}

		// Purchase routes for app backend (requires application authentication)
		purchaseBackend := api.Group("/purchase")
		purchaseBackend.Use(middleware.AppAuthMiddleware())
		{
			purchaseBackend.GET("/status", GetPurchaseStatus)
			purchaseBackend.GET("/history", GetPurchaseHistory)
		}

		// Lifecycle notification webhook (no app auth, the platform calls
		// this; authenticity is checked per delivery)
		webhook := api.Group("/webhook")
		{
			webhook.POST("/play", PlayWebhookHandler)
		}

		// Application management routes (for admin use)
		admin := api.Group("/admin")
		{
			admin.GET("/applications", GetApplications)
			admin.POST("/applications", CreateApplication)
			admin.PUT("/applications/:id", UpdateApplication)
			admin.DELETE("/applications/:id", DeleteApplication)
		}
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "entitlement-service",
		})
	})
}
