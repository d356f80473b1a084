package middleware

import (
	"net/http"
	"time"

	"entitlement-api/internal/response"
	"entitlement-api/internal/services"

	"github.com/gin-gonic/gin"
)

var AppService *services.ApplicationService

// InitAppRegistry initializes the application registry
func InitAppRegistry() {
	AppService = services.NewApplicationService()
}

// AppAuthMiddleware provides application authentication middleware
func AppAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get application ID and API key
		appID := c.GetHeader("X-App-ID")
		apiKey := c.GetHeader("X-API-Key")

		// If not passed via header, try to get from query parameters
		if appID == "" {
			appID = c.Query("app_id")
		}
		if apiKey == "" {
			apiKey = c.Query("api_key")
		}

		// Validate application ID and API key
		if appID == "" || apiKey == "" {
			c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Missing app_id or api_key"))
			c.Abort()
			return
		}

		// Validate application using database
		if !AppService.ValidateApplication(appID, apiKey) {
			c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid app_id or api_key"))
			c.Abort()
			return
		}

		// Store application ID and additional info in context
		c.Set("app_id", appID)
		c.Set("request_time", time.Now())
		c.Next()
	}
}
