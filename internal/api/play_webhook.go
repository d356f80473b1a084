package api

import (
	"errors"
	"net/http"

	"entitlement-api/internal/services"
	"entitlement-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// PlayWebhookHandler receives push-delivered lifecycle notifications,
// decodes them and enqueues the resulting signal for reconciliation.
// POST /api/webhook/play
func PlayWebhookHandler(c *gin.Context) {
	if deps.Authenticator != nil {
		if err := deps.Authenticator.Authenticate(c.GetHeader("Authorization")); err != nil {
			logging.Warnf("Rejected webhook delivery: %v", err)
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Unauthorized"})
			return
		}
	}

	body, err := c.GetRawData()
	if err != nil {
		logging.Warnf("Failed to read webhook body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Failed to read request body"})
		return
	}

	sig, err := deps.Decoder.Decode(body)
	if err != nil {
		// Acknowledge test and malformed deliveries. Returning an error
		// status would only make the transport redeliver them forever.
		if errors.Is(err, services.ErrTestNotification) {
			c.JSON(http.StatusOK, gin.H{"success": true, "message": "Test notification received"})
			return
		}
		if errors.Is(err, services.ErrMalformedEnvelope) {
			logging.Warnf("Discarding malformed notification: %v", err)
			c.JSON(http.StatusOK, gin.H{"success": false, "message": "Malformed notification discarded"})
			return
		}
		logging.Errorf("Failed to decode notification: %v", err)
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "Notification discarded"})
		return
	}

	// Fast duplicate suppression on the transport message id. The ledger
	// remains the source of truth, this just saves queue slots.
	dedup := deps.Dedup != nil && sig.SignalID != ""
	if dedup && deps.Dedup.Seen(c.Request.Context(), sig.SignalID) {
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Duplicate delivery"})
		return
	}

	if app, err := deps.Apps.GetByPackageName(sig.PackageName); err == nil {
		sig.AppID = app.AppID
	} else {
		logging.Warnf("Notification for unregistered package %s", sig.PackageName)
	}

	if err := deps.Queue.Enqueue(sig); err != nil {
		if errors.Is(err, services.ErrQueueFull) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "Queue full, redeliver later"})
			return
		}
		logging.Errorf("Failed to enqueue signal: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "Failed to enqueue notification"})
		return
	}

	// Marked only after the enqueue succeeded. A rejected delivery stays
	// unmarked so the redelivery the 503 asks for is processed.
	if dedup {
		deps.Dedup.MarkAccepted(c.Request.Context(), sig.SignalID)
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Notification accepted"})
}
