package api

import (
	"errors"
	"net/http"
	"time"

	"entitlement-api/internal/models"
	"entitlement-api/internal/services"
	"entitlement-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// VerifyPurchaseRequest represents verify purchase request
type VerifyPurchaseRequest struct {
	PackageName string `json:"package_name" binding:"required"`
	ProductID   string `json:"product_id" binding:"required"`
	Token       string `json:"token" binding:"required"`
	UserID      string `json:"user_id" binding:"required"`
	Kind        string `json:"kind" binding:"omitempty,oneof=subscription one-time"`
}

// VerifyPurchaseResponse represents verify purchase response
type VerifyPurchaseResponse struct {
	Success          bool   `json:"success"`
	Message          string `json:"message"`
	IsValid          bool   `json:"is_valid"`
	IsActive         bool   `json:"is_active"`
	State            string `json:"state,omitempty"`
	LineageID        string `json:"lineage_id,omitempty"`
	ProductID        string `json:"product_id,omitempty"`
	SubscriptionType string `json:"subscription_type,omitempty"`
	ExpiryDate       string `json:"expiry_date,omitempty"`
	AutoRenewing     bool   `json:"auto_renewing"`
}

// VerifyPurchase verifies a purchase token against the platform and
// reconciles the result into the entitlement store.
// POST /api/purchase/verify
func VerifyPurchase(c *gin.Context) {
	var req VerifyPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, VerifyPurchaseResponse{
			Success: false,
			Message: "Invalid request format: " + err.Error(),
		})
		return
	}

	if deps.Verifier == nil {
		c.JSON(http.StatusNotImplemented, VerifyPurchaseResponse{
			Success: false,
			Message: "Purchase verification is not configured",
		})
		return
	}

	// Resolve the application by package name
	app, err := deps.Apps.GetByPackageName(req.PackageName)
	if err != nil {
		c.JSON(http.StatusBadRequest, VerifyPurchaseResponse{
			Success: false,
			Message: "Application not found: " + err.Error(),
		})
		return
	}

	kind := models.PurchaseSubscription
	if req.Kind == string(models.PurchaseOneTime) {
		kind = models.PurchaseOneTime
	}

	sig, err := deps.Verifier.Verify(c.Request.Context(), app, req.PackageName, req.ProductID, req.Token, req.UserID, kind)
	if err != nil {
		var verr *services.VerificationError
		if errors.As(err, &verr) {
			switch verr.Code {
			case services.ErrCodeTokenNotFound:
				c.JSON(http.StatusBadRequest, VerifyPurchaseResponse{
					Success: false,
					IsValid: false,
					Message: "Purchase token is not valid for this application",
				})
			case services.ErrCodeMismatchedContext:
				c.JSON(http.StatusBadRequest, VerifyPurchaseResponse{
					Success: false,
					Message: "Package name does not match the application",
				})
			case services.ErrCodeRateLimited:
				c.JSON(http.StatusTooManyRequests, VerifyPurchaseResponse{
					Success: false,
					Message: "Verification rate limited, retry later",
				})
			default:
				c.JSON(http.StatusBadGateway, VerifyPurchaseResponse{
					Success: false,
					Message: "Verification authority unreachable, retry later",
				})
			}
			return
		}
		logging.Errorf("Verification failed unexpectedly: %v", err)
		c.JSON(http.StatusInternalServerError, VerifyPurchaseResponse{
			Success: false,
			Message: "Verification failed",
		})
		return
	}
	sig.AppID = app.AppID

	if err := deps.Reconciler.Apply(c.Request.Context(), sig); err != nil {
		if errors.Is(err, services.ErrReconcileConflict) {
			c.JSON(http.StatusConflict, VerifyPurchaseResponse{
				Success: false,
				Message: "Concurrent updates on this purchase, retry",
			})
			return
		}
		logging.Errorf("Failed to reconcile verification signal: %v", err)
		c.JSON(http.StatusInternalServerError, VerifyPurchaseResponse{
			Success: false,
			Message: "Failed to record purchase state",
		})
		return
	}

	record, err := deps.Store.GetByToken(req.Token)
	if err != nil {
		logging.Errorf("Record missing after reconcile for token: %v", err)
		c.JSON(http.StatusInternalServerError, VerifyPurchaseResponse{
			Success: false,
			Message: "Failed to load purchase state",
		})
		return
	}

	resp := VerifyPurchaseResponse{
		Success:          true,
		Message:          "Purchase verified successfully",
		IsValid:          true,
		IsActive:         record.Entitled(time.Now()),
		State:            string(record.State),
		LineageID:        record.LineageID,
		ProductID:        record.ProductID,
		SubscriptionType: string(kind),
		AutoRenewing:     record.AutoRenewing,
	}
	if record.ExpiryTime != nil {
		resp.ExpiryDate = record.ExpiryTime.Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, resp)
}
