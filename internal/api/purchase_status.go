package api

import (
	"encoding/json"
	"net/http"
	"time"

	"entitlement-api/internal/database"
	"entitlement-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// PurchaseStatusResponse represents the entitlement status of a user
type PurchaseStatusResponse struct {
	Success      bool   `json:"success"`
	IsActive     bool   `json:"is_active"`
	State        string `json:"state"`
	ProductID    string `json:"product_id,omitempty"`
	LineageID    string `json:"lineage_id,omitempty"`
	ExpiryDate   string `json:"expiry_date,omitempty"`
	AutoRenewing bool   `json:"auto_renewing"`
}

// GetPurchaseStatus returns whether the user currently holds an
// entitlement for the authenticated application.
// GET /api/purchase/status?user_id=xxx
func GetPurchaseStatus(c *gin.Context) {
	appID := c.GetString("app_id")
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "user_id query parameter is required",
		})
		return
	}

	if deps.Cache != nil {
		if cached := deps.Cache.Get(c.Request.Context(), appID, userID); cached != "" {
			c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(cached))
			return
		}
	}

	now := time.Now()
	record, err := deps.Store.GetEntitledByUser(appID, userID)
	if err != nil {
		if err == database.ErrRecordNotFound {
			resp := PurchaseStatusResponse{Success: true, IsActive: false, State: "inactive"}
			writeStatusResponse(c, appID, userID, resp)
			return
		}
		logging.Errorf("Failed to query entitlement status: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to query purchase status",
		})
		return
	}

	resp := PurchaseStatusResponse{
		Success:      true,
		IsActive:     record.Entitled(now),
		State:        string(record.State),
		ProductID:    record.ProductID,
		LineageID:    record.LineageID,
		AutoRenewing: record.AutoRenewing,
	}
	if record.ExpiryTime != nil {
		resp.ExpiryDate = record.ExpiryTime.Format(time.RFC3339)
	}
	writeStatusResponse(c, appID, userID, resp)
}

func writeStatusResponse(c *gin.Context, appID, userID string, resp PurchaseStatusResponse) {
	if deps.Cache != nil {
		if raw, err := json.Marshal(resp); err == nil {
			deps.Cache.Set(c.Request.Context(), appID, userID, string(raw))
		}
	}
	c.JSON(http.StatusOK, resp)
}
