package api

import (
	"net/http"
	"time"

	"entitlement-api/internal/models"
	"entitlement-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// PurchaseHistoryItem represents a single purchase lineage in the history list
type PurchaseHistoryItem struct {
	LineageID    string `json:"lineage_id"`
	ProductID    string `json:"product_id"`
	State        string `json:"state"`
	IsActive     bool   `json:"is_active"`
	ExpiryDate   string `json:"expiry_date,omitempty"`
	AutoRenewing bool   `json:"auto_renewing"`
	OrderID      string `json:"order_id,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// GetPurchaseHistory returns all purchase lineages recorded for a user.
// GET /api/purchase/history?user_id=xxx
func GetPurchaseHistory(c *gin.Context) {
	appID := c.GetString("app_id")
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "user_id query parameter is required",
		})
		return
	}

	records, err := deps.Store.GetByUser(appID, userID)
	if err != nil {
		logging.Errorf("Failed to query purchase history: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to query purchase history",
		})
		return
	}

	now := time.Now()
	items := make([]PurchaseHistoryItem, 0, len(records))
	for _, record := range records {
		item := toHistoryItem(record, now)
		items = append(items, item)
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"purchases": items,
		"count":     len(items),
	})
}

func toHistoryItem(record models.PurchaseRecord, now time.Time) PurchaseHistoryItem {
	item := PurchaseHistoryItem{
		LineageID:    record.LineageID,
		ProductID:    record.ProductID,
		State:        string(record.State),
		IsActive:     record.Entitled(now),
		AutoRenewing: record.AutoRenewing,
		OrderID:      record.OrderID,
		CreatedAt:    record.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    record.UpdatedAt.Format(time.RFC3339),
	}
	if record.ExpiryTime != nil {
		item.ExpiryDate = record.ExpiryTime.Format(time.RFC3339)
	}
	return item
}
