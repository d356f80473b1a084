package api

import (
	"net/http"

	"entitlement-api/internal/models"

	"github.com/gin-gonic/gin"
)

// GetApplications gets all registered applications
func GetApplications(c *gin.Context) {
	apps, err := deps.Apps.GetAllApplications()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to get applications",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    apps,
	})
}

// CreateApplicationRequest represents create application request
type CreateApplicationRequest struct {
	AppID              string `json:"app_id" binding:"required"`
	AppName            string `json:"app_name" binding:"required"`
	APIKey             string `json:"api_key" binding:"required"`
	PackageName        string `json:"package_name" binding:"required"`
	Description        string `json:"description"`
	ContactEmail       string `json:"contact_email"`
	WebhookCallbackURL string `json:"webhook_callback_url"`
	WebhookSecret      string `json:"webhook_secret"`
}

// CreateApplication registers a new application
func CreateApplication(c *gin.Context) {
	var req CreateApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Invalid request format: " + err.Error(),
		})
		return
	}

	app := &models.Application{
		AppID:              req.AppID,
		AppName:            req.AppName,
		APIKey:             req.APIKey,
		PackageName:        req.PackageName,
		Description:        req.Description,
		ContactEmail:       req.ContactEmail,
		WebhookCallbackURL: req.WebhookCallbackURL,
		WebhookSecret:      req.WebhookSecret,
		IsActive:           true,
	}

	if err := deps.Apps.CreateApplication(app); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Failed to create application: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "Application created successfully",
		"data":    app,
	})
}

// UpdateApplicationRequest represents update application request
type UpdateApplicationRequest struct {
	AppName            string `json:"app_name"`
	PackageName        string `json:"package_name"`
	Description        string `json:"description"`
	ContactEmail       string `json:"contact_email"`
	WebhookCallbackURL string `json:"webhook_callback_url"`
	WebhookSecret      string `json:"webhook_secret"`
	IsActive           *bool  `json:"is_active"`
}

// UpdateApplication updates an existing application
func UpdateApplication(c *gin.Context) {
	appID := c.Param("id")
	if appID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Application ID is required",
		})
		return
	}

	var req UpdateApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Invalid request format: " + err.Error(),
		})
		return
	}

	// Build update map
	updates := make(map[string]interface{})
	if req.AppName != "" {
		updates["app_name"] = req.AppName
	}
	if req.PackageName != "" {
		updates["package_name"] = req.PackageName
	}
	if req.Description != "" {
		updates["description"] = req.Description
	}
	if req.ContactEmail != "" {
		updates["contact_email"] = req.ContactEmail
	}
	if req.WebhookCallbackURL != "" {
		updates["webhook_callback_url"] = req.WebhookCallbackURL
	}
	if req.WebhookSecret != "" {
		updates["webhook_secret"] = req.WebhookSecret
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}

	if err := deps.Apps.UpdateApplication(appID, updates); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Failed to update application: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Application updated successfully",
	})
}

// DeleteApplication deletes an application
func DeleteApplication(c *gin.Context) {
	appID := c.Param("id")
	if appID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Application ID is required",
		})
		return
	}

	if err := deps.Apps.DeleteApplication(appID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Failed to delete application: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Application deleted successfully",
	})
}
