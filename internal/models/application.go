package models

// Application identifies one client app served by this instance. The package
// name is the verification context: requests whose package does not match a
// registered application fail fast and never reach the platform.
type Application struct {
	BaseModel
	AppID        string `json:"app_id" gorm:"uniqueIndex;not null"`
	AppName      string `json:"app_name" gorm:"not null"`
	APIKey       string `json:"api_key" gorm:"uniqueIndex;not null"`
	PackageName  string `json:"package_name" gorm:"uniqueIndex;not null"`
	IsActive     bool   `json:"is_active" gorm:"default:true"`
	Description  string `json:"description"`
	ContactEmail string `json:"contact_email"`

	// Webhook configuration for notifying the app backend of state changes
	WebhookCallbackURL string `json:"webhook_callback_url" gorm:"type:varchar(500)"`
	WebhookSecret      string `json:"webhook_secret" gorm:"type:varchar(255)"`
}
