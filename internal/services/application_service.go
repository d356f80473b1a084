package services

import (
	"fmt"

	"entitlement-api/internal/database"
	"entitlement-api/internal/models"

	"gorm.io/gorm"
)

// ApplicationService provides application registry operations
type ApplicationService struct {
	db *gorm.DB
}

// NewApplicationService creates a new application service
func NewApplicationService() *ApplicationService {
	return &ApplicationService{
		db: database.GetDB(),
	}
}

// NewApplicationServiceWithDB creates an application service on a specific
// connection.
func NewApplicationServiceWithDB(db *gorm.DB) *ApplicationService {
	return &ApplicationService{db: db}
}

// GetByAppID gets an application by ID
func (s *ApplicationService) GetByAppID(appID string) (*models.Application, error) {
	var app models.Application
	result := s.db.Where("app_id = ? AND is_active = ?", appID, true).First(&app)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("application not found")
		}
		return nil, result.Error
	}
	return &app, nil
}

// GetByPackageName gets an application by its package name
func (s *ApplicationService) GetByPackageName(packageName string) (*models.Application, error) {
	var app models.Application
	result := s.db.Where("package_name = ? AND is_active = ?", packageName, true).First(&app)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("application not found")
		}
		return nil, result.Error
	}
	return &app, nil
}

// ValidateApplication validates application ID and API key
func (s *ApplicationService) ValidateApplication(appID, apiKey string) bool {
	app, err := s.GetByAppID(appID)
	if err != nil {
		return false
	}
	return app.APIKey == apiKey && app.IsActive
}

// GetAllApplications gets all active applications
func (s *ApplicationService) GetAllApplications() ([]*models.Application, error) {
	var apps []*models.Application
	result := s.db.Where("is_active = ?", true).Find(&apps)
	if result.Error != nil {
		return nil, result.Error
	}
	return apps, nil
}

// CreateApplication creates a new application
func (s *ApplicationService) CreateApplication(app *models.Application) error {
	// Check if application ID already exists
	var existing models.Application
	result := s.db.Where("app_id = ?", app.AppID).First(&existing)
	if result.Error == nil {
		return fmt.Errorf("application with ID %s already exists", app.AppID)
	}

	// Check if package name already exists
	result = s.db.Where("package_name = ?", app.PackageName).First(&existing)
	if result.Error == nil {
		return fmt.Errorf("application with package name %s already exists", app.PackageName)
	}

	// Create application
	if err := s.db.Create(app).Error; err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return nil
}

// UpdateApplication updates an existing application
func (s *ApplicationService) UpdateApplication(appID string, updates map[string]interface{}) error {
	result := s.db.Model(&models.Application{}).Where("app_id = ?", appID).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update application: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("application not found")
	}
	return nil
}

// DeleteApplication soft deletes an application
func (s *ApplicationService) DeleteApplication(appID string) error {
	result := s.db.Where("app_id = ?", appID).Delete(&models.Application{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete application: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("application not found")
	}
	return nil
}
