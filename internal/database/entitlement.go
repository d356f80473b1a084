package database

import (
	"errors"
	"time"

	"entitlement-api/internal/models"

	"gorm.io/gorm"
)

var (
	// ErrRecordNotFound is returned when no purchase record matches a query.
	ErrRecordNotFound = errors.New("purchase record not found")
	// ErrCASConflict is returned when a concurrent writer advanced
	// last_event_time past the predicated value.
	ErrCASConflict = errors.New("purchase record changed concurrently")
	// ErrDuplicateSignal is returned when the idempotency ledger already
	// holds the (source, signal_id) pair.
	ErrDuplicateSignal = errors.New("signal already processed")
)

// EntitlementStore is the durable purchase record table plus the idempotency
// ledger. Mutation goes through Create and UpdateCAS only; everything else is
// read-only.
type EntitlementStore struct {
	db *gorm.DB
}

// NewEntitlementStore creates an entitlement store on the global connection.
func NewEntitlementStore() *EntitlementStore {
	return &EntitlementStore{db: GetDB()}
}

// NewEntitlementStoreWithDB creates an entitlement store on a specific
// connection.
func NewEntitlementStoreWithDB(db *gorm.DB) *EntitlementStore {
	return &EntitlementStore{db: db}
}

// GetByLineage returns the record for a lineage id.
func (s *EntitlementStore) GetByLineage(lineageID string) (*models.PurchaseRecord, error) {
	var record models.PurchaseRecord
	err := s.db.Where("lineage_id = ?", lineageID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &record, nil
}

// GetByToken returns the record whose current or previous (linked) token
// matches. Matching the linked token lets signals for a superseded token
// still find their lineage.
func (s *EntitlementStore) GetByToken(token string) (*models.PurchaseRecord, error) {
	var record models.PurchaseRecord
	err := s.db.Where("current_token = ? OR linked_token = ?", token, token).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &record, nil
}

// GetByUser returns all records of a user within an application, newest
// first. Terminal records are included; they are retained for audit.
func (s *EntitlementStore) GetByUser(appID, userID string) ([]models.PurchaseRecord, error) {
	var records []models.PurchaseRecord
	err := s.db.Where("app_id = ? AND user_id = ?", appID, userID).
		Order("created_at DESC").Find(&records).Error
	return records, err
}

// GetEntitledByUser returns the user's record that currently grants access,
// or ErrRecordNotFound.
func (s *EntitlementStore) GetEntitledByUser(appID, userID string) (*models.PurchaseRecord, error) {
	var record models.PurchaseRecord
	err := s.db.Where(
		"app_id = ? AND user_id = ? AND state IN ? AND (expiry_time IS NULL OR expiry_time > ?)",
		appID, userID,
		[]models.PurchaseState{models.StateActive, models.StateGracePeriod, models.StateCanceled},
		time.Now(),
	).Order("expiry_time DESC").First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &record, nil
}

// GetUnacknowledged returns active records whose platform acknowledgment has
// not completed yet. Used to resume acknowledgment work after a restart.
func (s *EntitlementStore) GetUnacknowledged(limit int) ([]models.PurchaseRecord, error) {
	var records []models.PurchaseRecord
	err := s.db.Where("acknowledged = ? AND state = ?", false, models.StateActive).
		Limit(limit).Find(&records).Error
	return records, err
}

// SeenSignal reports whether the ledger already holds the signal.
func (s *EntitlementStore) SeenSignal(source models.SignalSource, signalID string) (bool, error) {
	var count int64
	err := s.db.Model(&models.ProcessedSignal{}).
		Where("source = ? AND signal_id = ?", string(source), signalID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Create inserts a new purchase record and its ledger row in one
// transaction. A concurrent insert of the same signal surfaces as
// ErrDuplicateSignal.
func (s *EntitlementStore) Create(record *models.PurchaseRecord, source models.SignalSource, signalID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(record).Error; err != nil {
			return err
		}
		return insertLedgerRow(tx, source, signalID, record.LineageID, models.OutcomeApplied)
	})
}

// UpdateCAS writes a purchase record predicated on the event time it was
// derived from. If a concurrent writer already advanced last_event_time the
// write is rejected with ErrCASConflict and the caller re-derives from the
// now-current record. The ledger row shares the transaction so a duplicate
// delivery can never double-apply.
func (s *EntitlementStore) UpdateCAS(record *models.PurchaseRecord, predicatedEventTime time.Time, source models.SignalSource, signalID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.PurchaseRecord{}).
			Where("lineage_id = ? AND last_event_time = ?", record.LineageID, predicatedEventTime).
			Updates(map[string]interface{}{
				"user_id":         record.UserID,
				"app_id":          record.AppID,
				"product_id":      record.ProductID,
				"purchase_kind":   record.PurchaseKind,
				"current_token":   record.CurrentToken,
				"linked_token":    record.LinkedToken,
				"state":           record.State,
				"expiry_time":     record.ExpiryTime,
				"auto_renewing":   record.AutoRenewing,
				"last_event_time": record.LastEventTime,
				"acknowledged":    record.Acknowledged,
				"order_id":        record.OrderID,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrCASConflict
		}
		return insertLedgerRow(tx, source, signalID, record.LineageID, models.OutcomeApplied)
	})
}

// RecordOutcome writes a ledger-only entry for signals that were consumed
// without mutating state (stale, noop, anomaly). Duplicate entries are
// silently ignored; the first outcome stands.
func (s *EntitlementStore) RecordOutcome(source models.SignalSource, signalID, lineageID, outcome string) error {
	err := insertLedgerRow(s.db, source, signalID, lineageID, outcome)
	if errors.Is(err, ErrDuplicateSignal) {
		return nil
	}
	return err
}

// SetAcknowledged marks a record's platform acknowledgment as complete.
func (s *EntitlementStore) SetAcknowledged(lineageID string, attempts int) error {
	result := s.db.Model(&models.PurchaseRecord{}).
		Where("lineage_id = ?", lineageID).
		Updates(map[string]interface{}{
			"acknowledged": true,
			"ack_attempts": attempts,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// SetAckAttempts records how many acknowledgment attempts have been made.
func (s *EntitlementStore) SetAckAttempts(lineageID string, attempts int) error {
	return s.db.Model(&models.PurchaseRecord{}).
		Where("lineage_id = ?", lineageID).
		Update("ack_attempts", attempts).Error
}

// PruneLedger deletes ledger rows older than the cutoff. Entries only need
// to outlive the transport's maximum redelivery window.
func (s *EntitlementStore) PruneLedger(olderThan time.Time) (int64, error) {
	result := s.db.Where("processed_at < ?", olderThan).
		Delete(&models.ProcessedSignal{})
	return result.RowsAffected, result.Error
}

func insertLedgerRow(tx *gorm.DB, source models.SignalSource, signalID, lineageID, outcome string) error {
	row := models.ProcessedSignal{
		Source:    string(source),
		SignalID:  signalID,
		LineageID: lineageID,
		Outcome:   outcome,
	}
	if err := tx.Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateSignal
		}
		return err
	}
	return nil
}
