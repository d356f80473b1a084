package models

import (
	"time"
)

// PurchaseState is the entitlement state of a purchase lineage.
type PurchaseState string

const (
	StatePending     PurchaseState = "pending"
	StateActive      PurchaseState = "active"
	StateGracePeriod PurchaseState = "grace_period"
	StateOnHold      PurchaseState = "on_hold"
	StatePaused      PurchaseState = "paused"
	StateCanceled    PurchaseState = "canceled"
	StateRevoked     PurchaseState = "revoked"
	StateExpired     PurchaseState = "expired"
)

// Terminal reports whether the state is final for the current token.
// The lineage itself may still reopen under a new token.
func (s PurchaseState) Terminal() bool {
	return s == StateRevoked || s == StateExpired
}

// PurchaseRecord is the authoritative entitlement record, one per purchase
// token lineage. A renewal reuses the same lineage under a rotated token.
// Records are never deleted; terminal states are retained for audit and to
// reject replays of old tokens.
type PurchaseRecord struct {
	BaseModel

	LineageID   string `json:"lineage_id" gorm:"size:36;uniqueIndex;not null"`
	UserID      string `json:"user_id" gorm:"size:100;index"`
	AppID       string `json:"app_id" gorm:"size:100;not null;index"`
	PackageName string `json:"package_name" gorm:"size:100;index"`

	ProductID    string       `json:"product_id" gorm:"size:100"`
	PurchaseKind PurchaseKind `json:"purchase_kind" gorm:"size:20"`
	CurrentToken string       `json:"current_token" gorm:"size:512;uniqueIndex;not null"`
	LinkedToken  string       `json:"linked_token" gorm:"size:512;index"` // previous token after rotation

	State        PurchaseState `json:"state" gorm:"size:20;not null;index"`
	ExpiryTime   *time.Time    `json:"expiry_time" gorm:"index"` // nil for non-expiring purchases
	AutoRenewing bool          `json:"auto_renewing"`

	// LastEventTime is the event time of the most recent signal that changed
	// this record. Signals strictly older than it never mutate state.
	LastEventTime time.Time `json:"last_event_time" gorm:"not null;index"`

	Acknowledged bool   `json:"acknowledged"`
	AckAttempts  int    `json:"ack_attempts"`
	OrderID      string `json:"order_id" gorm:"size:100"`
}

// TableName sets the table name
func (PurchaseRecord) TableName() string {
	return "purchase_records"
}

// Entitled reports whether the record currently grants access. Grace period
// and canceled-but-not-yet-expired purchases retain access; on hold, paused
// and terminal states do not.
func (r *PurchaseRecord) Entitled(now time.Time) bool {
	switch r.State {
	case StateActive, StateGracePeriod, StateCanceled:
	default:
		return false
	}
	if r.ExpiryTime == nil {
		return true
	}
	return r.ExpiryTime.After(now)
}

// Lapsed reports whether the record sits in a non-terminal state whose
// expiry time already passed.
func (r *PurchaseRecord) Lapsed(now time.Time) bool {
	if r.State.Terminal() || r.ExpiryTime == nil {
		return false
	}
	return !r.ExpiryTime.After(now)
}
