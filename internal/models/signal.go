package models

import (
	"time"
)

// SignalSource identifies which path produced a signal.
type SignalSource string

const (
	SourceVerification SignalSource = "verification"
	SourceNotification SignalSource = "notification"
)

// EventKind is a lifecycle event kind. Values 1-13 match the platform's
// real-time notification type codes.
type EventKind int

const (
	KindUnknown              EventKind = 0
	KindRecovered            EventKind = 1
	KindRenewed              EventKind = 2
	KindCanceled             EventKind = 3
	KindPurchased            EventKind = 4
	KindOnHold               EventKind = 5
	KindGracePeriod          EventKind = 6
	KindRestarted            EventKind = 7
	KindPriceChangeConfirmed EventKind = 8
	KindDeferred             EventKind = 9
	KindPaused               EventKind = 10
	KindPauseScheduleChanged EventKind = 11
	KindRevoked              EventKind = 12
	KindExpired              EventKind = 13
)

var eventKindNames = map[EventKind]string{
	KindUnknown:              "UNKNOWN",
	KindRecovered:            "SUBSCRIPTION_RECOVERED",
	KindRenewed:              "SUBSCRIPTION_RENEWED",
	KindCanceled:             "SUBSCRIPTION_CANCELED",
	KindPurchased:            "SUBSCRIPTION_PURCHASED",
	KindOnHold:               "SUBSCRIPTION_ON_HOLD",
	KindGracePeriod:          "SUBSCRIPTION_IN_GRACE_PERIOD",
	KindRestarted:            "SUBSCRIPTION_RESTARTED",
	KindPriceChangeConfirmed: "SUBSCRIPTION_PRICE_CHANGE_CONFIRMED",
	KindDeferred:             "SUBSCRIPTION_DEFERRED",
	KindPaused:               "SUBSCRIPTION_PAUSED",
	KindPauseScheduleChanged: "SUBSCRIPTION_PAUSE_SCHEDULE_CHANGED",
	KindRevoked:              "SUBSCRIPTION_REVOKED",
	KindExpired:              "SUBSCRIPTION_EXPIRED",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return "UNKNOWN"
}

// KindFromNotificationType maps a platform notification type code to an
// event kind. Unrecognized codes map to KindUnknown so new platform event
// types flow through as logged no-ops instead of vanishing.
func KindFromNotificationType(t int) EventKind {
	if t >= int(KindRecovered) && t <= int(KindExpired) {
		return EventKind(t)
	}
	return KindUnknown
}

// PaymentState is the settlement state the verification authority reports.
type PaymentState int

const (
	PaymentPending   PaymentState = 0
	PaymentReceived  PaymentState = 1
	PaymentFreeTrial PaymentState = 2
	PaymentDeferred  PaymentState = 3
)

// PurchaseKind distinguishes recurring subscriptions from one-time purchases.
type PurchaseKind string

const (
	PurchaseSubscription PurchaseKind = "subscription"
	PurchaseOneTime      PurchaseKind = "one-time"
)

// Signal is a normalized unit of truth about a purchase, produced either by
// a synchronous verification call or an asynchronous lifecycle notification.
// Signals are the only input of the reconciler.
type Signal struct {
	Source   SignalSource
	SignalID string // notification message id or verification nonce
	Kind     EventKind

	AppID       string // resolved application, may be empty for notifications
	PackageName string
	ProductID   string
	Token       string // purchase token identifying the lineage
	LinkedToken string // previous token in the lineage, set on rotation

	EventTime    time.Time
	ExpiryTime   *time.Time
	AutoRenewing *bool // nil when the source does not report it
	PaymentState *PaymentState
	PurchaseKind PurchaseKind
	OrderID      string
	UserID       string
}

// PaymentSettled reports whether the signal carries proof of payment
// (received or free trial). A record never reaches active without it.
func (s *Signal) PaymentSettled() bool {
	if s.PaymentState == nil {
		return false
	}
	return *s.PaymentState == PaymentReceived || *s.PaymentState == PaymentFreeTrial
}
