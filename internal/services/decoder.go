package services

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"entitlement-api/internal/models"
	"entitlement-api/pkg/logging"
)

var (
	// ErrMalformedEnvelope means the push envelope is structurally invalid.
	// Permanent: redelivery of the same bytes cannot succeed.
	ErrMalformedEnvelope = errors.New("malformed push envelope")
	// ErrTestNotification identifies the platform's connectivity test
	// message. Acknowledged, never reconciled.
	ErrTestNotification = errors.New("test notification")
)

// PushEnvelope is the transport envelope of an asynchronous lifecycle
// notification as delivered by the push subscription.
type PushEnvelope struct {
	Message struct {
		Data        string            `json:"data"` // base64 of the JSON-encoded notification
		MessageID   string            `json:"messageId"`
		PublishTime time.Time         `json:"publishTime"`
		Attributes  map[string]string `json:"attributes,omitempty"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// developerNotification is the decoded payload inside the envelope.
type developerNotification struct {
	Version                  string `json:"version"`
	PackageName              string `json:"packageName"`
	EventTimeMillis          string `json:"eventTimeMillis"`
	SubscriptionNotification *struct {
		Version          string `json:"version"`
		NotificationType int    `json:"notificationType"`
		PurchaseToken    string `json:"purchaseToken"`
		SubscriptionID   string `json:"subscriptionId"`
		// Present on deferrals only: the pushed-out expiry.
		ExpiryTimeMillis string `json:"expiryTimeMillis,omitempty"`
	} `json:"subscriptionNotification,omitempty"`
	OneTimeProductNotification *struct {
		Version          string `json:"version"`
		NotificationType int    `json:"notificationType"`
		PurchaseToken    string `json:"purchaseToken"`
		Sku              string `json:"sku"`
	} `json:"oneTimeProductNotification,omitempty"`
	TestNotification *struct {
		Version string `json:"version"`
	} `json:"testNotification,omitempty"`
}

// NotificationDecoder turns transport envelopes into typed lifecycle
// signals. Authenticity of the delivery is checked separately by the push
// authenticator before a body reaches Decode.
type NotificationDecoder struct{}

// NewNotificationDecoder creates a notification decoder.
func NewNotificationDecoder() *NotificationDecoder {
	return &NotificationDecoder{}
}

// Decode validates the envelope and decodes the nested payload into a
// signal. Unrecognized notification type codes decode to an unknown-kind
// signal so they reach the reconciler as logged no-ops instead of being
// dropped silently.
func (d *NotificationDecoder) Decode(body []byte) (*models.Signal, error) {
	var envelope PushEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if envelope.Message.MessageID == "" {
		return nil, fmt.Errorf("%w: missing messageId", ErrMalformedEnvelope)
	}
	if envelope.Message.Data == "" {
		return nil, fmt.Errorf("%w: missing message data", ErrMalformedEnvelope)
	}

	payload, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: data is not valid base64: %v", ErrMalformedEnvelope, err)
	}

	var notification developerNotification
	if err := json.Unmarshal(payload, &notification); err != nil {
		return nil, fmt.Errorf("%w: payload is not valid JSON: %v", ErrMalformedEnvelope, err)
	}

	if notification.TestNotification != nil {
		return nil, ErrTestNotification
	}

	eventTime, err := parseMillis(notification.EventTimeMillis)
	if err != nil {
		return nil, fmt.Errorf("%w: bad eventTimeMillis %q", ErrMalformedEnvelope, notification.EventTimeMillis)
	}

	switch {
	case notification.SubscriptionNotification != nil:
		return d.decodeSubscription(&envelope, &notification, eventTime)
	case notification.OneTimeProductNotification != nil:
		return d.decodeOneTime(&envelope, &notification, eventTime)
	}
	return nil, fmt.Errorf("%w: no notification payload", ErrMalformedEnvelope)
}

func (d *NotificationDecoder) decodeSubscription(envelope *PushEnvelope, notification *developerNotification, eventTime time.Time) (*models.Signal, error) {
	sub := notification.SubscriptionNotification
	if sub.PurchaseToken == "" {
		return nil, fmt.Errorf("%w: missing purchaseToken", ErrMalformedEnvelope)
	}

	kind := models.KindFromNotificationType(sub.NotificationType)
	if kind == models.KindUnknown {
		logging.Warnf("Unknown subscription notification type %d, message %s, forwarding as no-op",
			sub.NotificationType, envelope.Message.MessageID)
	}

	sig := &models.Signal{
		Source:       models.SourceNotification,
		SignalID:     envelope.Message.MessageID,
		Kind:         kind,
		PackageName:  notification.PackageName,
		ProductID:    sub.SubscriptionID,
		Token:        sub.PurchaseToken,
		EventTime:    eventTime,
		PurchaseKind: models.PurchaseSubscription,
	}

	// The platform only emits these after a successful charge.
	switch kind {
	case models.KindRenewed, models.KindRecovered, models.KindRestarted:
		ps := models.PaymentReceived
		sig.PaymentState = &ps
		autoRenew := true
		sig.AutoRenewing = &autoRenew
	case models.KindCanceled:
		autoRenew := false
		sig.AutoRenewing = &autoRenew
	}

	if kind == models.KindDeferred && sub.ExpiryTimeMillis != "" {
		if deferred, err := parseMillis(sub.ExpiryTimeMillis); err == nil {
			sig.ExpiryTime = &deferred
		}
	}

	return sig, nil
}

func (d *NotificationDecoder) decodeOneTime(envelope *PushEnvelope, notification *developerNotification, eventTime time.Time) (*models.Signal, error) {
	oneTime := notification.OneTimeProductNotification
	if oneTime.PurchaseToken == "" {
		return nil, fmt.Errorf("%w: missing purchaseToken", ErrMalformedEnvelope)
	}

	// 1 = purchased, 2 = canceled
	kind := models.KindUnknown
	switch oneTime.NotificationType {
	case 1:
		kind = models.KindPurchased
	case 2:
		kind = models.KindRevoked
	default:
		logging.Warnf("Unknown one-time notification type %d, message %s, forwarding as no-op",
			oneTime.NotificationType, envelope.Message.MessageID)
	}

	return &models.Signal{
		Source:       models.SourceNotification,
		SignalID:     envelope.Message.MessageID,
		Kind:         kind,
		PackageName:  notification.PackageName,
		ProductID:    oneTime.Sku,
		Token:        oneTime.PurchaseToken,
		EventTime:    eventTime,
		PurchaseKind: models.PurchaseOneTime,
	}, nil
}

func parseMillis(millis string) (time.Time, error) {
	if millis == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	value, err := strconv.ParseInt(millis, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(value), nil
}
