package services

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"entitlement-api/internal/models"
	"entitlement-api/pkg/logging"
)

// AppResolver looks up the application an event belongs to.
type AppResolver interface {
	GetByAppID(appID string) (*models.Application, error)
}

// Dispatcher fans committed state transitions out to the application
// backend's webhook. Strictly best effort: entitlement truth lives in the
// store and a delivery failure never rolls back or blocks a commit.
type Dispatcher struct {
	apps       AppResolver
	httpClient *http.Client
	retryDelay []time.Duration
}

// NewDispatcher creates a transition dispatcher.
func NewDispatcher(apps AppResolver) *Dispatcher {
	return &Dispatcher{
		apps:       apps,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retryDelay: []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second},
	}
}

// TransitionPayload is the webhook body sent to the application backend.
type TransitionPayload struct {
	Event        string `json:"event"` // "entitlement.updated"
	LineageID    string `json:"lineage_id"`
	UserID       string `json:"user_id,omitempty"`
	ProductID    string `json:"product_id"`
	FromState    string `json:"from_state,omitempty"`
	State        string `json:"state"`
	EventKind    string `json:"event_kind"`
	ExpiryDate   string `json:"expiry_date,omitempty"`
	AutoRenewing bool   `json:"auto_renewing"`
	Timestamp    string `json:"timestamp"`
}

// DispatchTransition delivers a state transition asynchronously. Implements
// the reconciler's TransitionDispatcher.
func (d *Dispatcher) DispatchTransition(record *models.PurchaseRecord, from models.PurchaseState, kind models.EventKind) {
	if record.AppID == "" {
		return
	}

	app, err := d.apps.GetByAppID(record.AppID)
	if err != nil {
		logging.Warnf("No application %s for lineage %s, transition not dispatched", record.AppID, record.LineageID)
		return
	}
	if app.WebhookCallbackURL == "" {
		// No webhook configured, skip
		return
	}

	payload := TransitionPayload{
		Event:        "entitlement.updated",
		LineageID:    record.LineageID,
		UserID:       record.UserID,
		ProductID:    record.ProductID,
		FromState:    string(from),
		State:        string(record.State),
		EventKind:    kind.String(),
		AutoRenewing: record.AutoRenewing,
		Timestamp:    time.Now().Format(time.RFC3339),
	}
	if record.ExpiryTime != nil {
		payload.ExpiryDate = record.ExpiryTime.Format(time.RFC3339)
	}

	go d.sendWithRetry(app.WebhookCallbackURL, app.WebhookSecret, payload)
}

// sendWithRetry sends the webhook with a fixed retry schedule.
func (d *Dispatcher) sendWithRetry(callbackURL, secret string, payload TransitionPayload) {
	for attempt := 0; attempt < len(d.retryDelay); attempt++ {
		err := d.send(callbackURL, secret, payload)
		if err == nil {
			logging.Infof("Transition dispatched - url: %s, lineage: %s, state: %s, attempt: %d",
				callbackURL, payload.LineageID, payload.State, attempt+1)
			return
		}

		logging.Errorf("Transition dispatch failed - url: %s, lineage: %s, attempt: %d, error: %v",
			callbackURL, payload.LineageID, attempt+1, err)

		if attempt < len(d.retryDelay)-1 {
			time.Sleep(d.retryDelay[attempt])
		}
	}

	logging.Errorf("Transition dispatch gave up after %d attempts - url: %s, lineage: %s",
		len(d.retryDelay), callbackURL, payload.LineageID)
}

// send performs a single webhook request.
func (d *Dispatcher) send(callbackURL, secret string, payload TransitionPayload) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequest("POST", callbackURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Entitlement-Webhook/1.0")

	if secret != "" {
		req.Header.Set("X-Entitlement-Signature", signPayload(jsonData, secret))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

// signPayload generates the HMAC-SHA256 signature of a webhook body.
func signPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
