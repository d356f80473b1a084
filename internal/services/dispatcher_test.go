package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"entitlement-api/internal/database"
	"entitlement-api/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAppResolver struct {
	app *models.Application
}

func (f *fakeAppResolver) GetByAppID(appID string) (*models.Application, error) {
	if f.app == nil || f.app.AppID != appID {
		return nil, database.ErrRecordNotFound
	}
	return f.app, nil
}

type delivery struct {
	body      []byte
	signature string
	userAgent string
}

func TestDispatchTransitionDeliversSignedWebhook(t *testing.T) {
	received := make(chan delivery, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- delivery{
			body:      body,
			signature: r.Header.Get("X-Entitlement-Signature"),
			userAgent: r.Header.Get("User-Agent"),
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	resolver := &fakeAppResolver{app: &models.Application{
		AppID:              "app-001",
		WebhookCallbackURL: server.URL,
		WebhookSecret:      "topsecret",
	}}
	d := NewDispatcher(resolver)
	d.retryDelay = []time.Duration{time.Millisecond}

	expiry := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	d.DispatchTransition(&models.PurchaseRecord{
		LineageID:    "lineage-1",
		AppID:        "app-001",
		UserID:       "user-1",
		ProductID:    "premium_monthly",
		State:        models.StateCanceled,
		ExpiryTime:   &expiry,
		AutoRenewing: false,
	}, models.StateActive, models.KindCanceled)

	select {
	case got := <-received:
		var payload TransitionPayload
		require.NoError(t, json.Unmarshal(got.body, &payload))
		assert.Equal(t, "entitlement.updated", payload.Event)
		assert.Equal(t, "lineage-1", payload.LineageID)
		assert.Equal(t, "active", payload.FromState)
		assert.Equal(t, "canceled", payload.State)
		assert.Equal(t, "SUBSCRIPTION_CANCELED", payload.EventKind)
		assert.Equal(t, expiry.Format(time.RFC3339), payload.ExpiryDate)

		mac := hmac.New(sha256.New, []byte("topsecret"))
		mac.Write(got.body)
		assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), got.signature)
		assert.Equal(t, "Entitlement-Webhook/1.0", got.userAgent)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not delivered")
	}
}

func TestDispatchTransitionRetriesThenSucceeds(t *testing.T) {
	attempts := 0
	done := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
		close(done)
	}))
	defer server.Close()

	resolver := &fakeAppResolver{app: &models.Application{
		AppID:              "app-001",
		WebhookCallbackURL: server.URL,
	}}
	d := NewDispatcher(resolver)
	d.retryDelay = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}

	d.DispatchTransition(&models.PurchaseRecord{
		LineageID: "lineage-1",
		AppID:     "app-001",
		State:     models.StateActive,
	}, models.StatePending, models.KindPurchased)

	select {
	case <-done:
		assert.Equal(t, 3, attempts)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook retries never succeeded")
	}
}

func TestDispatchTransitionSkipsUnconfiguredApp(t *testing.T) {
	d := NewDispatcher(&fakeAppResolver{app: &models.Application{AppID: "app-001"}})

	// No webhook URL configured and no application at all: both are silent
	// no-ops, never panics.
	d.DispatchTransition(&models.PurchaseRecord{LineageID: "l-1", AppID: "app-001", State: models.StateActive}, "", models.KindPurchased)
	d.DispatchTransition(&models.PurchaseRecord{LineageID: "l-2", AppID: "app-other", State: models.StateActive}, "", models.KindPurchased)
	d.DispatchTransition(&models.PurchaseRecord{LineageID: "l-3", State: models.StateActive}, "", models.KindPurchased)
}
