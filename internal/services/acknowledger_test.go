package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"entitlement-api/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAckClient struct {
	mu           sync.Mutex
	failures     int // fail this many calls before succeeding
	calls        int
	productCalls int
}

func (f *fakeAckClient) AcknowledgeSubscription(ctx context.Context, packageName, productID, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errors.New("acknowledgment backend unavailable")
	}
	return nil
}

func (f *fakeAckClient) AcknowledgeProduct(ctx context.Context, packageName, productID, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.productCalls++
	f.calls++
	if f.calls <= f.failures {
		return errors.New("acknowledgment backend unavailable")
	}
	return nil
}

type fakeAckStore struct {
	mu           sync.Mutex
	acknowledged map[string]int
	attempts     map[string]int
}

func newFakeAckStore() *fakeAckStore {
	return &fakeAckStore{
		acknowledged: make(map[string]int),
		attempts:     make(map[string]int),
	}
}

func (f *fakeAckStore) SetAcknowledged(lineageID string, attempts int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acknowledged[lineageID] = attempts
	return nil
}

func (f *fakeAckStore) SetAckAttempts(lineageID string, attempts int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[lineageID] = attempts
	return nil
}

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []string
}

func (f *fakeAlerter) AckOverdue(lineageID, productID string, attempts int, lastErr error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, lineageID)
}

func testAckJob() AckJob {
	return AckJob{
		LineageID:    "lineage-1",
		PackageName:  "com.example.app",
		ProductID:    "premium_monthly",
		Token:        "tok-1",
		PurchaseKind: models.PurchaseSubscription,
		Deadline:     time.Now().Add(time.Hour),
	}
}

func newTestAcknowledger(client *fakeAckClient, store *fakeAckStore, alerter *fakeAlerter) *Acknowledger {
	a := NewAcknowledger(client, store, alerter, 5, 72*time.Hour)
	a.baseDelay = time.Millisecond
	return a
}

func TestAckSucceedsAfterTransientFailures(t *testing.T) {
	client := &fakeAckClient{failures: 3}
	store := newFakeAckStore()
	alerter := &fakeAlerter{}
	a := newTestAcknowledger(client, store, alerter)

	a.process(testAckJob())

	assert.Equal(t, 4, store.acknowledged["lineage-1"])
	assert.Empty(t, alerter.alerts)
	assert.Equal(t, 4, client.calls)
}

func TestAckExhaustedAttemptsRaisesAlert(t *testing.T) {
	client := &fakeAckClient{failures: 100}
	store := newFakeAckStore()
	alerter := &fakeAlerter{}
	a := newTestAcknowledger(client, store, alerter)

	a.process(testAckJob())

	assert.NotContains(t, store.acknowledged, "lineage-1")
	assert.Equal(t, 5, store.attempts["lineage-1"])
	assert.Equal(t, []string{"lineage-1"}, alerter.alerts)
	assert.Equal(t, 5, client.calls)
}

func TestAckPastDeadlineGoesStraightToAlert(t *testing.T) {
	client := &fakeAckClient{}
	store := newFakeAckStore()
	alerter := &fakeAlerter{}
	a := newTestAcknowledger(client, store, alerter)

	job := testAckJob()
	job.Deadline = time.Now().Add(-time.Minute)
	a.process(job)

	assert.Equal(t, 0, client.calls, "no call once the deadline passed")
	assert.Equal(t, []string{"lineage-1"}, alerter.alerts)
}

func TestAckOneTimeProductUsesProductEndpoint(t *testing.T) {
	client := &fakeAckClient{}
	store := newFakeAckStore()
	a := newTestAcknowledger(client, store, nil)

	job := testAckJob()
	job.PurchaseKind = models.PurchaseOneTime
	a.process(job)

	assert.Equal(t, 1, client.productCalls)
	assert.Contains(t, store.acknowledged, "lineage-1")
}

func TestAckDeadlineFollowsLatestEvent(t *testing.T) {
	client := &fakeAckClient{}
	store := newFakeAckStore()
	alerter := &fakeAlerter{}
	a := newTestAcknowledger(client, store, alerter)
	a.Start()

	// A token rotation on an old lineage: the lineage was created long
	// before the acknowledgment window, the rotation event is fresh.
	record := &models.PurchaseRecord{
		LineageID:     "lineage-rot",
		PackageName:   "com.example.app",
		ProductID:     "premium_monthly",
		CurrentToken:  "tok-new",
		State:         models.StateActive,
		PurchaseKind:  models.PurchaseSubscription,
		LastEventTime: time.Now(),
	}
	record.CreatedAt = time.Now().Add(-10 * 24 * time.Hour)
	a.ScheduleAck(record)
	a.Stop()

	require.Contains(t, store.acknowledged, "lineage-rot")
	assert.Equal(t, 1, client.calls, "the rotated token gets a real acknowledgment attempt")
	assert.Empty(t, alerter.alerts)
}

func TestAckLifetimeSubscriptionUsesSubscriptionEndpoint(t *testing.T) {
	client := &fakeAckClient{}
	store := newFakeAckStore()
	a := newTestAcknowledger(client, store, &fakeAlerter{})
	a.Start()

	// Non-expiring subscription: no expiry time, but still a subscription.
	a.ScheduleAck(&models.PurchaseRecord{
		LineageID:     "lineage-life",
		PackageName:   "com.example.app",
		ProductID:     "premium_lifetime",
		CurrentToken:  "tok-life",
		State:         models.StateActive,
		PurchaseKind:  models.PurchaseSubscription,
		LastEventTime: time.Now(),
	})
	a.Stop()

	require.Contains(t, store.acknowledged, "lineage-life")
	assert.Equal(t, 0, client.productCalls)
}

func TestScheduleAckThroughWorker(t *testing.T) {
	client := &fakeAckClient{}
	store := newFakeAckStore()
	a := newTestAcknowledger(client, store, &fakeAlerter{})
	a.Start()

	expiry := time.Now().Add(30 * 24 * time.Hour)
	a.ScheduleAck(&models.PurchaseRecord{
		LineageID:    "lineage-2",
		PackageName:  "com.example.app",
		ProductID:    "premium_monthly",
		CurrentToken: "tok-2",
		State:        models.StateActive,
		ExpiryTime:   &expiry,
	})
	a.Stop()

	require.Contains(t, store.acknowledged, "lineage-2")
	assert.Equal(t, 1, store.acknowledged["lineage-2"])
}
