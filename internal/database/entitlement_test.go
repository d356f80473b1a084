package database

import (
	"testing"
	"time"

	"entitlement-api/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func testStore(t *testing.T) *EntitlementStore {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
		TranslateError: true,
	})
	require.NoError(t, err)

	// A new pooled connection would see an empty in-memory database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.PurchaseRecord{}, &models.ProcessedSignal{}))
	return NewEntitlementStoreWithDB(db)
}

func seedRecord(t *testing.T, store *EntitlementStore, lineageID, token string, eventTime time.Time) *models.PurchaseRecord {
	expiry := eventTime.Add(30 * 24 * time.Hour)
	record := &models.PurchaseRecord{
		LineageID:     lineageID,
		UserID:        "user-1",
		AppID:         "app-001",
		PackageName:   "com.example.app",
		ProductID:     "premium_monthly",
		CurrentToken:  token,
		State:         models.StateActive,
		ExpiryTime:    &expiry,
		AutoRenewing:  true,
		LastEventTime: eventTime,
	}
	require.NoError(t, store.Create(record, models.SourceVerification, "seed-"+lineageID))
	return record
}

func TestCreateAndLookup(t *testing.T) {
	store := testStore(t)
	eventTime := time.Now().Truncate(time.Millisecond)
	seedRecord(t, store, "lineage-1", "tok-1", eventTime)

	byToken, err := store.GetByToken("tok-1")
	require.NoError(t, err)
	assert.Equal(t, "lineage-1", byToken.LineageID)

	byLineage, err := store.GetByLineage("lineage-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", byLineage.CurrentToken)

	_, err = store.GetByToken("tok-unknown")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestCreateWritesLedgerRow(t *testing.T) {
	store := testStore(t)
	seedRecord(t, store, "lineage-1", "tok-1", time.Now())

	seen, err := store.SeenSignal(models.SourceVerification, "seed-lineage-1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = store.SeenSignal(models.SourceNotification, "seed-lineage-1")
	require.NoError(t, err)
	assert.False(t, seen, "ledger key includes the source")
}

func TestCreateDuplicateSignalRollsBack(t *testing.T) {
	store := testStore(t)
	eventTime := time.Now()
	seedRecord(t, store, "lineage-1", "tok-1", eventTime)

	dup := &models.PurchaseRecord{
		LineageID:     "lineage-2",
		AppID:         "app-001",
		CurrentToken:  "tok-2",
		State:         models.StateActive,
		LastEventTime: eventTime,
	}
	err := store.Create(dup, models.SourceVerification, "seed-lineage-1")
	assert.ErrorIs(t, err, ErrDuplicateSignal)

	_, err = store.GetByLineage("lineage-2")
	assert.ErrorIs(t, err, ErrRecordNotFound, "ledger conflict rolls the record insert back")
}

func TestGetByTokenMatchesLinkedToken(t *testing.T) {
	store := testStore(t)
	eventTime := time.Now().Truncate(time.Millisecond)
	record := seedRecord(t, store, "lineage-1", "tok-new", eventTime)

	record.LinkedToken = "tok-old"
	require.NoError(t, store.UpdateCAS(record, eventTime, models.SourceNotification, "msg-rotate"))

	found, err := store.GetByToken("tok-old")
	require.NoError(t, err)
	assert.Equal(t, "lineage-1", found.LineageID)
}

func TestUpdateCASRejectsStalePredicate(t *testing.T) {
	store := testStore(t)
	eventTime := time.Now().Truncate(time.Millisecond)
	record := seedRecord(t, store, "lineage-1", "tok-1", eventTime)

	record.State = models.StateCanceled
	record.LastEventTime = eventTime.Add(time.Minute)
	require.NoError(t, store.UpdateCAS(record, eventTime, models.SourceNotification, "msg-1"))

	// A second write predicated on the original event time loses.
	record.State = models.StatePaused
	err := store.UpdateCAS(record, eventTime, models.SourceNotification, "msg-2")
	assert.ErrorIs(t, err, ErrCASConflict)

	current, err := store.GetByLineage("lineage-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateCanceled, current.State)
}

func TestUpdateCASDuplicateSignal(t *testing.T) {
	store := testStore(t)
	eventTime := time.Now().Truncate(time.Millisecond)
	record := seedRecord(t, store, "lineage-1", "tok-1", eventTime)

	record.State = models.StateCanceled
	record.LastEventTime = eventTime.Add(time.Minute)
	require.NoError(t, store.UpdateCAS(record, eventTime, models.SourceNotification, "msg-1"))

	record.State = models.StateRevoked
	record.LastEventTime = eventTime.Add(2 * time.Minute)
	err := store.UpdateCAS(record, eventTime.Add(time.Minute), models.SourceNotification, "msg-1")
	assert.ErrorIs(t, err, ErrDuplicateSignal)

	current, err := store.GetByLineage("lineage-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateCanceled, current.State, "duplicate ledger row rolls the write back")
}

func TestRecordOutcomeIsIdempotent(t *testing.T) {
	store := testStore(t)

	require.NoError(t, store.RecordOutcome(models.SourceNotification, "msg-1", "lineage-1", models.OutcomeStale))
	require.NoError(t, store.RecordOutcome(models.SourceNotification, "msg-1", "lineage-1", models.OutcomeStale))

	seen, err := store.SeenSignal(models.SourceNotification, "msg-1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestGetEntitledByUserPicksLatestExpiry(t *testing.T) {
	store := testStore(t)
	now := time.Now().Truncate(time.Millisecond)

	early := seedRecord(t, store, "lineage-1", "tok-1", now)
	shortExpiry := now.Add(24 * time.Hour)
	early.ExpiryTime = &shortExpiry
	early.State = models.StateCanceled
	require.NoError(t, store.UpdateCAS(early, now, models.SourceNotification, "msg-1"))

	seedRecord(t, store, "lineage-2", "tok-2", now)

	best, err := store.GetEntitledByUser("app-001", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "lineage-2", best.LineageID)

	_, err = store.GetEntitledByUser("app-001", "user-unknown")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestGetEntitledByUserExcludesLapsedAndTerminal(t *testing.T) {
	store := testStore(t)
	now := time.Now().Truncate(time.Millisecond)

	record := seedRecord(t, store, "lineage-1", "tok-1", now)
	past := now.Add(-time.Hour)
	record.ExpiryTime = &past
	record.State = models.StateExpired
	require.NoError(t, store.UpdateCAS(record, now, models.SourceNotification, "msg-1"))

	_, err := store.GetEntitledByUser("app-001", "user-1")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestAcknowledgmentBookkeeping(t *testing.T) {
	store := testStore(t)
	now := time.Now().Truncate(time.Millisecond)
	seedRecord(t, store, "lineage-1", "tok-1", now)

	pending, err := store.GetUnacknowledged(10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, store.SetAcknowledged("lineage-1", 2))
	acked, err := store.GetByLineage("lineage-1")
	require.NoError(t, err)
	assert.True(t, acked.Acknowledged)
	assert.Equal(t, 2, acked.AckAttempts)

	pending, err = store.GetUnacknowledged(10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.ErrorIs(t, store.SetAcknowledged("lineage-unknown", 1), ErrRecordNotFound)
}

func TestPruneLedger(t *testing.T) {
	store := testStore(t)

	require.NoError(t, store.RecordOutcome(models.SourceNotification, "msg-old", "", models.OutcomeNoop))
	require.NoError(t, store.RecordOutcome(models.SourceNotification, "msg-new", "", models.OutcomeNoop))

	pruned, err := store.PruneLedger(time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, pruned)

	seen, err := store.SeenSignal(models.SourceNotification, "msg-old")
	require.NoError(t, err)
	assert.False(t, seen)
}
