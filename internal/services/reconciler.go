package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"entitlement-api/internal/database"
	"entitlement-api/internal/models"
	"entitlement-api/pkg/logging"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrReconcileConflict is returned when concurrent writes on the same
// lineage exhaust the CAS retry budget. Rare; surfaced for out-of-band
// inspection rather than silently dropped.
var ErrReconcileConflict = errors.New("reconcile conflict: retry budget exhausted")

// Store is the entitlement store surface the reconciler mutates through. The
// reconciler is the only writer.
type Store interface {
	GetByToken(token string) (*models.PurchaseRecord, error)
	GetByLineage(lineageID string) (*models.PurchaseRecord, error)
	SeenSignal(source models.SignalSource, signalID string) (bool, error)
	Create(record *models.PurchaseRecord, source models.SignalSource, signalID string) error
	UpdateCAS(record *models.PurchaseRecord, predicatedEventTime time.Time, source models.SignalSource, signalID string) error
	RecordOutcome(source models.SignalSource, signalID, lineageID, outcome string) error
}

// AckScheduler receives lineages whose purchase needs a platform
// acknowledgment.
type AckScheduler interface {
	ScheduleAck(record *models.PurchaseRecord)
}

// TransitionDispatcher receives committed state transitions for best-effort
// downstream fan-out.
type TransitionDispatcher interface {
	DispatchTransition(record *models.PurchaseRecord, from models.PurchaseState, kind models.EventKind)
}

// StatusCacheInvalidator drops cached read-side state after a commit.
type StatusCacheInvalidator interface {
	InvalidateStatus(appID, userID string)
}

// Reconciler merges incoming signals into the entitlement store. Signals
// from both sources race and arrive at least once in any order; correctness
// rests on the idempotency ledger and on event-time precedence, never on
// arrival order.
type Reconciler struct {
	store      Store
	acks       AckScheduler
	dispatcher TransitionDispatcher
	cache      StatusCacheInvalidator
	maxRetries int
}

// NewReconciler creates a reconciler. acks, dispatcher and cache may be nil
// (the corresponding side effect is skipped).
func NewReconciler(store Store, acks AckScheduler, dispatcher TransitionDispatcher, cache StatusCacheInvalidator) *Reconciler {
	return &Reconciler{
		store:      store,
		acks:       acks,
		dispatcher: dispatcher,
		cache:      cache,
		maxRetries: 3,
	}
}

// Apply merges one signal into the store. A nil error means the signal was
// consumed: applied, deduplicated, rejected as stale, or ignored as an
// anomaly. Errors are reserved for infrastructure failures and conflict
// budget exhaustion.
func (r *Reconciler) Apply(ctx context.Context, sig *models.Signal) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	seen, err := r.store.SeenSignal(sig.Source, sig.SignalID)
	if err != nil {
		return fmt.Errorf("ledger lookup failed: %w", err)
	}
	if seen {
		logging.Infof("Duplicate signal dropped - source: %s, id: %s, kind: %s",
			sig.Source, sig.SignalID, sig.Kind)
		return nil
	}

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		record, err := r.lookup(sig)
		if errors.Is(err, database.ErrRecordNotFound) {
			created, err := r.createFromSignal(sig)
			if err == nil || !errors.Is(err, gorm.ErrDuplicatedKey) {
				if created != nil {
					r.afterCommit(created, "", sig.Kind, true)
				}
				return err
			}
			// Lost a creation race for the same token; merge against the
			// winner's record.
			continue
		}
		if err != nil {
			return fmt.Errorf("record lookup failed: %w", err)
		}

		done, err := r.merge(record, sig)
		if done || err != nil {
			return err
		}
		// CAS rejected the write; re-derive from the now-current record.
		logging.Infof("CAS conflict on lineage %s, attempt %d, re-deriving", record.LineageID, attempt+1)
	}

	return fmt.Errorf("%w: lineage for token %q", ErrReconcileConflict, sig.Token)
}

// lookup finds the lineage a signal belongs to. A rotated token carries a
// linked token naming its predecessor; following it is what keeps a renewal
// or resubscription in the same lineage instead of opening a new one.
func (r *Reconciler) lookup(sig *models.Signal) (*models.PurchaseRecord, error) {
	record, err := r.store.GetByToken(sig.Token)
	if errors.Is(err, database.ErrRecordNotFound) && sig.LinkedToken != "" {
		return r.store.GetByToken(sig.LinkedToken)
	}
	return record, err
}

// createFromSignal opens a new lineage for a previously unseen token.
func (r *Reconciler) createFromSignal(sig *models.Signal) (*models.PurchaseRecord, error) {
	if sig.Kind == models.KindUnknown {
		// Never create state from an event we do not understand.
		logging.Warnf("Unknown-kind signal for unseen token ignored - source: %s, id: %s",
			sig.Source, sig.SignalID)
		return nil, r.store.RecordOutcome(sig.Source, sig.SignalID, "", models.OutcomeNoop)
	}

	record := &models.PurchaseRecord{
		LineageID:     uuid.NewString(),
		UserID:        sig.UserID,
		AppID:         sig.AppID,
		PackageName:   sig.PackageName,
		ProductID:     sig.ProductID,
		PurchaseKind:  sig.PurchaseKind,
		CurrentToken:  sig.Token,
		LinkedToken:   sig.LinkedToken,
		State:         models.InitialState(sig),
		ExpiryTime:    sig.ExpiryTime,
		LastEventTime: sig.EventTime,
		OrderID:       sig.OrderID,
	}
	if sig.AutoRenewing != nil {
		record.AutoRenewing = *sig.AutoRenewing
	}
	if record.Lapsed(time.Now()) {
		record.State = models.StateExpired
	}

	if err := r.store.Create(record, sig.Source, sig.SignalID); err != nil {
		if errors.Is(err, database.ErrDuplicateSignal) {
			// A concurrent worker already applied this exact signal.
			return nil, nil
		}
		return nil, err
	}

	logging.Infof("Lineage %s created - state: %s, product: %s, kind: %s",
		record.LineageID, record.State, record.ProductID, sig.Kind)
	return record, nil
}

// merge applies the signal to an existing record. Returns done=false only
// when the CAS write was rejected and the caller should re-derive.
func (r *Reconciler) merge(record *models.PurchaseRecord, sig *models.Signal) (bool, error) {
	if sig.EventTime.Before(record.LastEventTime) {
		// Normal under at-least-once, out-of-order delivery. Recorded for
		// audit, not an error.
		logging.Infof("Stale signal discarded - lineage: %s, kind: %s, event time %s < %s",
			record.LineageID, sig.Kind, sig.EventTime.Format(time.RFC3339),
			record.LastEventTime.Format(time.RFC3339))
		return true, r.store.RecordOutcome(sig.Source, sig.SignalID, record.LineageID, models.OutcomeStale)
	}

	rotated := sig.Token != record.CurrentToken

	var target models.PurchaseState
	var result models.TransitionResult
	if rotated && record.State.Terminal() {
		// The lineage reopens under a new token: a new chapter of its
		// history, not a revival of the closed record.
		target = models.InitialState(sig)
		result = models.TransitionApply
	} else {
		target, result = models.Transition(record.State, sig)
	}

	switch result {
	case models.TransitionNoop:
		return true, r.store.RecordOutcome(sig.Source, sig.SignalID, record.LineageID, models.OutcomeNoop)
	case models.TransitionAnomaly:
		logging.Errorf("Anomalous transition ignored - lineage: %s, state: %s, kind: %s, source: %s",
			record.LineageID, record.State, sig.Kind, sig.Source)
		return true, r.store.RecordOutcome(sig.Source, sig.SignalID, record.LineageID, models.OutcomeAnomaly)
	}

	updated := *record
	previous := record.State
	updated.State = target
	updated.LastEventTime = sig.EventTime
	if sig.ExpiryTime != nil {
		updated.ExpiryTime = sig.ExpiryTime
	}
	if sig.AutoRenewing != nil {
		updated.AutoRenewing = *sig.AutoRenewing
	}
	if sig.ProductID != "" && sig.ProductID != updated.ProductID {
		// Upgrade or downgrade: the product changes within the lineage.
		logging.Infof("Product change on lineage %s: %s -> %s", updated.LineageID, updated.ProductID, sig.ProductID)
		updated.ProductID = sig.ProductID
	}
	if sig.OrderID != "" {
		updated.OrderID = sig.OrderID
	}
	if updated.AppID == "" && sig.AppID != "" {
		updated.AppID = sig.AppID
	}
	if updated.PurchaseKind == "" && sig.PurchaseKind != "" {
		updated.PurchaseKind = sig.PurchaseKind
	}
	if rotated {
		updated.LinkedToken = record.CurrentToken
		updated.CurrentToken = sig.Token
		// A rotated token needs its own platform acknowledgment.
		updated.Acknowledged = false
	}
	r.bindUser(&updated, sig)
	if updated.Lapsed(time.Now()) {
		updated.State = models.StateExpired
	}

	err := r.store.UpdateCAS(&updated, record.LastEventTime, sig.Source, sig.SignalID)
	switch {
	case err == nil:
		logging.Infof("Signal applied - lineage: %s, %s -> %s, kind: %s, source: %s",
			updated.LineageID, previous, updated.State, sig.Kind, sig.Source)
		r.afterCommit(&updated, previous, sig.Kind, previous != updated.State || rotated)
		return true, nil
	case errors.Is(err, database.ErrDuplicateSignal):
		// Another worker committed this exact signal between our ledger
		// check and the write.
		return true, nil
	case errors.Is(err, database.ErrCASConflict):
		return false, nil
	default:
		return true, fmt.Errorf("entitlement write failed: %w", err)
	}
}

// bindUser attaches the owner on first sight and refuses to rebind. A
// mismatch means the same lineage is claimed by two users; the first binding
// stands and the conflict is logged.
func (r *Reconciler) bindUser(record *models.PurchaseRecord, sig *models.Signal) {
	if sig.UserID == "" {
		return
	}
	if record.UserID == "" {
		logging.Infof("Binding user to lineage %s", record.LineageID)
		record.UserID = sig.UserID
		return
	}
	if record.UserID != sig.UserID {
		logging.Errorf("User mismatch on lineage %s: keeping existing owner", record.LineageID)
	}
}

// afterCommit runs the post-commit side effects. Neither path can roll back
// the committed state change.
func (r *Reconciler) afterCommit(record *models.PurchaseRecord, from models.PurchaseState, kind models.EventKind, changed bool) {
	if r.acks != nil && record.State == models.StateActive && !record.Acknowledged {
		r.acks.ScheduleAck(record)
	}
	if r.cache != nil && record.UserID != "" {
		r.cache.InvalidateStatus(record.AppID, record.UserID)
	}
	if r.dispatcher != nil && changed {
		r.dispatcher.DispatchTransition(record, from, kind)
	}
}
