package services

import (
	"context"
	"sync"
	"time"

	"entitlement-api/internal/models"
	"entitlement-api/pkg/logging"
)

// AckStore is the store surface the acknowledger writes through.
type AckStore interface {
	SetAcknowledged(lineageID string, attempts int) error
	SetAckAttempts(lineageID string, attempts int) error
}

// Alerter raises operator alerts. A missed acknowledgment is a
// business-impacting event (the platform auto-refunds unacknowledged
// purchases), never a log-and-forget one.
type Alerter interface {
	AckOverdue(lineageID, productID string, attempts int, lastErr error)
}

// AckJob is one pending platform acknowledgment.
type AckJob struct {
	LineageID    string
	PackageName  string
	ProductID    string
	Token        string
	PurchaseKind models.PurchaseKind
	Deadline     time.Time
}

// Acknowledger completes platform acknowledgments within the platform's
// deadline, retrying transient failures with exponential backoff. After the
// attempt budget or the deadline is exhausted it raises an alert and leaves
// the record unacknowledged for operator attention.
type Acknowledger struct {
	client      PurchaseAcknowledger
	store       AckStore
	alerter     Alerter
	jobs        chan AckJob
	maxAttempts int
	baseDelay   time.Duration
	callTimeout time.Duration
	deadline    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAcknowledger creates an acknowledgment scheduler. alerter may be nil
// (overdue acknowledgments are then only logged).
func NewAcknowledger(client PurchaseAcknowledger, store AckStore, alerter Alerter, maxAttempts int, deadline time.Duration) *Acknowledger {
	ctx, cancel := context.WithCancel(context.Background())
	return &Acknowledger{
		client:      client,
		store:       store,
		alerter:     alerter,
		jobs:        make(chan AckJob, 128),
		maxAttempts: maxAttempts,
		baseDelay:   time.Second,
		callTimeout: 30 * time.Second,
		deadline:    deadline,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the acknowledgment worker.
func (a *Acknowledger) Start() {
	a.wg.Add(1)
	go a.run()
}

// Stop cancels in-flight acknowledgment calls and waits for the worker.
// Unfinished jobs are recovered on restart from the unacknowledged records
// in the store.
func (a *Acknowledger) Stop() {
	a.cancel()
	close(a.jobs)
	a.wg.Wait()
}

// ScheduleAck enqueues the acknowledgment of a newly active purchase.
// Implements the reconciler's AckScheduler.
func (a *Acknowledger) ScheduleAck(record *models.PurchaseRecord) {
	// The acknowledgment window runs from the purchase or renewal event. A
	// rotated token on a years-old lineage still gets the full window.
	base := record.LastEventTime
	if base.IsZero() {
		base = time.Now()
	}
	kind := record.PurchaseKind
	if kind == "" {
		kind = models.PurchaseSubscription
	}
	job := AckJob{
		LineageID:    record.LineageID,
		PackageName:  record.PackageName,
		ProductID:    record.ProductID,
		Token:        record.CurrentToken,
		PurchaseKind: kind,
		Deadline:     base.Add(a.deadline),
	}

	select {
	case a.jobs <- job:
	default:
		// Buffer exhausted; the restart sweep over unacknowledged records
		// will pick this lineage up again.
		logging.Errorf("Acknowledgment queue full, deferring lineage %s to the recovery sweep", job.LineageID)
	}
}

func (a *Acknowledger) run() {
	defer a.wg.Done()
	for job := range a.jobs {
		a.process(job)
	}
}

// process retries one job until success, attempt exhaustion, deadline
// breach, or shutdown.
func (a *Acknowledger) process(job AckJob) {
	var lastErr error
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		if !time.Now().Before(job.Deadline) {
			a.overdue(job, attempt-1, lastErr)
			return
		}

		lastErr = a.acknowledge(job)
		if lastErr == nil {
			if err := a.store.SetAcknowledged(job.LineageID, attempt); err != nil {
				logging.Errorf("Failed to persist acknowledgment of lineage %s: %v", job.LineageID, err)
				return
			}
			logging.Infof("Purchase acknowledged - lineage: %s, attempt: %d", job.LineageID, attempt)
			return
		}

		logging.Errorf("Acknowledgment attempt %d/%d failed - lineage: %s, error: %v",
			attempt, a.maxAttempts, job.LineageID, lastErr)

		if attempt < a.maxAttempts {
			backoff := a.baseDelay << (attempt - 1)
			select {
			case <-time.After(backoff):
			case <-a.ctx.Done():
				return
			}
		}
	}

	a.overdue(job, a.maxAttempts, lastErr)
}

func (a *Acknowledger) acknowledge(job AckJob) error {
	ctx, cancel := context.WithTimeout(a.ctx, a.callTimeout)
	defer cancel()

	if job.PurchaseKind == models.PurchaseOneTime {
		return a.client.AcknowledgeProduct(ctx, job.PackageName, job.ProductID, job.Token)
	}
	return a.client.AcknowledgeSubscription(ctx, job.PackageName, job.ProductID, job.Token)
}

func (a *Acknowledger) overdue(job AckJob, attempts int, lastErr error) {
	logging.Errorf("ACKNOWLEDGMENT OVERDUE - lineage: %s, product: %s, attempts: %d, last error: %v",
		job.LineageID, job.ProductID, attempts, lastErr)
	if err := a.store.SetAckAttempts(job.LineageID, attempts); err != nil {
		logging.Errorf("Failed to persist ack attempts for lineage %s: %v", job.LineageID, err)
	}
	if a.alerter != nil {
		a.alerter.AckOverdue(job.LineageID, job.ProductID, attempts, lastErr)
	}
}

// ResumePending re-enqueues unacknowledged active records, called once at
// startup so acknowledgments survive restarts.
func (a *Acknowledger) ResumePending(records []models.PurchaseRecord) {
	for i := range records {
		a.ScheduleAck(&records[i])
	}
	if len(records) > 0 {
		logging.Infof("Resumed %d pending acknowledgments", len(records))
	}
}
