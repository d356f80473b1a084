package services

import (
	"time"

	"entitlement-api/pkg/logging"
)

// PruneStore is the store surface the pruner uses.
type PruneStore interface {
	PruneLedger(olderThan time.Time) (int64, error)
}

// LedgerPruner trims idempotency ledger rows that outlived the transport's
// maximum redelivery window.
type LedgerPruner struct {
	store     PruneStore
	retention time.Duration
	interval  time.Duration
	stop      chan struct{}
}

// NewLedgerPruner creates a pruner that runs hourly.
func NewLedgerPruner(store PruneStore, retention time.Duration) *LedgerPruner {
	return &LedgerPruner{
		store:     store,
		retention: retention,
		interval:  time.Hour,
		stop:      make(chan struct{}),
	}
}

// Start launches the pruning loop.
func (p *LedgerPruner) Start() {
	go p.run()
}

// Stop terminates the pruning loop.
func (p *LedgerPruner) Stop() {
	close(p.stop)
}

func (p *LedgerPruner) run() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pruned, err := p.store.PruneLedger(time.Now().Add(-p.retention))
			if err != nil {
				logging.Errorf("Ledger pruning failed: %v", err)
				continue
			}
			if pruned > 0 {
				logging.Infof("Ledger pruning removed %d processed signals", pruned)
			}
		case <-p.stop:
			return
		}
	}
}
