package models

import (
	"time"
)

// Ledger outcome values recorded per processed signal.
const (
	OutcomeApplied   = "applied"
	OutcomeNoop      = "noop"
	OutcomeStale     = "stale"
	OutcomeAnomaly   = "anomaly"
	OutcomeDuplicate = "duplicate"
)

// ProcessedSignal is one row of the idempotency ledger. The unique index on
// (source, signal_id) is what makes duplicate deliveries no-ops: the ledger
// insert shares the transaction of the state write, so a signal either
// applied exactly once or not at all.
type ProcessedSignal struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Source      string    `json:"source" gorm:"size:20;not null;uniqueIndex:idx_processed_signal"`
	SignalID    string    `json:"signal_id" gorm:"size:128;not null;uniqueIndex:idx_processed_signal"`
	LineageID   string    `json:"lineage_id" gorm:"size:36;index"`
	Outcome     string    `json:"outcome" gorm:"size:20"`
	ProcessedAt time.Time `json:"processed_at" gorm:"index;autoCreateTime"`
}

// TableName sets the table name
func (ProcessedSignal) TableName() string {
	return "processed_signals"
}
