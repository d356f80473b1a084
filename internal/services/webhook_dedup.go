package services

import (
	"context"
	"time"

	"entitlement-api/internal/database"
	"entitlement-api/pkg/logging"
)

// DeliveryDeduper suppresses redeliveries of transport messages that were
// already accepted. A fast path only; the idempotency ledger remains the
// source of truth.
type DeliveryDeduper interface {
	Seen(ctx context.Context, messageID string) bool
	MarkAccepted(ctx context.Context, messageID string)
}

// RedisDeliveryDeduper keeps accepted message ids in Redis with a TTL
// covering the transport's maximum redelivery window.
type RedisDeliveryDeduper struct {
	ttl time.Duration
}

// NewDeliveryDeduper creates a Redis-backed delivery deduper.
func NewDeliveryDeduper(ttl time.Duration) *RedisDeliveryDeduper {
	return &RedisDeliveryDeduper{ttl: ttl}
}

func dedupKey(messageID string) string {
	return "webhook_msg:" + messageID
}

// Seen reports whether the message was already accepted. Redis errors count
// as unseen; the ledger catches what slips through.
func (d *RedisDeliveryDeduper) Seen(ctx context.Context, messageID string) bool {
	value, err := database.GetCache(ctx, dedupKey(messageID))
	return err == nil && value != ""
}

// MarkAccepted records a message id. Called only once its signal is safely
// enqueued: a rejected delivery must stay unmarked so the transport's
// redelivery of it is processed, not suppressed.
func (d *RedisDeliveryDeduper) MarkAccepted(ctx context.Context, messageID string) {
	if err := database.SetCache(ctx, dedupKey(messageID), "1", d.ttl); err != nil {
		logging.Warnf("Failed to mark delivery %s as accepted: %v", messageID, err)
	}
}
