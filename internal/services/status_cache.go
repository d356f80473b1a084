package services

import (
	"context"
	"fmt"
	"time"

	"entitlement-api/internal/database"
	"entitlement-api/pkg/logging"
)

// StatusCache caches the read-side subscription status in Redis for a short
// period. The reconciler invalidates an entry whenever it commits a change
// for the user, so reads are never stale longer than one reconcile.
type StatusCache struct {
	ttl time.Duration
}

// NewStatusCache creates a status cache with a 60 second TTL.
func NewStatusCache() *StatusCache {
	return &StatusCache{ttl: 60 * time.Second}
}

func statusCacheKey(appID, userID string) string {
	return fmt.Sprintf("entitlement_status:%s:%s", appID, userID)
}

// Get returns the cached status payload, or "" on miss.
func (c *StatusCache) Get(ctx context.Context, appID, userID string) string {
	value, err := database.GetCache(ctx, statusCacheKey(appID, userID))
	if err != nil {
		return ""
	}
	return value
}

// Set stores a status payload.
func (c *StatusCache) Set(ctx context.Context, appID, userID, payload string) {
	if err := database.SetCache(ctx, statusCacheKey(appID, userID), payload, c.ttl); err != nil {
		logging.Warnf("Failed to cache status for %s/%s: %v", appID, userID, err)
	}
}

// InvalidateStatus drops the cached status. Implements the reconciler's
// StatusCacheInvalidator.
func (c *StatusCache) InvalidateStatus(appID, userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := database.DeleteCache(ctx, statusCacheKey(appID, userID)); err != nil {
		logging.Warnf("Failed to invalidate status cache for %s/%s: %v", appID, userID, err)
	}
}
