package graph

import (
	"context"
	"time"

	"github.com/athene-kg/athene/internal/infrastructure/database/redis"
)

// redisLocker adapts redis.LockManager to the Locker interface; the
// indirection exists because Acquire must return the Lease interface, not
// the concrete lease type.
type redisLocker struct {
	manager *redis.LockManager
}

// NewRedisLocker wraps the distributed lock manager for pipeline use.
func NewRedisLocker(manager *redis.LockManager) Locker {
	return &redisLocker{manager: manager}
}

func (l *redisLocker) Acquire(ctx context.Context, projectID string, ttl time.Duration) (Lease, error) {
	lease, err := l.manager.Acquire(ctx, projectID, ttl)
	if err != nil {
		return nil, err
	}
	return lease, nil
}
