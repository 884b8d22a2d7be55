// Package shared holds small cross-module helpers.
package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// GroupLockKey builds redis keys for settlement critical sections.
func GroupLockKey(groupID string) string {
	return fmt.Sprintf("settlement:group:%s:lock", groupID)
}

// GroupLocker is a best-effort redis lock per farmer group. It shrinks the
// window in which two settlements allocate against overlapping loan
// snapshots; callers proceed without the lock when acquisition fails, so the
// lock carries no correctness weight.
type GroupLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewGroupLocker constructs the locker. client may be nil, in which case
// Acquire always reports not acquired.
func NewGroupLocker(client *redis.Client, ttl time.Duration) *GroupLocker {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &GroupLocker{client: client, ttl: ttl}
}

// Acquire attempts to take the group lock. The returned release function is
// always safe to call.
func (l *GroupLocker) Acquire(ctx context.Context, groupID string) (func(), bool) {
	noop := func() {}
	if l == nil || l.client == nil || groupID == "" {
		return noop, false
	}
	key := GroupLockKey(groupID)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil || !ok {
		return noop, false
	}
	return func() {
		// Only delete the lock we own; a stale delete after TTL expiry must
		// not release someone else's lock.
		current, err := l.client.Get(context.Background(), key).Result()
		if err != nil || current != token {
			return
		}
		_ = l.client.Del(context.Background(), key).Err()
	}, true
}
