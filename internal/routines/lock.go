package routines

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// LockTTL is the idempotence lock expiry. A fired minute stays claimed for
// an hour, far longer than any tick overlap.
const LockTTL = time.Hour

// LockStore provides a distributed set-if-not-exists lock. TryAcquire
// returns true exactly once per key until the TTL expires, across all
// scheduler replicas sharing the store.
type LockStore interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// FireKey is the idempotence key for one routine firing in one local
// minute. Two replicas resolving the same local minute produce the same
// key regardless of their own clocks' locations.
func FireKey(routineID string, local time.Time) string {
	return fmt.Sprintf("routine:%s:%s", routineID, local.Format("2006-01-02T15:04"))
}

// MemoryLockStore is the in-process lock used by single-node deployments
// and tests.
type MemoryLockStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemoryLockStore returns an in-memory lock store.
func NewMemoryLockStore() *MemoryLockStore {
	return &MemoryLockStore{
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

// TryAcquire claims the key if it is unclaimed or its claim has expired.
func (s *MemoryLockStore) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = LockTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expiry, held := s.expires[key]; held && now.Before(expiry) {
		return false, nil
	}
	s.expires[key] = now.Add(ttl)

	// Opportunistic sweep keeps the map from growing unbounded.
	for k, expiry := range s.expires {
		if now.After(expiry) {
			delete(s.expires, k)
		}
	}
	return true, nil
}
