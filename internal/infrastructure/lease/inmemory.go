package lease

import (
	"context"
	"sync"
	"time"
)

type leaseEntry struct {
	owner     string
	expiresAt time.Time
}

// InMemoryLease implements RunLease with a local map. Suitable for
// single-instance deployments and testing.
type InMemoryLease struct {
	mu      sync.Mutex
	entries map[string]leaseEntry
	now     func() time.Time
}

// NewInMemoryLease creates a new in-memory lease.
func NewInMemoryLease() *InMemoryLease {
	return &InMemoryLease{
		entries: make(map[string]leaseEntry),
		now:     time.Now,
	}
}

// Acquire takes the lease if it is free or expired.
func (l *InMemoryLease) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, exists := l.entries[key]; exists && l.now().Before(e.expiresAt) && e.owner != owner {
		return false, nil
	}

	l.entries[key] = leaseEntry{
		owner:     owner,
		expiresAt: l.now().Add(ttl),
	}
	return true, nil
}

// Release frees the lease if the caller still owns it.
func (l *InMemoryLease) Release(ctx context.Context, key, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, exists := l.entries[key]; exists && e.owner == owner {
		delete(l.entries, key)
	}
	return nil
}

var _ RunLease = (*InMemoryLease)(nil)
