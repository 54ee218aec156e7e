package lease

import (
	"context"
	"time"
)

// RunLease serializes pipeline invocations. At most one owner holds the
// lease at a time; a crashed owner is recovered by TTL expiry.
type RunLease interface {
	// Acquire attempts to take the lease. Returns false if another owner
	// currently holds it.
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// Release gives the lease back. Releasing a lease held by a different
	// owner is a no-op.
	Release(ctx context.Context, key, owner string) error
}
