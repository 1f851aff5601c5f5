package lease

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrLeaseHeld is returned when another holder owns the lease.
var ErrLeaseHeld = errors.New("lease is held by another worker")

// Release gives a lease back. Releasing an expired or stolen lease is a no-op.
type Release func(ctx context.Context) error

// Locker grants exclusive, expiring leases on string keys. Acquire never
// waits: a held key fails fast with ErrLeaseHeld so the caller can back off.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

// SourceKey is the lease key guarding one source record of an organization.
func SourceKey(orgID, sourceType, sourceID string) string {
	return fmt.Sprintf("kbsync:lease:%s:%s:%s", orgID, sourceType, sourceID)
}
