package lock

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotAcquired is returned when another holder owns the resource.
	ErrNotAcquired = errors.New("lock: not acquired")
	// ErrNotHeld is returned when releasing a lock that expired or was taken over.
	ErrNotHeld = errors.New("lock: not held")
)

const DefaultTTL = 30 * time.Minute

// Lock is a held lock on a single resource.
type Lock interface {
	Resource() string
	// Refresh resets the expiry to ttl from now. It fails with ErrNotHeld once
	// the lock expired or was taken over.
	Refresh(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// Locker hands out exclusive, expiring locks. Acquire never blocks waiting
// for a holder; it fails with ErrNotAcquired instead.
type Locker interface {
	Acquire(ctx context.Context, resource string, ttl time.Duration) (Lock, error)
}
