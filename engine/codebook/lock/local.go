package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// LocalLocker serializes writers inside one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]localEntry
	now  func() time.Time
	seq  uint64
}

type localEntry struct {
	seq       uint64
	expiresAt time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]localEntry), now: time.Now}
}

func (l *LocalLocker) Acquire(_ context.Context, resource string, ttl time.Duration) (Lock, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if entry, ok := l.held[resource]; ok && now.Before(entry.expiresAt) {
		return nil, fmt.Errorf("%w: %s", ErrNotAcquired, resource)
	}
	l.seq++
	l.held[resource] = localEntry{seq: l.seq, expiresAt: now.Add(ttl)}
	return &localLock{owner: l, resource: resource, seq: l.seq}, nil
}

type localLock struct {
	owner    *LocalLocker
	resource string
	seq      uint64
}

func (l *localLock) Resource() string {
	return l.resource
}

func (l *localLock) Refresh(_ context.Context, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	l.owner.mu.Lock()
	defer l.owner.mu.Unlock()
	now := l.owner.now()
	entry, ok := l.owner.held[l.resource]
	if !ok || entry.seq != l.seq || !now.Before(entry.expiresAt) {
		return fmt.Errorf("%w: %s", ErrNotHeld, l.resource)
	}
	entry.expiresAt = now.Add(ttl)
	l.owner.held[l.resource] = entry
	return nil
}

func (l *localLock) Release(_ context.Context) error {
	l.owner.mu.Lock()
	defer l.owner.mu.Unlock()
	entry, ok := l.owner.held[l.resource]
	if !ok || entry.seq != l.seq {
		return fmt.Errorf("%w: %s", ErrNotHeld, l.resource)
	}
	delete(l.owner.held, l.resource)
	return nil
}
