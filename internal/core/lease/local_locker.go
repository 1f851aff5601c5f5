package lease

import (
	"context"
	"fmt"
	"sync"
	"time"
)

var _ Locker = (*LocalLocker)(nil)

// LocalLocker is an in-process Locker for single-replica deployments and
// the CLI.
type LocalLocker struct {
	mu     sync.Mutex
	held   map[string]localLease
	nextID uint64
	now    func() time.Time
}

type localLease struct {
	id      uint64
	expires time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		held: make(map[string]localLease),
		now:  time.Now,
	}
}

func (l *LocalLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		return nil, fmt.Errorf("%w: %s", ErrLeaseHeld, key)
	}

	l.nextID++
	id := l.nextID
	l.held[key] = localLease{id: id, expires: now.Add(ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if cur, ok := l.held[key]; ok && cur.id == id {
			delete(l.held, key)
		}
		return nil
	}, nil
}
