package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotObtained = errors.New("lock not obtained")

type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out short-lived exclusive leases on a key.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

type noopLease struct{}

func (noopLease) Release(_ context.Context) error { return nil }

type Noop struct{}

func (Noop) Obtain(_ context.Context, _ string, _ time.Duration) (Lease, error) {
	return noopLease{}, nil
}

// Local serialises holders inside a single process. Leases expire after ttl
// so a crashed holder cannot wedge the key.
type Local struct {
	mu    sync.Mutex
	held  map[string]localHold
	token uint64
	now   func() time.Time
}

type localHold struct {
	token     uint64
	expiresAt time.Time
}

func NewLocal() *Local {
	return &Local{held: make(map[string]localHold), now: time.Now}
}

func (l *Local) Obtain(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if hold, ok := l.held[key]; ok && now.Before(hold.expiresAt) {
		return nil, ErrNotObtained
	}
	l.token++
	token := l.token
	l.held[key] = localHold{token: token, expiresAt: now.Add(ttl)}
	return &localLease{owner: l, key: key, token: token}, nil
}

type localLease struct {
	owner *Local
	key   string
	token uint64
}

func (l *localLease) Release(_ context.Context) error {
	l.owner.mu.Lock()
	defer l.owner.mu.Unlock()
	if hold, ok := l.owner.held[l.key]; ok && hold.token == l.token {
		delete(l.owner.held, l.key)
	}
	return nil
}
