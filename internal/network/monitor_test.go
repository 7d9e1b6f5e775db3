package network

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProber struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (p *stubProber) Ping(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.err
}

func (p *stubProber) set(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *stubProber) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func collect(m *Monitor) *[]Transition {
	var mu sync.Mutex
	seen := &[]Transition{}
	m.OnTransition(func(t Transition) {
		mu.Lock()
		defer mu.Unlock()
		*seen = append(*seen, t)
	})
	return seen
}

func TestMonitorCacheSnapshotsDegradeThenDisconnect(t *testing.T) {
	ctx := context.Background()
	m := NewMonitor(&stubProber{}, Options{Initial: StateConnected})
	seen := collect(m)

	m.Observe(ctx, Snapshot{FromCache: true})
	assert.Equal(t, StateDegraded, m.State())
	assert.False(t, m.IsOnline())

	m.Observe(ctx, Snapshot{FromCache: true})
	assert.Equal(t, StateDisconnected, m.State())

	require.Len(t, *seen, 2)
	assert.Equal(t, Transition{From: StateConnected, To: StateDegraded}, stripTime((*seen)[0]))
	assert.Equal(t, Transition{From: StateDegraded, To: StateDisconnected}, stripTime((*seen)[1]))
}

func TestMonitorErrorDisconnects(t *testing.T) {
	m := NewMonitor(&stubProber{}, Options{Initial: StateConnected})
	m.Observe(context.Background(), Snapshot{Err: errors.New("dial tcp: timeout")})
	assert.Equal(t, StateDisconnected, m.State())
}

func TestMonitorRestoreRequiresConfirmedRoundTrip(t *testing.T) {
	ctx := context.Background()
	prober := &stubProber{err: errors.New("still down")}
	m := NewMonitor(prober, Options{Initial: StateDisconnected})
	seen := collect(m)

	m.Observe(ctx, Snapshot{})
	assert.Equal(t, StateDisconnected, m.State())
	assert.Empty(t, *seen)

	prober.set(nil)
	m.Observe(ctx, Snapshot{})
	assert.Equal(t, StateConnected, m.State())
	require.Len(t, *seen, 1)
	assert.True(t, (*seen)[0].Restored)
	assert.Equal(t, 2, prober.count())

	// Already connected: no further probes for server snapshots.
	m.Observe(ctx, Snapshot{})
	assert.Equal(t, 2, prober.count())
}

func TestMonitorDebouncesRestoreSignals(t *testing.T) {
	ctx := context.Background()
	prober := &stubProber{err: errors.New("down")}
	m := NewMonitor(prober, Options{Initial: StateDisconnected, ConfirmInterval: time.Hour})

	m.Observe(ctx, Snapshot{})
	m.Observe(ctx, Snapshot{})
	m.Observe(ctx, Snapshot{})

	assert.Equal(t, 1, prober.count())
	assert.Equal(t, StateDisconnected, m.State())
}

func TestMonitorCheck(t *testing.T) {
	ctx := context.Background()
	prober := &stubProber{}
	m := NewMonitor(prober, Options{})

	assert.Equal(t, StateConnected, m.Check(ctx))

	prober.set(errors.New("refused"))
	assert.Equal(t, StateDisconnected, m.Check(ctx))
}

func TestRunWithPollingWatcher(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prober := &stubProber{}
	m := NewMonitor(prober, Options{})
	restored := make(chan Transition, 1)
	m.OnTransition(func(t Transition) {
		if t.Restored {
			select {
			case restored <- t:
			default:
			}
		}
	})

	done := make(chan struct{})
	go func() {
		m.Run(ctx, PollingWatcher{Prober: prober, Interval: 10 * time.Millisecond, Timeout: time.Second})
		close(done)
	}()

	select {
	case tr := <-restored:
		assert.Equal(t, StateDisconnected, tr.From)
	case <-time.After(2 * time.Second):
		t.Fatal("expected restored transition")
	}
	cancel()
	<-done
}

func stripTime(t Transition) Transition {
	t.At = time.Time{}
	return t
}
