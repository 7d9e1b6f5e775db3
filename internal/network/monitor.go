package network

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"kasirsync/backend/internal/logger"
	"kasirsync/backend/internal/metrics"
)

type State string

const (
	StateConnected    State = "connected"
	StateDegraded     State = "degraded"
	StateDisconnected State = "disconnected"
)

func (s State) level() int {
	switch s {
	case StateConnected:
		return 0
	case StateDegraded:
		return 1
	default:
		return 2
	}
}

// Snapshot is one observation of the backing store. FromCache means the
// answer came from a local cache rather than a server round trip.
type Snapshot struct {
	FromCache bool
	Err       error
	At        time.Time
}

type Transition struct {
	From     State     `json:"from"`
	To       State     `json:"to"`
	Restored bool      `json:"restored"`
	At       time.Time `json:"at"`
}

type Prober interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Initial         State
	ProbeTimeout    time.Duration
	ConfirmInterval time.Duration
	Logger          *zap.Logger
	Metrics         *metrics.Recorder
}

type Monitor struct {
	mu          sync.Mutex
	state       State
	cacheStreak int
	listeners   []func(Transition)

	prober       Prober
	probeTimeout time.Duration
	confirm      *rate.Limiter
	log          *zap.Logger
	metrics      *metrics.Recorder
	now          func() time.Time
}

func NewMonitor(prober Prober, opts Options) *Monitor {
	if opts.Initial == "" {
		opts.Initial = StateDisconnected
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 3 * time.Second
	}
	limit := rate.Inf
	if opts.ConfirmInterval > 0 {
		limit = rate.Every(opts.ConfirmInterval)
	}
	m := &Monitor{
		state:        opts.Initial,
		prober:       prober,
		probeTimeout: opts.ProbeTimeout,
		confirm:      rate.NewLimiter(limit, 1),
		log:          logger.OrNop(opts.Logger).Named("network"),
		metrics:      opts.Metrics,
		now:          func() time.Time { return time.Now().UTC() },
	}
	m.metrics.SetNetworkState(m.state.level())
	return m
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsOnline is true only when the last server round trip was confirmed.
// A degraded link is treated as offline for order creation.
func (m *Monitor) IsOnline() bool {
	return m.State() == StateConnected
}

func (m *Monitor) OnTransition(fn func(Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Observe feeds one snapshot into the state machine.
func (m *Monitor) Observe(ctx context.Context, snap Snapshot) {
	switch {
	case snap.Err != nil:
		m.mu.Lock()
		m.cacheStreak = 0
		m.mu.Unlock()
		m.setState(StateDisconnected)
	case snap.FromCache:
		m.mu.Lock()
		m.cacheStreak++
		next := m.state
		switch {
		case m.state == StateConnected:
			next = StateDegraded
		case m.state == StateDegraded && m.cacheStreak > 1:
			next = StateDisconnected
		}
		m.mu.Unlock()
		m.setState(next)
	default:
		m.mu.Lock()
		m.cacheStreak = 0
		current := m.state
		m.mu.Unlock()
		if current == StateConnected {
			return
		}
		m.confirmRestored(ctx)
	}
}

// Check performs an active round trip and feeds the result to Observe.
func (m *Monitor) Check(ctx context.Context) State {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	err := m.prober.Ping(probeCtx)
	cancel()
	m.Observe(ctx, Snapshot{Err: err, At: m.now()})
	return m.State()
}

// confirmRestored flips to connected only after a fresh round trip succeeds.
// Confirmation attempts are rate limited so a flapping link cannot trigger a
// sync storm.
func (m *Monitor) confirmRestored(ctx context.Context) {
	if !m.confirm.Allow() {
		m.log.Debug("restore signal debounced")
		return
	}
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	err := m.prober.Ping(probeCtx)
	cancel()
	if err != nil {
		m.log.Info("restore signal not confirmed", zap.Error(err))
		m.setState(StateDisconnected)
		return
	}
	m.setState(StateConnected)
}

func (m *Monitor) setState(next State) {
	m.mu.Lock()
	prev := m.state
	if prev == next {
		m.mu.Unlock()
		return
	}
	m.state = next
	listeners := append([]func(Transition){}, m.listeners...)
	m.mu.Unlock()

	t := Transition{From: prev, To: next, Restored: next == StateConnected, At: m.now()}
	m.metrics.SetNetworkState(next.level())
	m.log.Info("network state changed", zap.String("from", string(prev)), zap.String("to", string(next)))
	for _, fn := range listeners {
		fn(t)
	}
}

// Watcher produces snapshots until ctx is done.
type Watcher interface {
	Snapshots(ctx context.Context) <-chan Snapshot
}

func (m *Monitor) Run(ctx context.Context, w Watcher) {
	snapshots := w.Snapshots(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			m.Observe(ctx, snap)
		}
	}
}
