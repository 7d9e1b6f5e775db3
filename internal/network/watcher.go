package network

import (
	"context"
	"time"
)

// PollingWatcher turns periodic pings of the store into snapshots.
type PollingWatcher struct {
	Prober   Prober
	Interval time.Duration
	Timeout  time.Duration
}

func (w PollingWatcher) Snapshots(ctx context.Context) <-chan Snapshot {
	interval := w.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	out := make(chan Snapshot)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			pingCtx, cancel := context.WithTimeout(ctx, timeout)
			err := w.Prober.Ping(pingCtx)
			cancel()
			select {
			case out <- Snapshot{Err: err, At: time.Now().UTC()}:
			case <-ctx.Done():
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
