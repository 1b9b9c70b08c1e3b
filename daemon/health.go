package daemon

import (
	"time"
)

// Health-check tuning, per spec §4.G.4-5. These values are fixed; Config
// has no fields that override them.
const (
	DefaultHealthCheckInterval = 10 * time.Second
	DefaultPingTimeout         = 5 * time.Second
	DefaultRequestTimeout      = 30 * time.Second
	DefaultHungThreshold       = 60 * time.Second
	DefaultMaxRespawns         = 3
	DefaultRespawnCooldown     = 60 * time.Second
)

// HealthMonitor periodically pings every worker in a Pool and reclassifies
// it, escalating Healthy -> Unresponsive -> Hung and retiring workers that
// exceed DefaultMaxRespawns within the cooldown window.
type HealthMonitor struct {
	pool     *Pool
	interval time.Duration
	ping     time.Duration
	hung     time.Duration
	stopCh   chan struct{}
}

func NewHealthMonitor(p *Pool) *HealthMonitor {
	return &HealthMonitor{
		pool:     p,
		interval: DefaultHealthCheckInterval,
		ping:     DefaultPingTimeout,
		hung:     DefaultHungThreshold,
		stopCh:   make(chan struct{}),
	}
}

func (h *HealthMonitor) Stop() { close(h.stopCh) }

// Run blocks, checking every worker once per interval, until Stop is
// called. Intended to run in its own goroutine alongside Server.Serve.
func (h *HealthMonitor) Run() {
	t := time.NewTicker(h.interval)
	defer t.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-t.C:
			h.checkAll()
		}
	}
}

func (h *HealthMonitor) checkAll() {
	for _, w := range h.pool.Snapshot() {
		if w == nil {
			continue // retired slot
		}
		h.check(w)
	}
}

func (h *HealthMonitor) check(w *Worker) {
	done := make(chan error, 1)
	go func() { done <- w.Ping() }()

	select {
	case err := <-done:
		w.mu.Lock()
		if err != nil {
			w.ConsecutiveFailures++
			if w.State == Healthy {
				w.State = Unresponsive
			}
		} else {
			w.ConsecutiveFailures = 0
			w.State = Healthy
		}
		stuck := time.Since(w.LastHeartbeat) > h.hung
		w.mu.Unlock()
		if stuck {
			h.markHung(w)
		}
	case <-time.After(h.ping):
		w.mu.Lock()
		w.ConsecutiveFailures++
		stuck := time.Since(w.LastHeartbeat) > h.hung
		w.mu.Unlock()
		if stuck {
			h.markHung(w)
		} else {
			w.mu.Lock()
			w.State = Slow
			w.mu.Unlock()
		}
	}
}

// markHung declares a worker unrecoverable and asks the pool to replace
// it: kill it, then respawn, bounded by DefaultMaxRespawns within
// DefaultRespawnCooldown, per spec §4.G.5 ("a worker that exceeds its
// respawn budget is retired rather than endlessly relaunched").
func (h *HealthMonitor) markHung(w *Worker) {
	w.mu.Lock()
	w.State = Hung
	w.mu.Unlock()
	h.pool.Replace(w)
}
