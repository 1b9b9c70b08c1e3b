package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// slot tracks one position in the pool independent of which *Worker
// currently occupies it, so respawn counts survive a worker being killed
// and replaced.
type slot struct {
	id          int
	worker      *Worker
	respawns    int
	lastRespawn time.Time
}

// Pool is the fixed-size set of worker subprocesses a Server dispatches
// requests to. Workers are handed out from an idle free-list; once every
// worker is busy, a session waits in Acquire until one is released. The
// queue depth passed to NewPool is stored but not enforced, so the number
// of waiting sessions is not limited by the Pool itself.
type Pool struct {
	binary string
	queue  int
	log    *zap.Logger

	mu    sync.Mutex
	slots []*slot
	idle  chan *Worker
}

// NewPool spawns size workers immediately and returns once they are all
// dialed and ready.
func NewPool(binary string, size, queue int, log *zap.Logger) (*Pool, error) {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pool{
		binary: binary,
		queue:  queue,
		log:    log,
		idle:   make(chan *Worker, size),
		slots:  make([]*slot, size),
	}

	// Workers are independent OS processes with no shared state at spawn
	// time, so starting them concurrently rather than one at a time cuts
	// pool warm-up to roughly one SpawnWorker latency instead of size of
	// them stacked in series.
	var g errgroup.Group
	for i := 0; i < size; i++ {
		i := i
		g.Go(func() error {
			w, err := SpawnWorker(i, binary)
			if err != nil {
				return fmt.Errorf("daemon: spawning worker %d: %w", i, err)
			}
			p.slots[i] = &slot{id: i, worker: w}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.Close()
		return nil, err
	}
	for _, s := range p.slots {
		p.idle <- s.worker
		go p.watch(s, s.worker)
	}
	return p, nil
}

// watch waits for a worker's subprocess to exit; an exit that wasn't
// requested via Kill is a crash, and triggers the same respawn-or-retire
// path as a health-monitor-detected hang.
func (p *Pool) watch(s *slot, w *Worker) {
	<-w.Done()
	if w.Crashed() {
		p.log.Warn("worker exited unexpectedly", zap.Int("worker", s.id), zap.Int("pid", w.Pid()))
		p.Replace(w)
	}
}

// Acquire blocks until a worker is idle or ctx is done. It does not check
// any queue bound.
func (p *Pool) Acquire(ctx context.Context) (*Worker, error) {
	select {
	case w := <-p.idle:
		return w, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a worker to the idle free-list.
func (p *Pool) Release(w *Worker) {
	select {
	case p.idle <- w:
	default:
	}
}

// Snapshot returns the current worker for every slot, for the health
// monitor to iterate without holding the pool lock while pinging.
func (p *Pool) Snapshot() []*Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Worker, 0, len(p.slots))
	for _, s := range p.slots {
		out = append(out, s.worker)
	}
	return out
}

// Replace kills a hung or crashed worker and, budget allowing, spawns its
// replacement into the same slot; a slot that has exhausted
// DefaultMaxRespawns within DefaultRespawnCooldown is left empty and
// excluded from the idle free-list, shrinking the effective pool size
// rather than respawning forever.
func (p *Pool) Replace(dead *Worker) {
	p.mu.Lock()
	var s *slot
	for _, cand := range p.slots {
		if cand.worker == dead {
			s = cand
			break
		}
	}
	p.mu.Unlock()
	if s == nil {
		return
	}

	dead.Kill()
	dead.Close()

	now := time.Now()
	if now.Sub(s.lastRespawn) > DefaultRespawnCooldown {
		s.respawns = 0
	}
	if s.respawns >= DefaultMaxRespawns {
		p.mu.Lock()
		s.worker = nil
		p.mu.Unlock()
		return
	}

	w, err := SpawnWorker(s.id, p.binary)
	p.mu.Lock()
	if err != nil {
		s.worker = nil
		p.mu.Unlock()
		p.log.Error("respawning worker failed", zap.Int("slot", s.id), zap.Error(err))
		return
	}
	w.RespawnCount = s.respawns + 1
	s.worker = w
	s.respawns++
	s.lastRespawn = now
	p.mu.Unlock()
	p.idle <- w
	go p.watch(s, w)
}

// Close kills every worker in the pool.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.slots {
		if s != nil && s.worker != nil {
			s.worker.Kill()
			s.worker.Close()
		}
	}
}
