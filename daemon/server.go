package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Server owns the daemon's listening socket and worker pool. It
// implements the accept loop of spec §4.G.1: accept, dispatch, health
// check, reap, and shutdown all interleave rather than block one another,
// since each runs on its own goroutine.
type Server struct {
	cfg Config
	log *zap.Logger

	pool   *Pool
	health *HealthMonitor

	ln      *net.UnixListener
	sessSem chan struct{}
	sessWG  sync.WaitGroup

	mu       sync.Mutex
	shutdown bool
}

// NewServer creates the socket directory and listener and spawns the
// worker pool, but does not yet accept connections; call Serve for that.
func NewServer(cfg Config) (*Server, error) {
	log := newLogger()

	if err := os.MkdirAll(cfg.socketDir(), 0o700); err != nil {
		return nil, fmt.Errorf("daemon: creating %s: %w", cfg.socketDir(), err)
	}
	if err := os.Chmod(cfg.socketDir(), 0o700); err != nil {
		return nil, fmt.Errorf("daemon: chmod %s: %w", cfg.socketDir(), err)
	}
	// Per spec §6.3: if the socket exists and answers a Ping, a daemon is
	// already listening there and startup must fail rather than steal its
	// socket out from under it; otherwise the file is left over from an
	// unclean shutdown and must be removed before binding, or Listen fails
	// with "address already in use".
	if pingSocket(cfg.SocketPath) {
		return nil, fmt.Errorf("daemon: already running at %s", cfg.SocketPath)
	}
	if err := os.Remove(cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("daemon: removing stale socket: %w", err)
	}

	addr, err := net.ResolveUnixAddr("unix", cfg.SocketPath)
	if err != nil {
		return nil, err
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("daemon: listening on %s: %w", cfg.SocketPath, err)
	}
	if err := os.Chmod(cfg.SocketPath, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("daemon: chmod socket: %w", err)
	}

	binary, err := os.Executable()
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("daemon: resolving own executable: %w", err)
	}

	pool, err := NewPool(binary, cfg.PoolSize, cfg.QueueDepth, log)
	if err != nil {
		ln.Close()
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		log:     log,
		pool:    pool,
		ln:      ln,
		sessSem: make(chan struct{}, cfg.MaxSessions),
	}
	s.health = NewHealthMonitor(pool)
	return s, nil
}

// pingSocket dials path and sends a Ping, returning true only if a Pong
// comes back before pingProbeTimeout. Any dial failure (no such file,
// connection refused to an orphaned path) or timeout is treated as "no
// live daemon here", per spec §6.3.
const pingProbeTimeout = 500 * time.Millisecond

func pingSocket(path string) bool {
	conn, err := net.DialTimeout("unix", path, pingProbeTimeout)
	if err != nil {
		return false
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(pingProbeTimeout))
	req, err := EncodeFrame(MsgPing, Ping{TimestampMs: uint64(time.Now().UnixMilli())})
	if err != nil {
		return false
	}
	if err := WriteFrame(conn, req); err != nil {
		return false
	}
	resp, err := ReadFrame(conn)
	if err != nil {
		return false
	}
	return resp.Type == MsgPong
}

// Serve runs the accept loop until ctx is cancelled or Shutdown is
// called. After a shutdown it returns ctx.Err(), which is nil when
// Shutdown was called while ctx was still live; any other accept error
// is returned as is.
func (s *Server) Serve(ctx context.Context) error {
	go s.health.Run()

	go func() {
		<-ctx.Done()
		s.Shutdown()
	}()

	for {
		conn, err := s.ln.AcceptUnix()
		if err != nil {
			if s.isShutdown() {
				return ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return err
		}

		select {
		case s.sessSem <- struct{}{}:
			s.sessWG.Add(1)
			go s.handle(ctx, conn)
		default:
			s.log.Warn("rejecting connection: session cap reached", zap.Int("cap", s.cfg.MaxSessions))
			conn.Close()
		}
	}
}

func (s *Server) isShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// Shutdown begins the sequence of spec §4.G.7: stop accepting, let
// in-flight sessions finish or be force-closed after a grace period, then
// tear down the worker pool and remove the socket file.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	s.shutdown = true
	s.mu.Unlock()

	s.ln.Close()
	s.health.Stop()

	grace := make(chan struct{})
	go func() {
		s.sessWG.Wait()
		close(grace)
	}()
	select {
	case <-grace:
	case <-time.After(10 * time.Second):
		s.log.Warn("shutdown grace period expired with sessions still active")
	}

	s.pool.Close()
	os.Remove(s.cfg.SocketPath)
	s.log.Sync()
}

// handle dispatches one client connection to an idle worker for the
// lifetime of its session.
func (s *Server) handle(ctx context.Context, conn *net.UnixConn) {
	defer s.sessWG.Done()
	defer func() { <-s.sessSem }()
	defer conn.Close()

	d := &Dispatcher{pool: s.pool, log: s.log}
	if err := d.Handle(ctx, conn); err != nil {
		s.log.Debug("session ended", zap.Error(err))
	}
}
