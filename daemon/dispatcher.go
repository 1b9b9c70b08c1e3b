package daemon

import (
	"context"
	"fmt"
	"net"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Dispatcher ties one client connection to one pool worker for the
// lifetime of a session: read SessionInit (plus its out-of-band stdio
// FDs), hand both to a worker, stream back Result, and forward any
// Cancel the client sends meanwhile (spec §5, cancellation on client
// disconnect or explicit Ctrl-C passthrough).
type Dispatcher struct {
	pool *Pool
	log  *zap.Logger
}

// Handle runs one client session to completion. Every session is tagged
// with a random id so its dispatcher and worker log lines can be
// correlated in the daemon's structured log output.
func (d *Dispatcher) Handle(ctx context.Context, conn *net.UnixConn) error {
	sessionID := uuid.NewString()
	log := d.logger().With(zap.String("session", sessionID))

	frame, err := ReadFrame(conn)
	if err != nil {
		return fmt.Errorf("daemon: reading session init: %w", err)
	}
	if frame.Type == MsgPing {
		// A bare Ping with no SessionInit is the liveness probe NewServer's
		// pingSocket uses to tell a live daemon from a stale socket file,
		// per spec §6.3; answer it and close without touching the worker
		// pool.
		var ping Ping
		frame.Decode(&ping)
		out, err := EncodeFrame(MsgPong, Pong{TimestampMs: ping.TimestampMs, Status: "ok"})
		if err != nil {
			return err
		}
		return WriteFrame(conn, out)
	}
	if frame.Type != MsgSessionInit {
		return fmt.Errorf("daemon: expected SessionInit, got msg type %d", frame.Type)
	}
	var init SessionInit
	if err := frame.Decode(&init); err != nil {
		return fmt.Errorf("daemon: decoding session init: %w", err)
	}

	var fds []int
	if init.StdinMode != "null" {
		fds, err = recvFDs(conn, 3)
		if err != nil {
			return fmt.Errorf("daemon: receiving stdio fds: %w", err)
		}
	}

	w, err := d.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("daemon: acquiring worker: %w", err)
	}
	log = log.With(zap.Int("worker", w.ID))
	defer d.pool.Release(w)

	cancelCh := make(chan struct{})
	go d.watchCancel(conn, w, cancelCh)
	defer close(cancelCh)

	res, err := w.SendSession(init, fds)
	if err != nil {
		w.mu.Lock()
		w.RequestsFailed++
		w.mu.Unlock()
		log.Warn("session dispatch failed", zap.Error(err))
		return fmt.Errorf("daemon: dispatching to worker %d: %w", w.ID, err)
	}
	log.Debug("session completed", zap.Int32("exit_code", res.ExitCode))

	out, err := EncodeFrame(MsgResult, res)
	if err != nil {
		return err
	}
	return WriteFrame(conn, out)
}

func (d *Dispatcher) logger() *zap.Logger {
	if d.log == nil {
		return zap.NewNop()
	}
	return d.log
}

// watchCancel reads any further frames the client sends while its session
// is in flight; a Cancel frame is forwarded to the worker, a closed
// connection forwards an implicit one. It exits once cancelCh is closed
// by the caller at session end.
func (d *Dispatcher) watchCancel(conn *net.UnixConn, w *Worker, cancelCh <-chan struct{}) {
	for {
		frame, err := ReadFrame(conn)
		if err != nil {
			select {
			case <-cancelCh:
				return
			default:
				w.Cancel()
				return
			}
		}
		if frame.Type == MsgCancel {
			w.Cancel()
		}
	}
}
