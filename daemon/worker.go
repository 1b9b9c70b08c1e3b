package daemon

import (
	"net"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// HealthState is one of the worker lifecycle states of spec §4.G.4.
type HealthState int

const (
	Healthy HealthState = iota
	Unresponsive
	Slow
	Hung
	Crashed
)

func (s HealthState) String() string {
	switch s {
	case Healthy:
		return "Healthy"
	case Unresponsive:
		return "Unresponsive"
	case Slow:
		return "Slow"
	case Hung:
		return "Hung"
	case Crashed:
		return "Crashed"
	}
	return "?"
}

// Worker is one pool member: a separate OS process (per spec §4.G.6, "the
// only shared state between daemon and worker is the socket pair per
// request") reached over a control-channel Unix socket built from
// unix.Socketpair, the child's end passed in as an inherited file
// descriptor, following the self-reexec pattern (`rushd --worker`) rather
// than a real fork, which Go cannot safely do with live goroutines.
type Worker struct {
	ID   int
	cmd  *exec.Cmd
	ctrl *net.UnixConn

	mu                  sync.Mutex
	State               HealthState
	SpawnedAt           time.Time
	LastHeartbeat       time.Time
	RequestsProcessed   uint64
	RequestsFailed      uint64
	ConsecutiveFailures int
	RespawnCount        int
	RetiredAt           time.Time
	killedIntentionally bool

	doneCh  chan struct{}
	waitErr error
}

// Done is closed once the worker subprocess has exited, however that
// happened.
func (w *Worker) Done() <-chan struct{} { return w.doneCh }

// Crashed reports whether the worker exited without Kill having been
// called on it first.
func (w *Worker) Crashed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.killedIntentionally
}

// SpawnWorker launches one rushd subprocess in worker mode and dials a
// control socketpair to it. binary is the daemon's own executable path
// (os.Executable()), re-invoked with "--worker" so the child runs
// RunWorker instead of the accept loop.
func SpawnWorker(id int, binary string) (*Worker, error) {
	pair, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}
	parentFile := os.NewFile(uintptr(pair[0]), "rushd-worker-parent")
	childFile := os.NewFile(uintptr(pair[1]), "rushd-worker-child")
	defer childFile.Close()

	cmd := exec.Command(binary, "--worker")
	cmd.ExtraFiles = []*os.File{childFile}
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		parentFile.Close()
		return nil, err
	}

	raw, err := net.FileConn(parentFile)
	parentFile.Close()
	if err != nil {
		cmd.Process.Kill()
		return nil, err
	}
	conn, ok := raw.(*net.UnixConn)
	if !ok {
		raw.Close()
		cmd.Process.Kill()
		return nil, os.ErrInvalid
	}

	w := &Worker{
		ID:            id,
		cmd:           cmd,
		ctrl:          conn,
		State:         Healthy,
		SpawnedAt:     time.Now(),
		LastHeartbeat: time.Now(),
		doneCh:        make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		w.mu.Lock()
		w.waitErr = err
		w.mu.Unlock()
		close(w.doneCh)
	}()
	return w, nil
}

// Pid returns the worker's process ID, or 0 if it hasn't started.
func (w *Worker) Pid() int {
	if w.cmd == nil || w.cmd.Process == nil {
		return 0
	}
	return w.cmd.Process.Pid
}

// SendSession hands a SessionInit and its attached stdio FDs to the worker
// over the control channel and waits for the worker's Result frame. The
// client connection itself is not passed to the worker.
func (w *Worker) SendSession(init SessionInit, stdio []int) (Result, error) {
	frame, err := EncodeFrame(MsgSessionInit, init)
	if err != nil {
		return Result{}, err
	}
	if err := WriteFrame(w.ctrl, frame); err != nil {
		return Result{}, err
	}
	if err := sendFDs(w.ctrl, stdio); err != nil {
		return Result{}, err
	}
	resp, err := ReadFrame(w.ctrl)
	if err != nil {
		return Result{}, err
	}
	var res Result
	if err := resp.Decode(&res); err != nil {
		return Result{}, err
	}
	w.mu.Lock()
	w.RequestsProcessed++
	w.mu.Unlock()
	return res, nil
}

// Ping sends a heartbeat and waits for Pong, used by the health monitor.
func (w *Worker) Ping() error {
	frame, _ := EncodeFrame(MsgPing, Ping{TimestampMs: uint64(time.Now().UnixMilli())})
	if err := WriteFrame(w.ctrl, frame); err != nil {
		return err
	}
	resp, err := ReadFrame(w.ctrl)
	if err != nil {
		return err
	}
	var pong Pong
	if err := resp.Decode(&pong); err != nil {
		return err
	}
	w.mu.Lock()
	w.LastHeartbeat = time.Now()
	w.mu.Unlock()
	return nil
}

// Cancel writes a Cancel frame on the worker's control channel, used for
// client-disconnect cancellation. RunWorker reads that frame only between
// sessions and takes no action on it, so a running pipeline is not
// signalled.
func (w *Worker) Cancel() error {
	frame, _ := EncodeFrame(MsgCancel, Cancel{})
	return WriteFrame(w.ctrl, frame)
}

// Kill sends SIGKILL to the worker process, used when it is marked Hung.
func (w *Worker) Kill() {
	w.mu.Lock()
	w.killedIntentionally = true
	w.mu.Unlock()
	if w.cmd != nil && w.cmd.Process != nil {
		w.cmd.Process.Kill()
	}
}

// Close tears down the control channel.
func (w *Worker) Close() {
	if w.ctrl != nil {
		w.ctrl.Close()
	}
}
