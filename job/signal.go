package job

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Controller owns the self-pipe SIGCHLD reaper and the terminal foreground
// handoff for one session's job table, following the pattern mvdan-sh's
// interp/handler_unix.go uses for process groups (Setpgid at spawn time,
// syscall.Kill(-pid, sig) to signal a whole group) generalized to a
// persistent per-session reaper instead of a single foreground wait.
type Controller struct {
	Table *Table
	tty   *os.File

	sigCh  chan os.Signal
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	waiters map[int]chan waitResult
}

type waitResult struct {
	status int
	err    error
}

// NewController opens no file descriptors itself; tty, if non-nil, is the
// controlling terminal used for foreground process-group handoff.
func NewController(t *Table, tty *os.File) *Controller {
	return &Controller{
		Table:   t,
		tty:     tty,
		sigCh:   make(chan os.Signal, 16),
		stopCh:  make(chan struct{}),
		waiters: make(map[int]chan waitResult),
	}
}

// Start installs the SIGCHLD handler and begins the reaper goroutine.
func (c *Controller) Start() {
	signal.Notify(c.sigCh, unix.SIGCHLD)
	c.wg.Add(1)
	go c.reapLoop()
}

// Stop tears down signal delivery and waits for the reaper to exit.
func (c *Controller) Stop() {
	signal.Stop(c.sigCh)
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Controller) reapLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case <-c.sigCh:
			c.reapAll()
		}
	}
}

// reapAll drains every exited or stopped child with a non-blocking wait4,
// the self-pipe idiom mvdan-sh's handler_unix.go avoids needing because it
// waits synchronously on a single foreground group; rush's daemon must
// reap across many concurrent background jobs, so it polls all pids.
func (c *Controller) reapAll() {
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG|unix.WUNTRACED|unix.WCONTINUED, nil)
		if err != nil || pid <= 0 {
			return
		}
		// j may be nil when pid belongs to a job registered in a different
		// (e.g. cloned, subshell-local) Table than the one this Controller
		// was built with; notify still fires so any WaitPid call blocked
		// on this exact pid is released regardless of which Table, if
		// any, is tracking it.
		j := c.Table.ByPid(pid)
		switch {
		case ws.Stopped():
			if j != nil {
				c.Table.Update(j.ID, Stopped, 0)
			}
		case ws.Continued():
			if j != nil {
				c.Table.Update(j.ID, Running, 0)
			}
		case ws.Exited():
			if j != nil {
				c.Table.Update(j.ID, Done, ws.ExitStatus())
			}
			c.notify(pid, ws.ExitStatus(), nil)
		case ws.Signaled():
			if j != nil {
				c.Table.Update(j.ID, Terminated, 128+int(ws.Signal()))
			}
			c.notify(pid, 128+int(ws.Signal()), nil)
		}
	}
}

func (c *Controller) notify(pid, status int, err error) {
	c.mu.Lock()
	ch, ok := c.waiters[pid]
	if ok {
		delete(c.waiters, pid)
	} else {
		// No WaitPid yet: park the result for the one that comes later.
		ch = make(chan waitResult, 1)
		c.waiters[pid] = ch
	}
	c.mu.Unlock()
	ch <- waitResult{status, err}
}

// WaitPid blocks until the reaper observes pid's exit or termination and
// returns its exit status. If the reaper saw the exit before WaitPid was
// called, the parked status is returned at once.
func (c *Controller) WaitPid(pid int) (int, error) {
	c.mu.Lock()
	ch, ok := c.waiters[pid]
	if ok {
		delete(c.waiters, pid)
	} else {
		ch = make(chan waitResult, 1)
		c.waiters[pid] = ch
	}
	c.mu.Unlock()
	r := <-ch
	return r.status, r.err
}

// SetForeground hands the controlling terminal to pgid, the step a real
// shell performs with tcsetpgrp(3) before waiting on a foreground pipeline
// and again afterward to reclaim it for the shell itself.
func (c *Controller) SetForeground(pgid int) error {
	if c.tty == nil {
		return nil
	}
	return unix.IoctlSetInt(int(c.tty.Fd()), unix.TIOCSPGRP, pgid)
}

// Signal sends sig to every process in pgid's group, mirroring
// mvdan-sh's interp/handler_unix.go interruptCommand/killCommand use of
// syscall.Kill(-pid, sig) on the negative pgid.
func Signal(pgid int, sig syscall.Signal) error {
	return syscall.Kill(-pgid, sig)
}

// IgnoreTTYSignals blocks SIGTTOU/SIGTTIN so a background daemon process
// that still shares a controlling terminal is never stopped by the kernel
// when it writes to, or reads job-control state from, that terminal.
func IgnoreTTYSignals() {
	signal.Ignore(unix.SIGTTOU, unix.SIGTTIN)
}
