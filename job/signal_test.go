package job

import (
	"os/exec"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func TestControllerReapsExitedChild(t *testing.T) {
	c := qt.New(t)
	tbl := NewTable()
	ctl := NewController(tbl, nil)
	ctl.Start()
	defer ctl.Stop()

	cmd := exec.Command("true")
	c.Assert(cmd.Start(), qt.IsNil)
	pid := cmd.Process.Pid
	tbl.Register(pid, "true", []int{pid})

	status, err := waitWithTimeout(c, ctl, pid)
	c.Assert(err, qt.IsNil)
	c.Assert(status, qt.Equals, 0)
}

func TestControllerReapsUnknownPid(t *testing.T) {
	c := qt.New(t)
	tbl := NewTable()
	ctl := NewController(tbl, nil)
	ctl.Start()
	defer ctl.Stop()

	// No Register call: this pid belongs to no Table entry, exercising
	// the path where reapAll must still notify a waiter.
	cmd := exec.Command("false")
	c.Assert(cmd.Start(), qt.IsNil)
	pid := cmd.Process.Pid

	status, err := waitWithTimeout(c, ctl, pid)
	c.Assert(err, qt.IsNil)
	c.Assert(status, qt.Equals, 1)
}

func waitWithTimeout(c *qt.C, ctl *Controller, pid int) (int, error) {
	type result struct {
		status int
		err    error
	}
	done := make(chan result, 1)
	go func() {
		s, err := ctl.WaitPid(pid)
		done <- result{s, err}
	}()
	select {
	case r := <-done:
		return r.status, r.err
	case <-time.After(5 * time.Second):
		c.Fatal("timed out waiting for child reap")
		return 0, nil
	}
}
