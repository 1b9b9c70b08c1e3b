package job

import (
	"os/exec"
	"testing"

	"github.com/creack/pty"
	qt "github.com/frankban/quicktest"
)

// SetForeground issues TIOCSPGRP, an ioctl the kernel only honors against a
// real controlling terminal; a plain os.Pipe fd fails it with ENOTTY, so
// exercising it for real needs an actual pty.
func TestSetForegroundOnRealTTY(t *testing.T) {
	c := qt.New(t)

	cmd := exec.Command("sleep", "1")
	ptmx, err := pty.Start(cmd)
	c.Assert(err, qt.IsNil)
	defer ptmx.Close()

	tbl := NewTable()
	ctl := NewController(tbl, ptmx)

	err = ctl.SetForeground(cmd.Process.Pid)
	c.Assert(err, qt.IsNil)

	cmd.Process.Kill()
	cmd.Wait()
}

func TestSetForegroundNilTTYIsNoop(t *testing.T) {
	c := qt.New(t)
	ctl := NewController(NewTable(), nil)
	c.Assert(ctl.SetForeground(1), qt.IsNil)
}
