package client

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"

	"rush.sh/rush/daemon"
)

// fakeDaemon accepts exactly one session on path and replies with exitCode,
// standing in for a real rushd for Client.Run's happy path.
func fakeDaemon(c *qt.C, path string, exitCode int32) {
	ln, err := net.Listen("unix", path)
	c.Assert(err, qt.IsNil)
	c.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		uconn := conn.(*net.UnixConn)

		frame, err := daemon.ReadFrame(uconn)
		if err != nil || frame.Type != daemon.MsgSessionInit {
			return
		}
		if _, err := daemon.RecvFDs(uconn, 3); err != nil {
			return
		}
		out, err := daemon.EncodeFrame(daemon.MsgResult, daemon.Result{ExitCode: exitCode})
		if err != nil {
			return
		}
		daemon.WriteFrame(uconn, out)
	}()
}

func TestClientRunHappyPath(t *testing.T) {
	c := qt.New(t)
	sock := filepath.Join(t.TempDir(), "daemon.sock")
	fakeDaemon(c, sock, 7)

	cl := New(sock, "rushd-unused")
	code, err := cl.Run(".", map[string]string{}, []string{"echo hi"})
	c.Assert(err, qt.IsNil)
	c.Assert(code, qt.Equals, 7)
}

func TestClientRunNoDaemonAndNoRushdFails(t *testing.T) {
	c := qt.New(t)
	sock := filepath.Join(t.TempDir(), "missing.sock")

	cl := New(sock, filepath.Join(t.TempDir(), "no-such-rushd-binary"))
	_, err := cl.Run(".", map[string]string{}, []string{"echo hi"})
	c.Assert(err, qt.Not(qt.IsNil))
}

func TestCancelDialFailureReturnsError(t *testing.T) {
	c := qt.New(t)
	err := Cancel(filepath.Join(t.TempDir(), "no-such.sock"))
	c.Assert(err, qt.Not(qt.IsNil))
}

func TestDefaultSocketPath(t *testing.T) {
	c := qt.New(t)
	home, err := os.UserHomeDir()
	c.Assert(err, qt.IsNil)
	got, err := DefaultSocketPath()
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, home+"/.rush/daemon.sock")
}
