// Package client implements the thin client half of spec component D/G's
// boundary: it dials the daemon's Unix socket, hands over a session, and
// relays the daemon's Result back to the invoking rush process's exit
// code. On connection failure it restarts the daemon and retries once,
// per spec §7's DaemonError policy.
package client

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/strategy"

	"rush.sh/rush/daemon"
)

// Client dials one daemon socket per Run call; it holds no long-lived
// connection state between invocations, matching the "-c" one-shot usage
// this CLI is built around.
type Client struct {
	SocketPath string
	// RushdPath is the daemon binary to launch if none is listening.
	RushdPath string
}

// New returns a Client bound to the given socket path.
func New(socketPath, rushdPath string) *Client {
	return &Client{SocketPath: socketPath, RushdPath: rushdPath}
}

// Run sends one session to the daemon and returns its exit code. stdin,
// stdout, and stderr are passed to the worker as out-of-band file
// descriptors so command output never traverses the control channel
// itself, per spec §6.2.
func (c *Client) Run(workingDir string, env map[string]string, args []string) (int, error) {
	var code int
	err := retry.Retry(func(attempt uint) error {
		var runErr error
		code, runErr = c.attempt(workingDir, env, args)
		if runErr != nil && attempt == 0 {
			if startErr := c.ensureDaemon(); startErr != nil {
				return fmt.Errorf("client: daemon unreachable and could not be started: %w", startErr)
			}
		}
		return runErr
	}, strategy.Limit(2))
	if err != nil {
		return -1, err
	}
	return code, nil
}

func (c *Client) attempt(workingDir string, env map[string]string, args []string) (int, error) {
	conn, err := net.DialTimeout("unix", c.SocketPath, 2*time.Second)
	if err != nil {
		return -1, fmt.Errorf("client: dialing %s: %w", c.SocketPath, err)
	}
	defer conn.Close()
	uconn, ok := conn.(*net.UnixConn)
	if !ok {
		return -1, fmt.Errorf("client: %s is not a unix socket", c.SocketPath)
	}

	init := daemon.SessionInit{
		WorkingDir: workingDir,
		Env:        env,
		Args:       args,
		StdinMode:  "inherit",
	}
	frame, err := daemon.EncodeFrame(daemon.MsgSessionInit, init)
	if err != nil {
		return -1, err
	}
	if err := daemon.WriteFrame(uconn, frame); err != nil {
		return -1, fmt.Errorf("client: sending session init: %w", err)
	}
	if err := sendStdio(uconn); err != nil {
		return -1, fmt.Errorf("client: sending stdio fds: %w", err)
	}

	resp, err := daemon.ReadFrame(uconn)
	if err != nil {
		return -1, fmt.Errorf("client: reading result: %w", err)
	}
	var res daemon.Result
	if err := resp.Decode(&res); err != nil {
		return -1, fmt.Errorf("client: decoding result: %w", err)
	}
	return int(res.ExitCode), nil
}

// sendStdio attaches the client's own stdin/stdout/stderr as ancillary
// file descriptors on conn.
func sendStdio(conn *net.UnixConn) error {
	return daemon.SendFDs(conn, []int{
		int(os.Stdin.Fd()),
		int(os.Stdout.Fd()),
		int(os.Stderr.Fd()),
	})
}

// ensureDaemon launches rushd detached if the socket was unreachable, and
// gives it a brief moment to bind before the caller's retry redials.
func (c *Client) ensureDaemon() error {
	cmd := exec.Command(c.RushdPath, "start")
	if err := cmd.Start(); err != nil {
		return err
	}
	go cmd.Wait()
	time.Sleep(200 * time.Millisecond)
	return nil
}

// Cancel dials a new connection and sends a one-shot Cancel frame on it.
// The daemon's Dispatcher accepts only a SessionInit or a Ping as the
// first frame of a connection, so this frame is not forwarded to any
// worker.
func Cancel(socketPath string) error {
	conn, err := net.DialTimeout("unix", socketPath, time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()
	frame, _ := daemon.EncodeFrame(daemon.MsgCancel, daemon.Cancel{})
	return daemon.WriteFrame(conn, frame)
}

// DefaultSocketPath returns $HOME/.rush/daemon.sock, matching
// daemon.DefaultConfig.
func DefaultSocketPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return home + "/.rush/daemon.sock", nil
}
