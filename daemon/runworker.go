package daemon

import (
	"fmt"
	"net"
	"os"
	"syscall"

	"rush.sh/rush/interp"
	"rush.sh/rush/job"
)

// RunWorker is the entry point a rushd subprocess runs under `rushd
// --worker`: it treats fd 3 (the single ExtraFiles entry SpawnWorker
// attaches) as its control channel back to the parent daemon and services
// one session at a time from it until the channel closes.
//
// Per spec §4.G.3, a worker's process-global cwd, env and umask are
// captured once at startup and restored after every session so the next
// SessionInit starts from a clean slate. Signal dispositions are not
// captured or restored.
func RunWorker() error {
	raw, err := net.FileConn(os.NewFile(3, "rushd-control"))
	if err != nil {
		return fmt.Errorf("daemon: opening control fd: %w", err)
	}
	conn, ok := raw.(*net.UnixConn)
	if !ok {
		return fmt.Errorf("daemon: control fd is not a unix socket")
	}
	defer conn.Close()

	initialDir, err := os.Getwd()
	if err != nil {
		return err
	}
	initialEnv := os.Environ()
	initialUmask := syscall.Umask(0)
	syscall.Umask(initialUmask)

	for {
		frame, err := ReadFrame(conn)
		if err != nil {
			return nil // parent closed the channel: normal worker shutdown
		}
		switch frame.Type {
		case MsgPing:
			var ping Ping
			frame.Decode(&ping)
			out, _ := EncodeFrame(MsgPong, Pong{TimestampMs: ping.TimestampMs, Status: "ok"})
			if err := WriteFrame(conn, out); err != nil {
				return err
			}
		case MsgCancel:
			// No session in flight (sessions run synchronously between
			// SessionInit and Result); nothing to forward yet.
		case MsgSessionInit:
			var init SessionInit
			if err := frame.Decode(&init); err != nil {
				return err
			}
			fds, err := recvFDs(conn, 3)
			if err != nil {
				return err
			}
			res := runSession(init, fds)
			restoreWorkerState(initialDir, initialEnv)
			syscall.Umask(initialUmask)

			out, err := EncodeFrame(MsgResult, res)
			if err != nil {
				return err
			}
			if err := WriteFrame(conn, out); err != nil {
				return err
			}
		default:
			return fmt.Errorf("daemon: worker received unexpected msg type %d", frame.Type)
		}
	}
}

// runSession builds one fresh Runtime+Executor+job.Controller from init,
// executes init.Args as a command line the way cmd/rush's -c flag does,
// and returns its exit status. The three fds, if present, are wrapped as
// the Runtime's Stdin/Stdout/Stderr for the session's duration and closed
// when it ends.
func runSession(init SessionInit, fds []int) Result {
	var stdin, stdout, stderr *os.File = os.Stdin, os.Stdout, os.Stderr
	if len(fds) >= 3 {
		stdin = os.NewFile(uintptr(fds[0]), "stdin")
		stdout = os.NewFile(uintptr(fds[1]), "stdout")
		stderr = os.NewFile(uintptr(fds[2]), "stderr")
		defer stdin.Close()
		defer stdout.Close()
		defer stderr.Close()
	}

	dir := init.WorkingDir
	if dir != "" {
		os.Chdir(dir)
	} else if wd, err := os.Getwd(); err == nil {
		dir = wd
	}

	env := os.Environ()
	if len(init.Env) > 0 {
		env = make([]string, 0, len(init.Env))
		for k, v := range init.Env {
			env = append(env, k+"="+v)
		}
	}

	rt := interp.NewRuntime(env, dir)
	rt.Stdin, rt.Stdout, rt.Stderr = stdin, stdout, stderr

	ctl := job.NewController(rt.Jobs, nil)
	ctl.Start()
	defer ctl.Stop()

	ex := interp.New(rt, ctl)

	src := ""
	for i, a := range init.Args {
		if i > 0 {
			src += " "
		}
		src += a
	}
	code := ex.RunString(src)
	return Result{ExitCode: int32(code)}
}

// restoreWorkerState resets the worker's cwd and environment to its
// startup snapshot so a misbehaving session (changed cwd, leaked env var)
// can't leak into the next one. RunWorker restores the umask separately.
func restoreWorkerState(dir string, env []string) {
	os.Chdir(dir)
	for _, kv := range os.Environ() {
		name := kv
		for i, c := range kv {
			if c == '=' {
				name = kv[:i]
				break
			}
		}
		os.Unsetenv(name)
	}
	for _, kv := range env {
		for i, c := range kv {
			if c == '=' {
				os.Setenv(kv[:i], kv[i+1:])
				break
			}
		}
	}
}
