// Command rush is the CLI entry point of spec §6.1: `rush` starts an
// interactive shell, `rush -c STRING` and `rush FILE [ARGS...]` run
// non-interactively. Only `-c` dispatches through the daemon when one is
// reachable; scripts and the interactive shell run in-process.
package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/integrii/flaggy"
	colorable "github.com/mattn/go-colorable"
	"golang.org/x/term"

	"rush.sh/rush/client"
	"rush.sh/rush/history"
	"rush.sh/rush/interp"
	"rush.sh/rush/job"
)

var version = "dev"

func main() {
	os.Exit(main1())
}

// main1 is factored out of main so testscript.RunMain can register it as
// the `rush` command, run in a re-executed copy of the test binary, the
// same split shfmt's cmd/shfmt/main_test.go uses.
func main1() int {
	var (
		command  string
		login    bool
		noRC     bool
		noDaemon bool
	)

	flaggy.SetName("rush")
	flaggy.SetDescription("a POSIX-style shell")
	flaggy.SetVersion(version)
	flaggy.String(&command, "c", "command", "execute STRING and exit")
	flaggy.Bool(&login, "l", "login", "source ~/.rush_profile then ~/.rushrc")
	flaggy.Bool(&noRC, "", "no-rc", "skip rc files")
	flaggy.Bool(&noDaemon, "", "no-daemon", "always run in-process, skipping the daemon")
	flaggy.Parse()

	trailing := flaggy.TrailingArguments

	return run(command, login, noRC, noDaemon, trailing)
}

func run(command string, login, noRC, noDaemon bool, trailing []string) int {
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, "rush:", err)
		return 1
	}

	switch {
	case command != "":
		return runOneShot(wd, noDaemon, []string{command})
	case len(trailing) > 0:
		return runScript(trailing[0], trailing[1:])
	default:
		return runInteractive(wd, login, noRC)
	}
}

// runOneShot implements `rush -c STRING`, dispatching to the daemon when
// reachable (and not suppressed by --no-daemon) and falling back to an
// in-process Executor otherwise.
func runOneShot(wd string, noDaemon bool, args []string) int {
	if !noDaemon {
		if sock, err := client.DefaultSocketPath(); err == nil {
			rushd, _ := os.Executable()
			c := client.New(sock, rushdPath(rushd))
			if code, err := c.Run(wd, envMap(), args); err == nil {
				return code
			}
		}
	}
	rt := interp.NewRuntime(os.Environ(), wd)
	ctl := job.NewController(rt.Jobs, os.Stdin)
	ctl.Start()
	defer ctl.Stop()
	ex := interp.New(rt, ctl)
	return ex.RunString(args[0])
}

// runScript implements `rush FILE [ARGS...]`: the file is read and
// executed in-process, since script files aren't part of the daemon's
// fast-path contract (they may be long-running and aren't candidates for
// sub-millisecond warm start).
func runScript(path string, args []string) int {
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "rush:", err)
		return 127
	}
	defer f.Close()
	src, err := bufioReadAll(f)
	if err != nil {
		fmt.Fprintln(os.Stderr, "rush:", err)
		return 1
	}

	wd, _ := os.Getwd()
	rt := interp.NewRuntime(os.Environ(), wd)
	rt.Arg0 = path
	rt.Positional = args
	ctl := job.NewController(rt.Jobs, nil)
	ctl.Start()
	defer ctl.Stop()
	ex := interp.New(rt, ctl)
	return ex.RunString(src)
}

// runInteractive starts a minimal REPL: prompt, read a line, execute it
// in-process (job control needs the real terminal fd, which only makes
// sense run directly, not relayed through a daemon worker), append to
// history.
func runInteractive(wd string, login, noRC bool) int {
	rt := interp.NewRuntime(os.Environ(), wd)
	ctl := job.NewController(rt.Jobs, os.Stdin)
	ctl.Start()
	defer ctl.Stop()
	ex := interp.New(rt, ctl)
	ex.Interactive = true

	if login {
		sourceRCFile(ex, rcPath(".rush_profile"))
		sourceRCFile(ex, rcPath(".rushrc"))
	} else if !noRC {
		sourceRCFile(ex, rcPath(".rushrc"))
	}

	histPath, _ := history.DefaultPath()
	hist, histErr := history.Open(histPath, history.DefaultMaxEntries)

	out := colorable.NewColorableStdout()
	prompt := color.New(color.FgGreen, color.Bold)

	stdinFd := int(os.Stdin.Fd())
	interactiveTTY := term.IsTerminal(stdinFd)
	if interactiveTTY {
		if w, _, err := term.GetSize(stdinFd); err == nil {
			rt.Set("COLUMNS", fmt.Sprint(w))
			rt.Export("COLUMNS")
		}
	}

	sc := bufio.NewScanner(os.Stdin)
	for {
		if interactiveTTY {
			prompt.Fprint(out, "rush$ ")
		}
		if !sc.Scan() {
			break
		}
		line := sc.Text()
		if line == "" {
			continue
		}
		if hist != nil && histErr == nil {
			hist.Append(line, false)
		}
		ex.RunString(line)
	}
	if hist != nil && histErr == nil {
		hist.Trim()
	}
	return rt.Exit()
}

func sourceRCFile(ex *interp.Executor, path string) {
	b, err := os.ReadFile(path)
	if err != nil {
		return
	}
	ex.RunString(string(b))
}

func rcPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return home + "/" + name
}

func envMap() map[string]string {
	m := make(map[string]string)
	for _, kv := range os.Environ() {
		for i, c := range kv {
			if c == '=' {
				m[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return m
}

func rushdPath(selfExe string) string {
	if selfExe == "" {
		return "rushd"
	}
	dir := selfExe
	for i := len(dir) - 1; i >= 0; i-- {
		if dir[i] == '/' {
			return dir[:i+1] + "rushd"
		}
	}
	return "rushd"
}

func bufioReadAll(f *os.File) (string, error) {
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var b []byte
	for sc.Scan() {
		b = append(b, sc.Bytes()...)
		b = append(b, '\n')
	}
	return string(b), sc.Err()
}
