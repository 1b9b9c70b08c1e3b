// Package interp implements the runtime and executor described by spec
// components D and E: variable/function/alias/job/trap state plus the
// statement-by-statement evaluator that walks package ast trees.
package interp

import (
	"fmt"
	"os"
	"strconv"

	"rush.sh/rush/expand"
	"rush.sh/rush/job"
)

// frame is one scope level of the variable stack: the global frame plus one
// per active function call, per spec §4.D.
type frame struct {
	vars map[string]expand.Variable
}

func newFrame() *frame { return &frame{vars: make(map[string]expand.Variable)} }

// Runtime holds everything spec §3.3 lists as per-shell/worker state. It
// implements expand.Environ directly so the expander can read variables
// without importing this package.
type Runtime struct {
	frames []*frame // frames[0] is global; frames[len-1] is innermost

	Functions map[string]*FuncDef
	Aliases   map[string]string
	Options   Options
	Traps     map[string]string

	Positional []string
	Arg0       string

	Jobs *job.Table

	Dir     string
	exit    int
	lastBg  int

	// FDTable records shell-level >2 descriptors opened by `exec N>file`
	// and similar, surviving across statements within one Runtime.
	FDTable map[int]*os.File

	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File

	shlvl int
}

// FuncDef holds a function's name and body; kept distinct from
// ast.FunctionDef so interp can attach call-time bookkeeping later without
// touching the AST.
type FuncDef struct {
	Name string
	Body interface{} // an *ast.Sequence; callFunction type-asserts it
}

// Options mirrors the `set -e|-u|-x|-o pipefail|-f|-C` boolean flags of
// spec §3.3.
type Options struct {
	ErrExit    bool // -e
	NoUnset    bool // -u
	XTrace     bool // -x
	PipeFail   bool // -o pipefail
	NoGlob     bool // -f
	NoClobber  bool // -C
}

// NewRuntime builds a Runtime seeded from the process environment,
// following the same "capture once at startup" idea as mvdan-sh's
// Runner.Reset but without a reusable-runner abstraction: rush constructs
// one Runtime per session (worker request or subshell) and discards it.
func NewRuntime(environ []string, dir string) *Runtime {
	rt := &Runtime{
		frames:    []*frame{newFrame()},
		Functions: make(map[string]*FuncDef),
		Aliases:   make(map[string]string),
		Traps:     make(map[string]string),
		FDTable:   make(map[int]*os.File),
		Jobs:      job.NewTable(),
		Dir:       dir,
		Stdin:     os.Stdin,
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
	}
	for _, kv := range environ {
		name, val := splitEnv(kv)
		rt.frames[0].vars[name] = expand.Variable{Value: val, Set: true, Exported: true}
	}
	rt.setSpecial("PWD", dir, true)
	rt.shlvl = rt.shlvlFromEnv() + 1
	rt.setSpecial("SHLVL", strconv.Itoa(rt.shlvl), true)
	rt.setSpecial("PPID", strconv.Itoa(os.Getppid()), true)
	rt.setSpecial("$", strconv.Itoa(os.Getpid()), true)
	if _, ok := rt.frames[0].vars["IFS"]; !ok {
		rt.setSpecial("IFS", " \t\n", true)
	}
	rt.SetExit(0)
	return rt
}

func (rt *Runtime) shlvlFromEnv() int {
	v := rt.Get("SHLVL")
	n, err := strconv.Atoi(v.Value)
	if err != nil {
		return 0
	}
	return n
}

func splitEnv(kv string) (string, string) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:]
		}
	}
	return kv, ""
}

func (rt *Runtime) setSpecial(name, val string, exported bool) {
	rt.frames[0].vars[name] = expand.Variable{Value: val, Set: true, Exported: exported, ReadOnly: name == "PPID" || name == "$"}
}

// --- expand.Environ implementation ---

// Get first checks the positional/special-parameter forms spec §3.3
// lists, then resolves name through the frame stack innermost-first.
func (rt *Runtime) Get(name string) expand.Variable {
	if v, ok := rt.specialGet(name); ok {
		return v
	}
	for i := len(rt.frames) - 1; i >= 0; i-- {
		if v, ok := rt.frames[i].vars[name]; ok {
			return v
		}
	}
	return expand.Variable{}
}

func (rt *Runtime) specialGet(name string) (expand.Variable, bool) {
	switch name {
	case "?":
		return expand.Variable{Value: strconv.Itoa(rt.exit), Set: true, ReadOnly: true}, true
	case "!":
		return expand.Variable{Value: strconv.Itoa(rt.lastBg), Set: rt.lastBg != 0}, true
	case "#":
		return expand.Variable{Value: strconv.Itoa(len(rt.Positional)), Set: true}, true
	case "@", "*":
		return expand.Variable{Value: joinPositional(rt.Positional, " "), Set: true}, true
	case "0":
		return expand.Variable{Value: rt.Arg0, Set: true}, true
	}
	if n, err := strconv.Atoi(name); err == nil && n >= 1 {
		if n <= len(rt.Positional) {
			return expand.Variable{Value: rt.Positional[n-1], Set: true}, true
		}
		return expand.Variable{Set: false}, true
	}
	return expand.Variable{}, false
}

func joinPositional(ps []string, sep string) string {
	out := ""
	for i, p := range ps {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}

// Each iterates every visible variable, innermost frame shadowing outer, as
// required for `export -p`/`set` listing forms.
func (rt *Runtime) Each(f func(string, expand.Variable) bool) {
	seen := make(map[string]bool)
	for i := len(rt.frames) - 1; i >= 0; i-- {
		for name, v := range rt.frames[i].vars {
			if seen[name] {
				continue
			}
			seen[name] = true
			if !f(name, v) {
				return
			}
		}
	}
}

// Set assigns name in the nearest frame that already declares it, or the
// global frame otherwise, per spec §4.D. A readonly target is refused.
func (rt *Runtime) Set(name, value string) error {
	for i := len(rt.frames) - 1; i >= 0; i-- {
		if v, ok := rt.frames[i].vars[name]; ok {
			if v.ReadOnly {
				return fmt.Errorf("rush: %s: readonly variable", name)
			}
			v.Value = value
			v.Set = true
			rt.frames[i].vars[name] = v
			return nil
		}
	}
	rt.frames[0].vars[name] = expand.Variable{Value: value, Set: true}
	return nil
}

// SetLocal declares name in the current (innermost) frame only, for `local`.
func (rt *Runtime) SetLocal(name, value string) {
	top := rt.frames[len(rt.frames)-1]
	top.vars[name] = expand.Variable{Value: value, Set: true, Local: len(rt.frames) > 1}
}

// Export marks name exported, creating it unset-but-exported if absent.
func (rt *Runtime) Export(name string) error {
	for i := len(rt.frames) - 1; i >= 0; i-- {
		if v, ok := rt.frames[i].vars[name]; ok {
			v.Exported = true
			rt.frames[i].vars[name] = v
			return nil
		}
	}
	rt.frames[0].vars[name] = expand.Variable{Exported: true}
	return nil
}

// ReadOnly marks name readonly in whichever frame currently holds it.
func (rt *Runtime) ReadOnly(name string) {
	for i := len(rt.frames) - 1; i >= 0; i-- {
		if v, ok := rt.frames[i].vars[name]; ok {
			v.ReadOnly = true
			rt.frames[i].vars[name] = v
			return
		}
	}
	rt.frames[0].vars[name] = expand.Variable{ReadOnly: true}
}

// Unset removes name from whichever frame holds it. Per invariant §3.4.8,
// a readonly variable refuses to be unset.
func (rt *Runtime) Unset(name string) error {
	for i := len(rt.frames) - 1; i >= 0; i-- {
		if v, ok := rt.frames[i].vars[name]; ok {
			if v.ReadOnly {
				return fmt.Errorf("rush: %s: readonly variable", name)
			}
			delete(rt.frames[i].vars, name)
			return nil
		}
	}
	return nil
}

// PushFrame enters a new function-call scope.
func (rt *Runtime) PushFrame() { rt.frames = append(rt.frames, newFrame()) }

// PopFrame leaves a function-call scope, discarding its locals.
func (rt *Runtime) PopFrame() {
	if len(rt.frames) > 1 {
		rt.frames = rt.frames[:len(rt.frames)-1]
	}
}

// ExportedEnviron returns the process-style `NAME=value` slice for exported
// variables, used to build a child command's environment.
func (rt *Runtime) ExportedEnviron() []string {
	var out []string
	rt.Each(func(name string, v expand.Variable) bool {
		if v.Exported && v.Set {
			out = append(out, name+"="+v.Value)
		}
		return true
	})
	return out
}

// Exit returns the last recorded `$?`.
func (rt *Runtime) Exit() int { return rt.exit }

// SetExit sets `$?` to the low byte of code (code & 0xff, so 256 becomes
// 0), keeping it in the 0-255 range per invariant §3.4.1.
func (rt *Runtime) SetExit(code int) {
	rt.exit = code & 0xff
}

// SetLastBgPid records `$!` for the most recently started background job.
func (rt *Runtime) SetLastBgPid(pid int) { rt.lastBg = pid }

// Clone produces a deep-enough copy for subshell execution: a fresh frame
// stack with the same values but no shared map, a copy of functions and
// aliases, and an incremented SHLVL, per spec §4.E "deep-cloned runtime
// snapshot" and invariant §3.4.2.
func (rt *Runtime) Clone() *Runtime {
	out := &Runtime{
		frames:    make([]*frame, len(rt.frames)),
		Functions: make(map[string]*FuncDef, len(rt.Functions)),
		Aliases:   make(map[string]string, len(rt.Aliases)),
		Options:   rt.Options,
		Traps:     make(map[string]string, len(rt.Traps)),
		Positional: append([]string(nil), rt.Positional...),
		Arg0:      rt.Arg0,
		Jobs:      job.NewTable(),
		Dir:       rt.Dir,
		FDTable:   make(map[int]*os.File),
		Stdin:     rt.Stdin,
		Stdout:    rt.Stdout,
		Stderr:    rt.Stderr,
		exit:      rt.exit,
		shlvl:     rt.shlvl + 1,
	}
	for i, f := range rt.frames {
		nf := newFrame()
		for k, v := range f.vars {
			nf.vars[k] = v
		}
		out.frames[i] = nf
	}
	for k, v := range rt.Functions {
		out.Functions[k] = v
	}
	for k, v := range rt.Aliases {
		out.Aliases[k] = v
	}
	for k, v := range rt.Traps {
		out.Traps[k] = v
	}
	out.setSpecial("SHLVL", strconv.Itoa(out.shlvl), true)
	out.setSpecial("$", strconv.Itoa(os.Getpid()), true)
	return out
}
