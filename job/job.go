// Package job implements the job table and job-spec resolution of spec
// component F. Signal handling and terminal ownership live in signal.go.
package job

import (
	"fmt"
	"sync"
)

// State is one of the lifecycle states from spec §3.3.
type State int

const (
	Running State = iota
	Stopped
	Done
	Terminated
)

func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case Stopped:
		return "Stopped"
	case Done:
		return "Done"
	case Terminated:
		return "Terminated"
	}
	return "?"
}

// Job is one entry of the job table: a whole pipeline's process group.
type Job struct {
	ID         int
	Pgid       int
	Command    string
	State      State
	LastStatus int
	// Pids holds every stage's pid, so the table can wait on each one
	// without referencing a pgid that a signal may have already reaped.
	Pids []int
}

// Table is a per-session job table plus the current/previous job pointers
// required for bare `fg`/`bg`/`wait`, per spec §4.F.
type Table struct {
	mu       sync.Mutex
	byID     map[int]*Job
	nextID   int
	current  int // job ID, 0 if none
	previous int
}

func NewTable() *Table {
	return &Table{byID: make(map[int]*Job)}
}

// Register adds a new Running job and returns it, updating the
// current/previous pointers per spec §4.F.
func (t *Table) Register(pgid int, command string, pids []int) *Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	j := &Job{ID: t.nextID, Pgid: pgid, Command: command, State: Running, Pids: append([]int(nil), pids...)}
	t.byID[j.ID] = j
	t.previous = t.current
	t.current = j.ID
	return j
}

// SetPgid records pgid on a job that was registered before any stage of its
// pipeline had started (the backgrounding path registers a placeholder job
// up front so `[N] pid` can be printed from the same call that starts the
// pipeline's stage goroutines). A no-op once a pgid is already set.
func (t *Table) SetPgid(id, pgid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if j, ok := t.byID[id]; ok && j.Pgid == 0 {
		j.Pgid = pgid
	}
}

// AddPid appends pid to a job's pid list, for a pipeline whose stages start
// one at a time rather than all at Register.
func (t *Table) AddPid(id, pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if j, ok := t.byID[id]; ok {
		j.Pids = append(j.Pids, pid)
	}
}

// Update transitions a job's state; reaped jobs (Done/Terminated) are left
// in the table until Reap removes them, so `jobs` can report the
// transition once at the next prompt, per spec §4.F lifecycle.
func (t *Table) Update(id int, state State, status int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.byID[id]
	if !ok {
		return
	}
	j.State = state
	j.LastStatus = status
	if state == Done || state == Terminated {
		if t.current == id {
			t.current = t.previous
			t.previous = 0
		} else if t.previous == id {
			t.previous = 0
		}
	}
}

// ByPgid finds the job owning a process group, used by the SIGCHLD reaper
// which only knows pids.
func (t *Table) ByPgid(pgid int) *Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, j := range t.byID {
		if j.Pgid == pgid {
			return j
		}
	}
	return nil
}

// ByPid finds the job owning a given pid.
func (t *Table) ByPid(pid int) *Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, j := range t.byID {
		for _, p := range j.Pids {
			if p == pid {
				return j
			}
		}
	}
	return nil
}

// Reap removes a job from the table. Per invariant §3.4.3, a job is reaped
// exactly once; calling Reap on an already-removed ID is a silent no-op.
func (t *Table) Reap(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byID, id)
}

// Get returns the job with the given ID, if any.
func (t *Table) Get(id int) (*Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.byID[id]
	return j, ok
}

// All returns a stable-ordered snapshot of the table, for `jobs`.
func (t *Table) All() []*Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Job, 0, len(t.byID))
	for _, j := range t.byID {
		out = append(out, j)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].ID > out[j].ID; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// Current and Previous expose the `%%`/`%+` and `%-` job IDs.
func (t *Table) Current() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

func (t *Table) Previous() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.previous
}

// SpecError is one of the job-spec error kinds from spec §4.F.
type SpecError struct{ Kind string }

func (e *SpecError) Error() string { return fmt.Sprintf("rush: %s", e.Kind) }

var (
	ErrNoSuchJob  = &SpecError{"no such job"}
	ErrAmbiguous  = &SpecError{"ambiguous job spec"}
	ErrNoCurrent  = &SpecError{"no current job"}
	ErrNoPrevious = &SpecError{"no previous job"}
)

// Resolve parses a job-spec (`%N`, `%%`, `%+`, `%-`, `%string`, `%?string`,
// or a bare integer) against the table, per spec §4.F.
func (t *Table) Resolve(spec string) (*Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if spec == "" || spec == "%%" || spec == "%+" {
		if t.current == 0 {
			return nil, ErrNoCurrent
		}
		return t.byID[t.current], nil
	}
	if spec == "%-" {
		if t.previous == 0 {
			return nil, ErrNoPrevious
		}
		return t.byID[t.previous], nil
	}
	body := spec
	if len(body) > 0 && body[0] == '%' {
		body = body[1:]
	}
	if n, ok := parseInt(body); ok {
		j, ok := t.byID[n]
		if !ok {
			return nil, ErrNoSuchJob
		}
		return j, nil
	}
	if len(body) > 0 && body[0] == '?' {
		return t.matchOne(body[1:], true)
	}
	return t.matchOne(body, false)
}

func (t *Table) matchOne(needle string, substring bool) (*Job, error) {
	var found *Job
	for _, j := range t.byID {
		hit := false
		if substring {
			hit = containsStr(j.Command, needle)
		} else {
			hit = hasPrefixStr(j.Command, needle)
		}
		if hit {
			if found != nil {
				return nil, ErrAmbiguous
			}
			found = j
		}
	}
	if found == nil {
		return nil, ErrNoSuchJob
	}
	return found, nil
}

func parseInt(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

func hasPrefixStr(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func containsStr(s, sub string) bool {
	if sub == "" {
		return true
	}
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
