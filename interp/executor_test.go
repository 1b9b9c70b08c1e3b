package interp

import (
	"bufio"
	"os"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"rush.sh/rush/job"
)

// newTestExecutor builds an Executor over a fresh in-memory-ish Runtime
// whose stdout is a pipe the test can read back, since Runtime.Stdout is an
// *os.File rather than an io.Writer.
func newTestExecutor(c *qt.C) (*Executor, *bufio.Scanner) {
	dir := c.TempDir()
	rt := NewRuntime(nil, dir)
	r, w, err := os.Pipe()
	c.Assert(err, qt.IsNil)
	rt.Stdout = w
	c.Cleanup(func() { w.Close(); r.Close() })
	ex := New(rt, nil)
	return ex, bufio.NewScanner(r)
}

func TestRunStringVariableAssignAndExpand(t *testing.T) {
	c := qt.New(t)
	ex, out := newTestExecutor(c)
	status := ex.RunString("X=hello; echo $X world")
	c.Assert(status, qt.Equals, 0)
	out.Scan()
	c.Assert(out.Text(), qt.Equals, "hello world")
}

func TestRunStringExitStatus(t *testing.T) {
	c := qt.New(t)
	ex, _ := newTestExecutor(c)
	status := ex.RunString(": ; false")
	c.Assert(status, qt.Equals, 1)
	c.Assert(ex.Runtime().Exit(), qt.Equals, 1)
}

func TestRunStringIfElse(t *testing.T) {
	c := qt.New(t)
	ex, out := newTestExecutor(c)
	ex.RunString(`if false; then echo a; else echo b; fi`)
	out.Scan()
	c.Assert(out.Text(), qt.Equals, "b")
}

func TestRunStringForLoop(t *testing.T) {
	c := qt.New(t)
	ex, out := newTestExecutor(c)
	ex.RunString(`for x in a b c; do echo $x; done`)
	var got []string
	for i := 0; i < 3; i++ {
		out.Scan()
		got = append(got, out.Text())
	}
	c.Assert(got, qt.DeepEquals, []string{"a", "b", "c"})
}

func TestRunStringFunctionWithLocal(t *testing.T) {
	c := qt.New(t)
	ex, out := newTestExecutor(c)
	ex.RunString(`
greet() {
  local name=$1
  echo "hi $name"
}
greet world
echo "${name:-unset}"
`)
	out.Scan()
	c.Assert(out.Text(), qt.Equals, "hi world")
	out.Scan()
	c.Assert(out.Text(), qt.Equals, "unset")
}

func TestRunStringAndOrShortCircuit(t *testing.T) {
	c := qt.New(t)
	ex, out := newTestExecutor(c)
	status := ex.RunString(`false && echo never; true || echo never2; echo done`)
	c.Assert(status, qt.Equals, 0)
	out.Scan()
	c.Assert(out.Text(), qt.Equals, "done")
}

func TestRunStringErrExitStopsSequence(t *testing.T) {
	c := qt.New(t)
	ex, out := newTestExecutor(c)
	ex.RunString("set -e")
	status := ex.RunString("false; echo unreachable; echo sentinel")
	c.Assert(status, qt.Equals, 1)
	// errexit must have stopped the sequence right after `false`, so the
	// first line to ever reach the pipe is the one after it, not
	// "unreachable" — prove that by running one more command and checking
	// its output is the only thing there.
	ex.RunString("echo sentinel")
	out.Scan()
	c.Assert(out.Text(), qt.Equals, "sentinel")
}

func TestRunStringCaseMatchesPattern(t *testing.T) {
	c := qt.New(t)
	ex, out := newTestExecutor(c)
	ex.RunString(`
x=foo.txt
case $x in
  *.txt) echo text ;;
  *) echo other ;;
esac
`)
	out.Scan()
	c.Assert(out.Text(), qt.Equals, "text")
}

func TestRunStringParamExpansionOps(t *testing.T) {
	c := qt.New(t)
	ex, out := newTestExecutor(c)
	ex.RunString(`echo ${UNSET:-default}`)
	out.Scan()
	c.Assert(out.Text(), qt.Equals, "default")
}

func TestRunStringCdAndPwdBuiltins(t *testing.T) {
	c := qt.New(t)
	ex, out := newTestExecutor(c)
	sub := c.TempDir()
	status := ex.RunString("cd " + sub + "; pwd")
	c.Assert(status, qt.Equals, 0)
	out.Scan()
	c.Assert(out.Text(), qt.Not(qt.Equals), "")
}

// newTestExecutorWithPath is like newTestExecutor but seeds the Runtime
// from the real process environment, so PATH resolves real external
// binaries (cat, tr) for the pipeline tests below.
func newTestExecutorWithPath(c *qt.C) (*Executor, *bufio.Scanner) {
	dir := c.TempDir()
	rt := NewRuntime(os.Environ(), dir)
	r, w, err := os.Pipe()
	c.Assert(err, qt.IsNil)
	rt.Stdout = w
	c.Cleanup(func() { w.Close(); r.Close() })
	ex := New(rt, nil)
	return ex, bufio.NewScanner(r)
}

func TestRunStringPipelineBuiltinToExternal(t *testing.T) {
	c := qt.New(t)
	ex, out := newTestExecutorWithPath(c)
	status := ex.RunString(`echo hello | cat`)
	c.Assert(status, qt.Equals, 0)
	out.Scan()
	c.Assert(out.Text(), qt.Equals, "hello")
}

func TestRunStringPipelineExitStatusIsLastStage(t *testing.T) {
	c := qt.New(t)
	ex, _ := newTestExecutor(c)
	status := ex.RunString(`false | true`)
	c.Assert(status, qt.Equals, 0)
}

func TestRunStringPipelinePipefailOption(t *testing.T) {
	c := qt.New(t)
	ex, _ := newTestExecutor(c)
	ex.RunString("set -o pipefail")
	status := ex.RunString(`false | true`)
	c.Assert(status, qt.Equals, 1)
}

func TestRunStringPipelineThreeStagesExternal(t *testing.T) {
	c := qt.New(t)
	ex, out := newTestExecutorWithPath(c)
	status := ex.RunString(`echo banana | cat | tr a-z A-Z`)
	c.Assert(status, qt.Equals, 0)
	out.Scan()
	c.Assert(out.Text(), qt.Equals, "BANANA")
}

// TestRunStringExternalPipelineSharesOneJob exercises review comment 2/1:
// a multi-stage external pipeline must register as exactly one job table
// entry, sharing one pgid across every stage, not one job per stage.
func TestRunStringExternalPipelineSharesOneJob(t *testing.T) {
	c := qt.New(t)
	ex, _ := newTestExecutorWithPath(c)
	status := ex.RunString(`cat /dev/null | cat /dev/null &`)
	c.Assert(status, qt.Equals, 0)

	var jobs []*job.Job
	for i := 0; i < 200; i++ {
		jobs = ex.Runtime().Jobs.All()
		if len(jobs) == 1 && jobs[0].State == job.Done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.Assert(jobs, qt.HasLen, 1)
	c.Assert(jobs[0].State, qt.Equals, job.Done)
	c.Assert(jobs[0].Pids, qt.HasLen, 2)
	c.Assert(jobs[0].Pgid, qt.Not(qt.Equals), 0)
}

func TestRunStringExportedEnvironIncludesExportedVars(t *testing.T) {
	c := qt.New(t)
	ex, _ := newTestExecutor(c)
	ex.RunString("FOO=bar; export FOO")
	environ := ex.Runtime().ExportedEnviron()
	found := false
	for _, kv := range environ {
		if kv == "FOO=bar" {
			found = true
		}
	}
	c.Assert(found, qt.IsTrue)
}
