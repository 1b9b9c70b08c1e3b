package syntax

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	qt "github.com/frankban/quicktest"

	"rush.sh/rush/ast"
	"rush.sh/rush/token"
)

// ignorePos treats every token.Pos as equal so tree-shape comparisons in
// these tests don't also have to predict exact line/column/offset values.
var ignorePos = cmp.Comparer(func(a, b token.Pos) bool { return true })

func parse(c *qt.C, src string) *ast.File {
	f, err := NewParser().Parse(strings.NewReader(src), "test")
	c.Assert(err, qt.IsNil)
	return f
}

func litOf(w *ast.Word) string {
	if w == nil || len(w.Parts) != 1 {
		return ""
	}
	l, ok := w.Parts[0].(*ast.Lit)
	if !ok {
		return ""
	}
	return l.Value
}

func TestParseSimpleCommand(t *testing.T) {
	c := qt.New(t)
	f := parse(c, "echo hello world\n")
	c.Assert(f.Stmts, qt.HasLen, 1)
	cmd, ok := f.Stmts[0].Cmd.(*ast.Command)
	c.Assert(ok, qt.IsTrue)
	c.Assert(litOf(cmd.Name), qt.Equals, "echo")
	c.Assert(litOf(cmd.Args[0]), qt.Equals, "hello")
	c.Assert(litOf(cmd.Args[1]), qt.Equals, "world")
}

func TestParseAssignmentPrefix(t *testing.T) {
	c := qt.New(t)
	f := parse(c, "FOO=bar echo $FOO\n")
	cmd := f.Stmts[0].Cmd.(*ast.Command)
	c.Assert(cmd.Assigns, qt.HasLen, 1)
	c.Assert(cmd.Assigns[0].Name, qt.Equals, "FOO")
	c.Assert(litOf(cmd.Assigns[0].Value), qt.Equals, "bar")
	c.Assert(litOf(cmd.Name), qt.Equals, "echo")
}

func TestParseAssignmentOnlyStatement(t *testing.T) {
	c := qt.New(t)
	f := parse(c, "X=1\n")
	a, ok := f.Stmts[0].Cmd.(*ast.Assign)
	c.Assert(ok, qt.IsTrue)
	c.Assert(a.Name, qt.Equals, "X")
	c.Assert(litOf(a.Value), qt.Equals, "1")
}

func TestParsePipeline(t *testing.T) {
	c := qt.New(t)
	f := parse(c, "ps aux | grep rush | wc -l\n")
	pipe, ok := f.Stmts[0].Cmd.(*ast.Pipeline)
	c.Assert(ok, qt.IsTrue)
	c.Assert(pipe.Stages, qt.HasLen, 3)
	names := make([]string, len(pipe.Stages))
	for i, s := range pipe.Stages {
		names[i] = litOf(s.Cmd.(*ast.Command).Name)
	}
	c.Assert(names, qt.DeepEquals, []string{"ps", "grep", "wc"})
}

func TestParseNegatedPipeline(t *testing.T) {
	c := qt.New(t)
	f := parse(c, "! grep foo bar.txt\n")
	c.Assert(f.Stmts[0].Negated, qt.IsTrue)
}

func TestParseBackgroundMarksStmt(t *testing.T) {
	c := qt.New(t)
	f := parse(c, "sleep 1 &\n")
	c.Assert(f.Stmts[0].Background, qt.IsTrue)
}

func TestParseAndOrChain(t *testing.T) {
	c := qt.New(t)
	f := parse(c, "make build && make test || echo fail\n")
	top, ok := f.Stmts[0].Cmd.(*ast.BinaryOp)
	c.Assert(ok, qt.IsTrue)
	c.Assert(top.Op, qt.Equals, token.LOR)
	left, ok := top.X.Cmd.(*ast.BinaryOp)
	c.Assert(ok, qt.IsTrue)
	c.Assert(left.Op, qt.Equals, token.LAND)
}

func TestParseIfElifElse(t *testing.T) {
	c := qt.New(t)
	f := parse(c, `if false; then
  echo a
elif true; then
  echo b
else
  echo c
fi
`)
	ifStmt, ok := f.Stmts[0].Cmd.(*ast.If)
	c.Assert(ok, qt.IsTrue)
	c.Assert(ifStmt.Elifs, qt.HasLen, 1)
	c.Assert(ifStmt.Else, qt.Not(qt.IsNil))
}

func TestParseForLoop(t *testing.T) {
	c := qt.New(t)
	f := parse(c, "for x in a b c; do echo $x; done\n")
	forStmt, ok := f.Stmts[0].Cmd.(*ast.For)
	c.Assert(ok, qt.IsTrue)
	c.Assert(forStmt.Var, qt.Equals, "x")
	c.Assert(forStmt.Words, qt.HasLen, 3)
}

func TestParseWhileAndUntil(t *testing.T) {
	c := qt.New(t)
	w := parse(c, "while true; do :; done\n").Stmts[0].Cmd.(*ast.While)
	c.Assert(w.Until, qt.IsFalse)
	u := parse(c, "until false; do :; done\n").Stmts[0].Cmd.(*ast.While)
	c.Assert(u.Until, qt.IsTrue)
}

func TestParseCase(t *testing.T) {
	c := qt.New(t)
	f := parse(c, `case $x in
  a|b) echo ab ;;
  *) echo other ;;
esac
`)
	caseStmt, ok := f.Stmts[0].Cmd.(*ast.Case)
	c.Assert(ok, qt.IsTrue)
	c.Assert(caseStmt.Arms, qt.HasLen, 2)
	c.Assert(caseStmt.Arms[0].Patterns, qt.HasLen, 2)
}

func TestParseFunctionDefBothForms(t *testing.T) {
	c := qt.New(t)
	f1 := parse(c, "greet() { echo hi; }\n")
	fn1, ok := f1.Stmts[0].Cmd.(*ast.FunctionDef)
	c.Assert(ok, qt.IsTrue)
	c.Assert(fn1.Name, qt.Equals, "greet")

	f2 := parse(c, "function greet { echo hi; }\n")
	fn2, ok := f2.Stmts[0].Cmd.(*ast.FunctionDef)
	c.Assert(ok, qt.IsTrue)
	c.Assert(fn2.Name, qt.Equals, "greet")
}

func TestParseSubshellAndGroup(t *testing.T) {
	c := qt.New(t)
	sub, ok := parse(c, "(cd /tmp; ls)\n").Stmts[0].Cmd.(*ast.Subshell)
	c.Assert(ok, qt.IsTrue)
	c.Assert(sub.Body.Stmts, qt.HasLen, 2)

	grp, ok := parse(c, "{ echo a; echo b; }\n").Stmts[0].Cmd.(*ast.Group)
	c.Assert(ok, qt.IsTrue)
	c.Assert(grp.Body.Stmts, qt.HasLen, 2)
}

func TestParseRedirects(t *testing.T) {
	c := qt.New(t)
	f := parse(c, "cmd > out.txt 2>&1 < in.txt\n")
	cmd := f.Stmts[0].Cmd.(*ast.Command)
	c.Assert(cmd.Redirs, qt.HasLen, 3)
	c.Assert(cmd.Redirs[0].Op, qt.Equals, token.GTR)
	c.Assert(litOf(cmd.Redirs[0].Word), qt.Equals, "out.txt")
	c.Assert(cmd.Redirs[1].Op, qt.Equals, token.DUPOUT)
	c.Assert(cmd.Redirs[1].N, qt.Equals, 2)
	c.Assert(cmd.Redirs[1].N2, qt.Equals, 1)
}

func TestParseHeredoc(t *testing.T) {
	c := qt.New(t)
	f := parse(c, "cat <<EOF\nEOF\n")
	cmd := f.Stmts[0].Cmd.(*ast.Command)
	c.Assert(cmd.Redirs, qt.HasLen, 1)
	c.Assert(cmd.Redirs[0].Heredoc, qt.Not(qt.IsNil))
	c.Assert(cmd.Redirs[0].Heredoc.Delim, qt.Equals, "EOF")
}

func TestParseErrorUnclosedIf(t *testing.T) {
	c := qt.New(t)
	_, err := NewParser().Parse(strings.NewReader("if true; then echo a\n"), "test")
	c.Assert(err, qt.Not(qt.IsNil))
	_, ok := err.(*ParseError)
	c.Assert(ok, qt.IsTrue)
}

// Extra horizontal whitespace between words must never change the shape of
// the resulting tree, only the positions recorded on each node.
func TestParseWhitespaceInsensitiveShape(t *testing.T) {
	c := qt.New(t)
	a := parse(c, "echo a b\n")
	b := parse(c, "echo   a    b\n")
	if diff := cmp.Diff(a, b, ignorePos); diff != "" {
		t.Fatalf("parse trees differ when only whitespace changes:\n%s", diff)
	}
}
