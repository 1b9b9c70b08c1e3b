package ast

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestWalkVisitsEveryCommand(t *testing.T) {
	c := qt.New(t)

	// echo a | grep b; if true; then echo c; fi
	file := &File{Stmts: []*Stmt{
		{Cmd: &Pipeline{Stages: []*Stmt{
			{Cmd: &Command{Name: word("echo"), Args: []*Word{word("a")}}},
			{Cmd: &Command{Name: word("grep"), Args: []*Word{word("b")}}},
		}}},
		{Cmd: &If{
			Cond: &Sequence{Stmts: []*Stmt{{Cmd: &Command{Name: word("true")}}}},
			Then: &Sequence{Stmts: []*Stmt{{Cmd: &Command{Name: word("echo"), Args: []*Word{word("c")}}}}},
		}},
	}}

	var names []string
	Walk(WalkFunc(func(n Node) {
		if cmd, ok := n.(*Command); ok && cmd.Name != nil {
			names = append(names, litValue(cmd.Name))
		}
	}), file)

	c.Assert(names, qt.DeepEquals, []string{"echo", "grep", "true", "echo"})
}

func TestWalkStopsWhenVisitorReturnsNil(t *testing.T) {
	c := qt.New(t)
	file := &File{Stmts: []*Stmt{
		{Cmd: &Command{Name: word("a")}},
		{Cmd: &Command{Name: word("b")}},
	}}

	seen := 0
	var v Visitor
	v = WalkFunc(func(n Node) {
		if _, ok := n.(*Command); ok {
			seen++
		}
	})
	// A visitor that visits the file, then refuses to recurse into anything.
	stopAfterFile := stopVisitor{inner: v}
	Walk(stopAfterFile, file)
	c.Assert(seen, qt.Equals, 0)
}

type stopVisitor struct {
	inner Visitor
}

func (s stopVisitor) Visit(n Node) Visitor {
	if _, ok := n.(*File); ok {
		return nil
	}
	return s.inner
}

func word(s string) *Word {
	return &Word{Parts: []WordPart{&Lit{Value: s}}}
}

func litValue(w *Word) string {
	if len(w.Parts) != 1 {
		return ""
	}
	l, ok := w.Parts[0].(*Lit)
	if !ok {
		return ""
	}
	return l.Value
}
