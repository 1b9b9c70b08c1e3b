package ast

// Visitor is invoked for each node Walk encounters. If the returned Visitor
// is non-nil, Walk recurses into the node's children with it.
type Visitor interface {
	Visit(node Node) (w Visitor)
}

// Walk traverses a Statement tree in depth-first order, following the
// pattern of a stdlib ast.Walk. After visiting a node's children it calls
// v.Visit(nil).
func Walk(v Visitor, node Node) {
	if node == nil {
		return
	}
	if v = v.Visit(node); v == nil {
		return
	}
	switch x := node.(type) {
	case *File:
		for _, s := range x.Stmts {
			Walk(v, s)
		}
	case *Stmt:
		Walk(v, x.Cmd)
	case *Command:
		for _, a := range x.Assigns {
			Walk(v, a)
		}
		if x.Name != nil {
			Walk(v, x.Name)
		}
		for _, a := range x.Args {
			Walk(v, a)
		}
		for _, r := range x.Redirs {
			Walk(v, r)
		}
	case *Pipeline:
		for _, s := range x.Stages {
			Walk(v, s)
		}
	case *BinaryOp:
		Walk(v, x.X)
		Walk(v, x.Y)
	case *Sequence:
		for _, s := range x.Stmts {
			Walk(v, s)
		}
	case *Subshell:
		Walk(v, x.Body)
	case *Group:
		Walk(v, x.Body)
	case *If:
		Walk(v, x.Cond)
		Walk(v, x.Then)
		for _, e := range x.Elifs {
			Walk(v, e.Cond)
			Walk(v, e.Then)
		}
		if x.Else != nil {
			Walk(v, x.Else)
		}
	case *For:
		for _, w := range x.Words {
			Walk(v, w)
		}
		Walk(v, x.Body)
	case *While:
		Walk(v, x.Cond)
		Walk(v, x.Body)
	case *Case:
		Walk(v, x.Word)
		for _, arm := range x.Arms {
			for _, p := range arm.Patterns {
				Walk(v, p)
			}
			Walk(v, arm.Body)
		}
	case *FunctionDef:
		Walk(v, x.Body)
	case *Assign:
		if x.Value != nil {
			Walk(v, x.Value)
		}
	case *Word:
		for _, p := range x.Parts {
			Walk(v, p)
		}
	case *CmdSubst:
		for _, s := range x.Stmts {
			Walk(v, s)
		}
	case *Redirect:
		if x.Word != nil {
			Walk(v, x.Word)
		}
	}
	v.Visit(nil)
}

// WalkFunc adapts a plain function into a Visitor that always recurses.
type WalkFunc func(Node)

func (f WalkFunc) Visit(n Node) Visitor {
	if n != nil {
		f(n)
	}
	return f
}
