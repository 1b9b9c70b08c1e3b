package syntax

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"rush.sh/rush/ast"
	"rush.sh/rush/token"
)

func parseWord(c *qt.C, src string) *ast.Word {
	f := parse(c, src+"\n")
	cmd, ok := f.Stmts[0].Cmd.(*ast.Command)
	c.Assert(ok, qt.IsTrue)
	return cmd.Name
}

func TestLexSingleQuotedLiteral(t *testing.T) {
	c := qt.New(t)
	w := parseWord(c, `'a $b c'`)
	c.Assert(w.Parts, qt.HasLen, 1)
	l := w.Parts[0].(*ast.Lit)
	c.Assert(l.Value, qt.Equals, "a $b c")
	c.Assert(l.Quoting, qt.Equals, token.SingleQuoted)
}

func TestLexDoubleQuotedExpandsParams(t *testing.T) {
	c := qt.New(t)
	w := parseWord(c, `"pre $X post"`)
	c.Assert(w.Parts, qt.HasLen, 3)
	c.Assert(w.Parts[0].(*ast.Lit).Value, qt.Equals, "pre ")
	param := w.Parts[1].(*ast.ParamExp)
	c.Assert(param.Name, qt.Equals, "X")
	c.Assert(param.Quoted, qt.IsTrue)
	c.Assert(w.Parts[2].(*ast.Lit).Value, qt.Equals, " post")
}

func TestLexUnquotedParamExpNotMarkedQuoted(t *testing.T) {
	c := qt.New(t)
	w := parseWord(c, `$X`)
	c.Assert(w.Parts, qt.HasLen, 1)
	param := w.Parts[0].(*ast.ParamExp)
	c.Assert(param.Short, qt.IsTrue)
	c.Assert(param.Quoted, qt.IsFalse)
}

func TestLexBraceParamExpOp(t *testing.T) {
	c := qt.New(t)
	w := parseWord(c, `${X:-fallback}`)
	param := w.Parts[0].(*ast.ParamExp)
	c.Assert(param.Name, qt.Equals, "X")
	c.Assert(param.Op, qt.Equals, ":-")
	c.Assert(litOf(param.Arg), qt.Equals, "fallback")
}

func TestLexParamLength(t *testing.T) {
	c := qt.New(t)
	w := parseWord(c, `${#X}`)
	param := w.Parts[0].(*ast.ParamExp)
	c.Assert(param.Length, qt.IsTrue)
	c.Assert(param.Name, qt.Equals, "X")
}

func TestLexCommandSubstitutionDollarParen(t *testing.T) {
	c := qt.New(t)
	w := parseWord(c, `$(echo hi)`)
	c.Assert(w.Parts, qt.HasLen, 1)
	sub := w.Parts[0].(*ast.CmdSubst)
	c.Assert(sub.Backquote, qt.IsFalse)
	c.Assert(sub.Stmts, qt.HasLen, 1)
	inner := sub.Stmts[0].Cmd.(*ast.Command)
	c.Assert(litOf(inner.Name), qt.Equals, "echo")
}

func TestLexBackquoteCommandSubstitution(t *testing.T) {
	c := qt.New(t)
	w := parseWord(c, "`echo hi`")
	sub := w.Parts[0].(*ast.CmdSubst)
	c.Assert(sub.Backquote, qt.IsTrue)
}

func TestLexArithExpansion(t *testing.T) {
	c := qt.New(t)
	w := parseWord(c, `$((1 + 2))`)
	arith := w.Parts[0].(*ast.ArithExp)
	c.Assert(arith.Expr, qt.Equals, "1 + 2")
}

func TestLexBackslashEscapeOutsideQuotes(t *testing.T) {
	c := qt.New(t)
	w := parseWord(c, `a\ b`)
	c.Assert(w.Parts, qt.HasLen, 1)
	c.Assert(w.Parts[0].(*ast.Lit).Value, qt.Equals, "a b")
}
