// Package syntax implements the rush lexer and parser (spec components A
// and B): tokenizing a byte stream honoring quoting, substitutions, and
// redirects, then building a statement tree from the token stream.
package syntax

import (
	"fmt"
	"io"

	"rush.sh/rush/ast"
	"rush.sh/rush/token"
)

// ParseError is returned for any syntax error; per spec §4.B, the offending
// statement is never executed and the caller should set $? to 2.
type ParseError struct {
	Pos token.Pos
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("rush: syntax error near %s: %s", e.Pos, e.Msg)
}

// Parser turns source bytes into an *ast.File. The zero value is not ready
// for use outside of the lexer's internal recursive calls; external callers
// should use NewParser.
type Parser struct {
	src  []byte
	off  int
	line, col int
	name string

	tok Token
	err error

	// pendingHeredocs holds heredoc redirects seen on the current logical
	// line whose bodies have not yet been collected; resolved as soon as
	// the line's terminating newline is consumed, per spec §4.A.
	pendingHeredocs []*ast.Heredoc
}

// NewParser returns a Parser ready to Parse one or more programs.
func NewParser() *Parser {
	return &Parser{line: 1, col: 1}
}

// Parse reads all of r and parses it as a complete program.
func (p *Parser) Parse(r io.Reader, name string) (*ast.File, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	stmts, perr := p.parseBytes(src, name)
	if perr != nil {
		return nil, perr
	}
	return &ast.File{Name: name, Stmts: stmts}, nil
}

// parseBytes is the shared entry point used both by Parse and by the
// recursive calls from command substitution scanning.
func (p *Parser) parseBytes(src []byte, name string) ([]*ast.Stmt, error) {
	p.src = src
	p.off = 0
	p.line, p.col = 1, 1
	p.name = name
	p.err = nil
	p.next()
	seq := p.stmtList(token.EOF)
	if p.err != nil {
		return seq.Stmts, p.err
	}
	return seq.Stmts, nil
}

func (p *Parser) fail(pos token.Pos, format string, args ...any) {
	if p.err == nil {
		p.err = &ParseError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
	}
}

func (p *Parser) failed() bool { return p.err != nil }

// atWordLit reports whether the current token is a bare (unquoted,
// single-literal) word with the given text — used to recognize reserved
// words and the "{"/"}" group delimiters, which are positional rather than
// purely lexical.
func (p *Parser) atWordLit(s string) bool {
	return p.tok.Kind == token.WORD && p.tok.Raw == s
}

func (p *Parser) skipNewlines() {
	for p.tok.Kind == token.NEWLINE {
		p.next()
	}
}

func (p *Parser) skipSeparators() {
	for p.tok.Kind == token.NEWLINE || p.tok.Kind == token.SEMI {
		p.next()
	}
}

// stmtList parses statements until EOF or a stopping bare word/token is
// seen (e.g. "done", "fi", "esac", RBRACE-as-word, or stop itself).
func (p *Parser) stmtList(stop token.Kind, stopWords ...string) *ast.Sequence {
	seq := &ast.Sequence{At: p.curTokPos()}
	p.skipSeparators()
	for p.tok.Kind != stop && p.tok.Kind != token.EOF && !p.atAnyWord(stopWords) && !p.failed() {
		s := p.andOr()
		if s == nil {
			break
		}
		seq.Stmts = append(seq.Stmts, s)
		switch p.tok.Kind {
		case token.SEMI:
			p.next()
		case token.AMP:
			s.Background = true
			p.next()
		}
		p.skipSeparators()
	}
	return seq
}

func (p *Parser) atAnyWord(words []string) bool {
	for _, w := range words {
		if p.atWordLit(w) {
			return true
		}
	}
	return false
}

func (p *Parser) curTokPos() token.Pos { return p.tok.Pos }

// andOr parses a left-associative chain of "&&"/"||" pipelines.
func (p *Parser) andOr() *ast.Stmt {
	left := p.pipeline()
	if left == nil {
		return nil
	}
	for p.tok.Kind == token.LAND || p.tok.Kind == token.LOR {
		op := p.tok.Kind
		at := p.tok.Pos
		p.next()
		p.skipNewlines()
		right := p.pipeline()
		if right == nil {
			p.fail(at, "expected command after %v", op)
			return left
		}
		left = &ast.Stmt{At: at, Cmd: &ast.BinaryOp{Op: op, X: left, Y: right, At: at}}
	}
	return left
}

// pipeline parses one or more commands connected by "|", with optional
// leading "!" negation.
func (p *Parser) pipeline() *ast.Stmt {
	at := p.curTokPos()
	negated := false
	if p.atWordLit("!") {
		negated = true
		p.next()
	}
	first := p.compoundOrSimple()
	if first == nil {
		if negated {
			p.fail(at, "expected command after !")
		}
		return nil
	}
	stages := []*ast.Stmt{{At: first.Pos(), Cmd: first}}
	for p.tok.Kind == token.PIPE {
		p.next()
		p.skipNewlines()
		next := p.compoundOrSimple()
		if next == nil {
			p.fail(at, "expected command after |")
			break
		}
		stages = append(stages, &ast.Stmt{At: next.Pos(), Cmd: next})
	}
	var cmd ast.Statement
	if len(stages) == 1 {
		cmd = stages[0].Cmd
	} else {
		cmd = &ast.Pipeline{Stages: stages, At: at}
	}
	return &ast.Stmt{At: at, Cmd: cmd, Negated: negated}
}

// compoundOrSimple dispatches on the current token to the right grammar
// production for one unadorned command (no "|", "&&", etc. attached).
func (p *Parser) compoundOrSimple() ast.Statement {
	switch {
	case p.tok.Kind == token.LPAREN:
		return p.subshell()
	case p.atWordLit("{"):
		return p.group()
	case p.atWordLit("if"):
		return p.ifClause()
	case p.atWordLit("for"):
		return p.forClause()
	case p.atWordLit("while"):
		return p.whileClause(false)
	case p.atWordLit("until"):
		return p.whileClause(true)
	case p.atWordLit("case"):
		return p.caseClause()
	case p.atWordLit("function"):
		return p.functionDefKeyword()
	case p.tok.Kind == token.WORD:
		if fn, ok := p.tryFunctionDefParens(); ok {
			return fn
		}
		return p.simpleCommand()
	}
	return nil
}

func (p *Parser) subshell() ast.Statement {
	at := p.tok.Pos
	p.next() // (
	body := p.stmtListUntilToken(token.RPAREN)
	if p.tok.Kind != token.RPAREN {
		p.fail(at, "expected )")
	} else {
		p.next()
	}
	return &ast.Subshell{Body: body, At: at}
}

func (p *Parser) stmtListUntilToken(stop token.Kind) *ast.Sequence {
	return p.stmtList(stop)
}

func (p *Parser) group() ast.Statement {
	at := p.tok.Pos
	p.next() // {
	body := p.stmtList(token.ILLEGAL, "}")
	if !p.atWordLit("}") {
		p.fail(at, "expected }")
	} else {
		p.next()
	}
	return &ast.Group{Body: body, At: at}
}

func (p *Parser) ifClause() ast.Statement {
	at := p.tok.Pos
	p.next() // if
	cond := p.stmtList(token.ILLEGAL, "then")
	if !p.atWordLit("then") {
		p.fail(at, "expected then")
	} else {
		p.next()
	}
	then := p.stmtList(token.ILLEGAL, "elif", "else", "fi")
	ifStmt := &ast.If{Cond: cond, Then: then, At: at}
	for p.atWordLit("elif") {
		p.next()
		econd := p.stmtList(token.ILLEGAL, "then")
		if !p.atWordLit("then") {
			p.fail(at, "expected then")
		} else {
			p.next()
		}
		ethen := p.stmtList(token.ILLEGAL, "elif", "else", "fi")
		ifStmt.Elifs = append(ifStmt.Elifs, ast.ElifBranch{Cond: econd, Then: ethen})
	}
	if p.atWordLit("else") {
		p.next()
		ifStmt.Else = p.stmtList(token.ILLEGAL, "fi")
	}
	if !p.atWordLit("fi") {
		p.fail(at, "expected fi")
	} else {
		p.next()
	}
	return ifStmt
}

func (p *Parser) forClause() ast.Statement {
	at := p.tok.Pos
	p.next() // for
	if p.tok.Kind != token.WORD {
		p.fail(at, "expected name after for")
		return &ast.For{At: at}
	}
	name := p.tok.Raw
	p.next()
	p.skipSeparators()
	f := &ast.For{Var: name, At: at}
	if p.atWordLit("in") {
		p.next()
		for p.tok.Kind == token.WORD && !p.atWordLit("do") {
			f.Words = append(f.Words, p.tok.Word)
			p.next()
		}
		p.skipSeparators()
	}
	if !p.atWordLit("do") {
		p.fail(at, "expected do")
	} else {
		p.next()
	}
	f.Body = p.stmtList(token.ILLEGAL, "done")
	if !p.atWordLit("done") {
		p.fail(at, "expected done")
	} else {
		p.next()
	}
	return f
}

func (p *Parser) whileClause(until bool) ast.Statement {
	at := p.tok.Pos
	p.next() // while/until
	cond := p.stmtList(token.ILLEGAL, "do")
	if !p.atWordLit("do") {
		p.fail(at, "expected do")
	} else {
		p.next()
	}
	body := p.stmtList(token.ILLEGAL, "done")
	if !p.atWordLit("done") {
		p.fail(at, "expected done")
	} else {
		p.next()
	}
	return &ast.While{Cond: cond, Body: body, Until: until, At: at}
}

func (p *Parser) caseClause() ast.Statement {
	at := p.tok.Pos
	p.next() // case
	if p.tok.Kind != token.WORD {
		p.fail(at, "expected word after case")
		return &ast.Case{At: at}
	}
	word := p.tok.Word
	p.next()
	p.skipSeparators()
	if !p.atWordLit("in") {
		p.fail(at, "expected in")
	} else {
		p.next()
	}
	p.skipSeparators()
	c := &ast.Case{Word: word, At: at}
	for !p.atWordLit("esac") && p.tok.Kind != token.EOF && !p.failed() {
		if p.tok.Kind == token.LPAREN {
			p.next()
		}
		arm := ast.CaseArm{}
		for {
			if p.tok.Kind != token.WORD {
				p.fail(at, "expected pattern")
				break
			}
			arm.Patterns = append(arm.Patterns, p.tok.Word)
			p.next()
			if p.tok.Kind == token.PIPE {
				p.next()
				continue
			}
			break
		}
		if p.tok.Kind != token.RPAREN {
			p.fail(at, "expected ) after case pattern")
		} else {
			p.next()
		}
		arm.Body = p.stmtList(token.DSEMI, "esac")
		c.Arms = append(c.Arms, arm)
		if p.tok.Kind == token.DSEMI {
			p.next()
			p.skipSeparators()
		}
	}
	if !p.atWordLit("esac") {
		p.fail(at, "expected esac")
	} else {
		p.next()
	}
	return c
}

func (p *Parser) functionDefKeyword() ast.Statement {
	at := p.tok.Pos
	p.next() // function
	if p.tok.Kind != token.WORD {
		p.fail(at, "expected function name")
		return &ast.FunctionDef{At: at}
	}
	name := p.tok.Raw
	p.next()
	if p.tok.Kind == token.LPAREN {
		p.next()
		if p.tok.Kind == token.RPAREN {
			p.next()
		} else {
			p.fail(at, "expected )")
		}
	}
	p.skipNewlines()
	body := p.functionBody(at)
	return &ast.FunctionDef{Name: name, Body: body, At: at}
}

// tryFunctionDefParens recognizes the POSIX `name() { ... }` form. It peeks
// by scanning ahead: since our tokens are words not characters, a function
// definition is exactly a bare word token followed immediately (no blanks
// consumed as a separate word) by "(" ")". We detect this by checking the
// raw source bytes right after the word's end.
func (p *Parser) tryFunctionDefParens() (ast.Statement, bool) {
	if p.tok.Raw == "" {
		return nil, false
	}
	save := *p
	name := p.tok.Raw
	at := p.tok.Pos
	wordEnd := p.off
	// Only a function definition if "(" follows with no blanks in between.
	if wordEnd >= len(p.src) || p.src[wordEnd] != '(' {
		return nil, false
	}
	if wordEnd+1 >= len(p.src) || p.src[wordEnd+1] != ')' {
		return nil, false
	}
	p.next() // consume name word
	p.next() // consume ( as LPAREN
	if p.tok.Kind != token.RPAREN {
		*p = save
		return nil, false
	}
	p.next() // consume )
	p.skipNewlines()
	body := p.functionBody(at)
	return &ast.FunctionDef{Name: name, Body: body, At: at}, true
}

func (p *Parser) functionBody(at token.Pos) *ast.Sequence {
	if p.atWordLit("{") {
		p.next()
		body := p.stmtList(token.ILLEGAL, "}")
		if !p.atWordLit("}") {
			p.fail(at, "expected } to close function body")
		} else {
			p.next()
		}
		return body
	}
	if p.tok.Kind == token.LPAREN {
		sub := p.subshell().(*ast.Subshell)
		return sub.Body
	}
	p.fail(at, "expected { or ( to start function body")
	return &ast.Sequence{At: at}
}

// simpleCommand parses assignments, a command name, arguments, and
// redirections, which the grammar allows interleaved in any order.
func (p *Parser) simpleCommand() ast.Statement {
	at := p.tok.Pos
	cmd := &ast.Command{At: at}
	for {
		switch {
		case p.tok.Kind == token.WORD && cmd.Name == nil && wordAssignName(p.tok.Word) != "":
			name := wordAssignName(p.tok.Word)
			a := &ast.Assign{Name: name, At: p.tok.Pos}
			if rest := assignValueParts(p.tok.Word, name); len(rest) > 0 {
				a.Value = &ast.Word{Parts: rest, From: p.tok.Pos}
			}
			cmd.Assigns = append(cmd.Assigns, a)
			p.next()
		case p.isRedirectStart():
			r := p.redirect()
			if r != nil {
				cmd.Redirs = append(cmd.Redirs, r)
			}
		case p.tok.Kind == token.WORD:
			if cmd.Name == nil {
				cmd.Name = p.tok.Word
			} else {
				cmd.Args = append(cmd.Args, p.tok.Word)
			}
			p.next()
		default:
			if cmd.Name == nil && len(cmd.Assigns) == 0 && len(cmd.Redirs) == 0 {
				return nil
			}
			if cmd.Name == nil && len(cmd.Redirs) == 0 && len(cmd.Assigns) == 1 {
				return cmd.Assigns[0]
			}
			return cmd
		}
	}
}

// wordAssignName reports the NAME in a leading "NAME=" prefix of w's first
// part, or "" if w isn't shaped like an assignment. The name must come from
// a plain unquoted literal run, since a quoted or substituted name isn't a
// legal identifier.
func wordAssignName(w *ast.Word) string {
	if w == nil || len(w.Parts) == 0 {
		return ""
	}
	lit, ok := w.Parts[0].(*ast.Lit)
	if !ok || lit.Quoting != token.Unquoted || lit.Value == "" || !isNameStart(lit.Value[0]) {
		return ""
	}
	i := 0
	for i < len(lit.Value) && isNameByte(lit.Value[i]) {
		i++
	}
	if i >= len(lit.Value) || lit.Value[i] != '=' {
		return ""
	}
	return lit.Value[:i]
}

// assignValueParts returns the word parts making up the value of an
// assignment word whose name is name, preserving any ParamExp/CmdSubst/
// ArithExp parts that followed the first literal run intact so the value
// still expands at run time instead of being flattened to raw text.
func assignValueParts(w *ast.Word, name string) []ast.WordPart {
	first := w.Parts[0].(*ast.Lit)
	rest := first.Value[len(name)+1:]
	var parts []ast.WordPart
	if rest != "" {
		parts = append(parts, &ast.Lit{Value: rest, Quoting: token.Unquoted, At: first.At})
	}
	parts = append(parts, w.Parts[1:]...)
	return parts
}

func (p *Parser) isRedirectStart() bool {
	switch p.tok.Kind {
	case token.LSS, token.GTR, token.SHL, token.SHR, token.DHEREDOC,
		token.DUPIN, token.DUPOUT, token.CLOBBER, token.RDRALL, token.APPALL, token.RDRIN2:
		return true
	case token.WORD:
		// N< or N> where N is a bare digit word immediately followed by
		// a redirect operator with no gap.
		if isAllDigits(p.tok.Raw) {
			end := p.off
			if end < len(p.src) && (p.src[end] == '<' || p.src[end] == '>') {
				return true
			}
		}
	}
	return false
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func (p *Parser) redirect() *ast.Redirect {
	at := p.tok.Pos
	fd := -1
	if p.tok.Kind == token.WORD && isAllDigits(p.tok.Raw) {
		fd = atoiSimple(p.tok.Raw)
		p.next()
	}
	op := p.tok.Kind
	p.next()
	r := &ast.Redirect{Op: op, N: fd, At: at}
	switch op {
	case token.SHL, token.DHEREDOC:
		if p.tok.Kind != token.WORD {
			p.fail(at, "expected heredoc delimiter")
			return r
		}
		quoted := heredocDelimQuoted(p.tok.Word)
		delim := rawDelim(p.tok.Word)
		p.next()
		h := &ast.Heredoc{Delim: delim, Quoted: quoted, StripTabs: op == token.DHEREDOC}
		r.Heredoc = h
		p.pendingHeredocs = append(p.pendingHeredocs, h)
	case token.DUPOUT, token.DUPIN:
		if p.tok.Kind == token.WORD && p.tok.Raw == "-" {
			r.N2 = -2 // sentinel: close
			p.next()
			return r
		}
		if p.tok.Kind != token.WORD {
			p.fail(at, "expected fd after %v", op)
			return r
		}
		r.N2 = atoiSimple(p.tok.Raw)
		p.next()
	default:
		if p.tok.Kind != token.WORD {
			p.fail(at, "expected word after redirection operator")
			return r
		}
		r.Word = p.tok.Word
		p.next()
	}
	return r
}

func atoiSimple(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}

// rawDelim extracts the literal delimiter text for a heredoc word, even
// when it came from a quoted literal part.
func rawDelim(w *ast.Word) string {
	var b []byte
	for _, part := range w.Parts {
		if lit, ok := part.(*ast.Lit); ok {
			b = append(b, lit.Value...)
		}
	}
	return string(b)
}

// heredocDelimQuoted reports whether any part of the delimiter word was
// quoted, which per spec §4.A means the heredoc body is never expanded.
func heredocDelimQuoted(w *ast.Word) bool {
	for _, part := range w.Parts {
		if lit, ok := part.(*ast.Lit); ok {
			if lit.Quoting != token.Unquoted {
				return true
			}
			continue
		}
		return true // a substitution in the delimiter also disables matching it literally as plain text
	}
	return false
}
