package interp

import (
	"fmt"
	"os"
	"strings"

	"rush.sh/rush/ast"
	"rush.sh/rush/expand"
	"rush.sh/rush/token"
)

// applyRedirects wires stdin/stdout/stderr for one command per spec §4.E:
// pipe endpoints (baseIn/baseOut, possibly nil) apply first, then each
// *ast.Redirect is applied in left-to-right source order, each a distinct
// dup2-equivalent operation so that `> f 2>&1` and `2>&1 > f` differ. The
// returned func restores the Runtime's previous stdio and closes any files
// this call opened.
func (ex *Executor) applyRedirects(redirs []*ast.Redirect, baseIn, baseOut, baseErr *os.File) (func(), error) {
	savedIn, savedOut, savedErr := ex.rt.Stdin, ex.rt.Stdout, ex.rt.Stderr
	var opened []*os.File

	if baseIn != nil {
		ex.rt.Stdin = baseIn
	}
	if baseOut != nil {
		ex.rt.Stdout = baseOut
	}
	if baseErr != nil {
		ex.rt.Stderr = baseErr
	}

	restore := func() {
		ex.rt.Stdin, ex.rt.Stdout, ex.rt.Stderr = savedIn, savedOut, savedErr
		for _, f := range opened {
			f.Close()
		}
	}

	for _, r := range redirs {
		if err := ex.applyOneRedirect(r, &opened); err != nil {
			restore()
			return func() {}, err
		}
	}
	return restore, nil
}

func (ex *Executor) applyOneRedirect(r *ast.Redirect, opened *[]*os.File) error {
	target := r.N
	switch r.Op {
	case token.GTR, token.CLOBBER:
		if target < 0 {
			target = 1
		}
		path, err := expand.Literal(ex.expandConfig(), r.Word)
		if err != nil {
			return err
		}
		flags := os.O_WRONLY | os.O_CREATE
		if ex.rt.Options.NoClobber && r.Op != token.CLOBBER {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s: cannot overwrite existing file", path)
			}
			flags |= os.O_EXCL
		} else {
			flags |= os.O_TRUNC
		}
		f, err := os.OpenFile(path, flags, 0644)
		if err != nil {
			return fmt.Errorf("%s: %v", path, err)
		}
		*opened = append(*opened, f)
		ex.assignFD(target, f)
	case token.SHR:
		if target < 0 {
			target = 1
		}
		path, err := expand.Literal(ex.expandConfig(), r.Word)
		if err != nil {
			return err
		}
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("%s: %v", path, err)
		}
		*opened = append(*opened, f)
		ex.assignFD(target, f)
	case token.LSS:
		if target < 0 {
			target = 0
		}
		path, err := expand.Literal(ex.expandConfig(), r.Word)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("%s: %v", path, err)
		}
		*opened = append(*opened, f)
		ex.assignFD(target, f)
	case token.RDRIN2:
		if target < 0 {
			target = 0
		}
		path, err := expand.Literal(ex.expandConfig(), r.Word)
		if err != nil {
			return err
		}
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			return fmt.Errorf("%s: %v", path, err)
		}
		*opened = append(*opened, f)
		ex.assignFD(target, f)
	case token.RDRALL, token.APPALL:
		path, err := expand.Literal(ex.expandConfig(), r.Word)
		if err != nil {
			return err
		}
		flags := os.O_WRONLY | os.O_CREATE
		if r.Op == token.APPALL {
			flags |= os.O_APPEND
		} else {
			flags |= os.O_TRUNC
		}
		f, err := os.OpenFile(path, flags, 0644)
		if err != nil {
			return fmt.Errorf("%s: %v", path, err)
		}
		*opened = append(*opened, f)
		ex.assignFD(1, f)
		ex.assignFD(2, f)
	case token.DUPOUT:
		if target < 0 {
			target = 1
		}
		return ex.dupFD(target, r.N2, true)
	case token.DUPIN:
		if target < 0 {
			target = 0
		}
		return ex.dupFD(target, r.N2, false)
	case token.SHL, token.DHEREDOC:
		if target < 0 {
			target = 0
		}
		body := r.Heredoc.Body
		if !r.Heredoc.Quoted {
			expanded, err := expand.Literal(ex.expandConfig(), &ast.Word{Parts: []ast.WordPart{&ast.Lit{Value: body}}})
			if err == nil {
				body = expanded
			}
		}
		if r.Op == token.DHEREDOC {
			lines := strings.Split(body, "\n")
			for i, l := range lines {
				lines[i] = strings.TrimLeft(l, "\t")
			}
			body = strings.Join(lines, "\n")
		}
		pr, pw, err := os.Pipe()
		if err != nil {
			return err
		}
		go func() {
			pw.WriteString(body)
			pw.Close()
		}()
		*opened = append(*opened, pr)
		ex.assignFD(target, pr)
	}
	return nil
}

// assignFD sets one of the three standard streams, or records a
// higher-numbered descriptor in the shell FD table per spec §3.3.
func (ex *Executor) assignFD(n int, f *os.File) {
	switch n {
	case 0:
		ex.rt.Stdin = f
	case 1:
		ex.rt.Stdout = f
	case 2:
		ex.rt.Stderr = f
	default:
		ex.rt.FDTable[n] = f
	}
}

func (ex *Executor) fdFile(n int) *os.File {
	switch n {
	case 0:
		return ex.rt.Stdin
	case 1:
		return ex.rt.Stdout
	case 2:
		return ex.rt.Stderr
	default:
		return ex.rt.FDTable[n]
	}
}

// dupFD implements `N>&M`/`N<&M`/`N>&-`: M == -2 marks the close form.
func (ex *Executor) dupFD(n, m int, out bool) error {
	if m == -2 {
		switch n {
		case 0:
			ex.rt.Stdin = nil
		case 1:
			ex.rt.Stdout = nil
		case 2:
			ex.rt.Stderr = nil
		default:
			delete(ex.rt.FDTable, n)
		}
		return nil
	}
	src := ex.fdFile(m)
	if src == nil {
		return fmt.Errorf("%d: bad file descriptor", m)
	}
	ex.assignFD(n, src)
	return nil
}
