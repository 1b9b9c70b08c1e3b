package expand

import (
	"fmt"
	"strconv"
	"strings"

	"rush.sh/rush/ast"
)

// Config carries everything the expander needs from its caller, following
// the same separation mvdan.cc/sh/v3 draws between package expand and
// package interp: command substitution requires running a full executor,
// which expand must not depend on to avoid an import cycle.
type Config struct {
	Env Environ
	// CmdSubst runs the statements of a $(...) or `...` substitution and
	// returns its captured, trailing-newline-trimmed stdout.
	CmdSubst func(sub *ast.CmdSubst) (string, error)
	// Assign is used by `${NAME:=word}` to persist the default into the
	// environment; required only when that form is actually used.
	Assign func(name, value string) error
	// Dir is the working directory pathname expansion resolves against.
	Dir string
	// IFS holds the current field separator characters.
	IFS string
	// NoGlob disables pathname expansion (`set -f`).
	NoGlob bool
	// NullGlobKeep selects the zero-match policy (spec §4.C, §9 open
	// question): true preserves the literal pattern, false drops the word
	// entirely. rush fixes this to true (preserve) across the build.
	NullGlobKeep bool
	// GlobStar enables `**` as a recursive wildcard.
	GlobStar bool
}

// UnsetParameterError is returned for `${NAME:?message}` on an unset
// variable, per spec §4.C.
type UnsetParameterError struct {
	Name    string
	Message string
}

func (e *UnsetParameterError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Name, e.Message)
	}
	return fmt.Sprintf("%s: parameter not set", e.Name)
}

type fragment struct {
	text       string
	splittable bool
}

// Fields expands w in an unquoted context: variable/command/arithmetic
// substitution, then IFS splitting, then pathname expansion, per the order
// fixed in spec §4.C.
func Fields(cfg *Config, w *ast.Word) ([]string, error) {
	frags, err := expandParts(cfg, w.Parts)
	if err != nil {
		return nil, err
	}
	fields := splitFields(frags, effectiveIFS(cfg))
	if cfg.NoGlob {
		return fields, nil
	}
	var out []string
	for _, f := range fields {
		matches, err := Glob(cfg.Dir, f)
		if err != nil {
			return nil, err
		}
		switch {
		case matches != nil:
			out = append(out, matches...)
		case strings.ContainsAny(f, "*?[") && !cfg.NullGlobKeep:
			// drop: zero matches and nullglob-equivalent policy is off in
			// "drop" mode (kept only for completeness; NullGlobKeep default true)
		default:
			out = append(out, f)
		}
	}
	return out, nil
}

// Literal expands w with no splitting and no globbing, as required for
// redirection targets, heredoc delimiters already resolved by the parser,
// assignment values, and double-quoted contexts.
func Literal(cfg *Config, w *ast.Word) (string, error) {
	frags, err := expandParts(cfg, w.Parts)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, f := range frags {
		b.WriteString(f.text)
	}
	return b.String(), nil
}

func effectiveIFS(cfg *Config) string {
	if cfg.IFS != "" || cfg.Env == nil {
		return cfg.IFS
	}
	return " \t\n"
}

func expandParts(cfg *Config, parts []ast.WordPart) ([]fragment, error) {
	var out []fragment
	for _, part := range parts {
		switch p := part.(type) {
		case *ast.Lit:
			out = append(out, fragment{text: p.Value, splittable: p.Quoting == 0})
		case *ast.ParamExp:
			val, err := expandParam(cfg, p)
			if err != nil {
				return nil, err
			}
			out = append(out, fragment{text: val, splittable: !p.Quoted})
		case *ast.CmdSubst:
			if cfg.CmdSubst == nil {
				return nil, fmt.Errorf("rush: command substitution unsupported in this context")
			}
			val, err := cfg.CmdSubst(p)
			if err != nil {
				return nil, err
			}
			out = append(out, fragment{text: val, splittable: !p.Quoted})
		case *ast.ArithExp:
			n, err := Arith(cfg, p.Expr)
			if err != nil {
				return nil, err
			}
			out = append(out, fragment{text: strconv.FormatInt(n, 10), splittable: !p.Quoted})
		default:
			return nil, fmt.Errorf("rush: internal: unknown word part %T", part)
		}
	}
	return out, nil
}

// expandParam implements the `${NAME<op>arg}` family from spec §4.C.
func expandParam(cfg *Config, p *ast.ParamExp) (string, error) {
	vr := lookupVar(cfg, p.Name)
	if p.Length {
		return strconv.Itoa(len(vr.Value)), nil
	}
	switch p.Op {
	case "":
		return vr.Value, nil
	case ":-":
		if vr.Set && vr.Value != "" {
			return vr.Value, nil
		}
		return Literal(cfg, argOrEmpty(p.Arg))
	case ":=":
		if vr.Set && vr.Value != "" {
			return vr.Value, nil
		}
		val, err := Literal(cfg, argOrEmpty(p.Arg))
		if err != nil {
			return "", err
		}
		if cfg.Assign != nil {
			if err := cfg.Assign(p.Name, val); err != nil {
				return "", err
			}
		}
		return val, nil
	case ":?":
		if vr.Set && vr.Value != "" {
			return vr.Value, nil
		}
		msg, _ := Literal(cfg, argOrEmpty(p.Arg))
		return "", &UnsetParameterError{Name: p.Name, Message: msg}
	case ":+":
		if vr.Set && vr.Value != "" {
			return Literal(cfg, argOrEmpty(p.Arg))
		}
		return "", nil
	case "#", "##":
		pat, err := Literal(cfg, argOrEmpty(p.Arg))
		if err != nil {
			return "", err
		}
		return TrimPrefixPattern(vr.Value, pat, p.Op == "##"), nil
	case "%", "%%":
		pat, err := Literal(cfg, argOrEmpty(p.Arg))
		if err != nil {
			return "", err
		}
		return TrimSuffixPattern(vr.Value, pat, p.Op == "%%"), nil
	}
	return vr.Value, nil
}

func argOrEmpty(w *ast.Word) *ast.Word {
	if w == nil {
		return &ast.Word{Parts: []ast.WordPart{&ast.Lit{Value: ""}}}
	}
	return w
}

func lookupVar(cfg *Config, name string) Variable {
	if cfg.Env == nil {
		return Variable{}
	}
	return cfg.Env.Get(name)
}

// splitFields performs IFS-based word splitting: a fragment marked
// splittable is scanned for IFS runs, each of which becomes a field
// boundary; a non-splittable fragment (anything that came from a quoted
// context) is appended to the current field without being scanned.
func splitFields(frags []fragment, ifs string) []string {
	if ifs == "" {
		var b strings.Builder
		any := false
		for _, f := range frags {
			b.WriteString(f.text)
			any = any || f.text != ""
		}
		if !any && len(frags) == 0 {
			return nil
		}
		return []string{b.String()}
	}
	var fields []string
	var cur strings.Builder
	started := len(frags) > 0
	hasContent := false
	flush := func() {
		fields = append(fields, cur.String())
		cur.Reset()
		hasContent = false
	}
	for _, f := range frags {
		if !f.splittable {
			cur.WriteString(f.text)
			hasContent = true
			continue
		}
		start := 0
		for i := 0; i <= len(f.text); i++ {
			if i == len(f.text) || strings.IndexByte(ifs, f.text[i]) >= 0 {
				if i > start {
					cur.WriteString(f.text[start:i])
					hasContent = true
				}
				if i < len(f.text) && hasContent {
					flush()
				}
				start = i + 1
			}
		}
	}
	if hasContent || (started && len(fields) == 0) {
		flush()
	}
	return fields
}
