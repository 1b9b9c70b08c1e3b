package expand

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestArithBasicOperators(t *testing.T) {
	c := qt.New(t)
	cfg := &Config{Env: MapEnviron{}}
	cases := map[string]int64{
		"1 + 2 * 3":   7,
		"(1 + 2) * 3": 9,
		"10 % 3":      1,
		"1 << 4":      16,
		"5 & 3":       1,
		"5 | 2":       7,
		"1 == 1":      1,
		"1 != 1":      0,
		"2 > 1 && 1":  1,
	}
	for expr, want := range cases {
		got, err := Arith(cfg, expr)
		c.Assert(err, qt.IsNil, qt.Commentf("expr %q", expr))
		c.Assert(got, qt.Equals, want, qt.Commentf("expr %q", expr))
	}
}

func TestArithVariableLookup(t *testing.T) {
	c := qt.New(t)
	cfg := &Config{Env: MapEnviron{"X": {Value: "41", Set: true}}}
	got, err := Arith(cfg, "X + 1")
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, int64(42))
}

func TestArithUnsetVariableIsZero(t *testing.T) {
	c := qt.New(t)
	cfg := &Config{Env: MapEnviron{}}
	got, err := Arith(cfg, "UNSET + 5")
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, int64(5))
}

func TestArithSyntaxError(t *testing.T) {
	c := qt.New(t)
	cfg := &Config{Env: MapEnviron{}}
	_, err := Arith(cfg, "(1 + 2")
	c.Assert(err, qt.Not(qt.IsNil))
}

func TestArithDivisionByZero(t *testing.T) {
	c := qt.New(t)
	cfg := &Config{Env: MapEnviron{}}
	_, err := Arith(cfg, "1 / 0")
	c.Assert(err, qt.Not(qt.IsNil))
}
