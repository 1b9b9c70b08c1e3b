package expand

import (
	"os"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestMatchPattern(t *testing.T) {
	c := qt.New(t)
	c.Assert(MatchPattern("*.go", "main.go"), qt.IsTrue)
	c.Assert(MatchPattern("*.go", "main.txt"), qt.IsFalse)
	c.Assert(MatchPattern("*", ".hidden"), qt.IsFalse)
	c.Assert(MatchPattern(".*", ".hidden"), qt.IsTrue)
}

func TestTrimPrefixPattern(t *testing.T) {
	c := qt.New(t)
	c.Assert(TrimPrefixPattern("foobarbar", "foo*bar", false), qt.Equals, "bar")
	c.Assert(TrimPrefixPattern("foobarbar", "foo*bar", true), qt.Equals, "")
	c.Assert(TrimPrefixPattern("nomatch", "xyz", false), qt.Equals, "nomatch")
}

func TestTrimSuffixPattern(t *testing.T) {
	c := qt.New(t)
	c.Assert(TrimSuffixPattern("foo.tar.gz", "*.gz", false), qt.Equals, "foo.tar")
	c.Assert(TrimSuffixPattern("foo.tar.gz", "*.*", true), qt.Equals, "")
	c.Assert(TrimSuffixPattern("nomatch", "xyz", false), qt.Equals, "nomatch")
}

func TestGlobNonPatternReturnsNil(t *testing.T) {
	c := qt.New(t)
	matches, err := Glob("/tmp", "plain")
	c.Assert(err, qt.IsNil)
	c.Assert(matches, qt.IsNil)
}

func TestGlobMatchesFilesInDir(t *testing.T) {
	c := qt.New(t)
	dir := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt", "c.log"} {
		c.Assert(os.WriteFile(filepath.Join(dir, name), nil, 0o600), qt.IsNil)
	}
	matches, err := Glob(dir, "*.txt")
	c.Assert(err, qt.IsNil)
	c.Assert(matches, qt.DeepEquals, []string{"a.txt", "b.txt"})
}

func TestGlobDoubleStarRecurses(t *testing.T) {
	c := qt.New(t)
	dir := t.TempDir()
	c.Assert(os.MkdirAll(filepath.Join(dir, "sub"), 0o700), qt.IsNil)
	c.Assert(os.WriteFile(filepath.Join(dir, "top.txt"), nil, 0o600), qt.IsNil)
	c.Assert(os.WriteFile(filepath.Join(dir, "sub", "nested.txt"), nil, 0o600), qt.IsNil)

	matches, err := Glob(dir, "**/*.txt")
	c.Assert(err, qt.IsNil)
	c.Assert(matches, qt.Contains, filepath.Join("sub", "nested.txt"))
}
