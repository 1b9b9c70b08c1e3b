package job

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestRegisterAndResolve(t *testing.T) {
	c := qt.New(t)
	tbl := NewTable()

	j1 := tbl.Register(100, "sleep 1", []int{100})
	j2 := tbl.Register(200, "sleep 2 &", []int{200})

	c.Assert(j1.ID, qt.Equals, 1)
	c.Assert(j2.ID, qt.Equals, 2)

	got, err := tbl.Resolve("%1")
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, j1)

	got, err = tbl.Resolve("2")
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, j2)

	got, err = tbl.Resolve("%%")
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, j2)

	_, err = tbl.Resolve("%9")
	c.Assert(err, qt.Equals, ErrNoSuchJob)
}

func TestResolveByPrefixAndSubstring(t *testing.T) {
	c := qt.New(t)
	tbl := NewTable()
	tbl.Register(100, "make build", []int{100})
	tbl.Register(200, "make test", []int{200})

	_, err := tbl.Resolve("%make")
	c.Assert(err, qt.Equals, ErrAmbiguous)

	got, err := tbl.Resolve("%?test")
	c.Assert(err, qt.IsNil)
	c.Assert(got.Command, qt.Equals, "make test")
}

func TestResolveNoCurrent(t *testing.T) {
	c := qt.New(t)
	tbl := NewTable()
	_, err := tbl.Resolve("")
	c.Assert(err, qt.Equals, ErrNoCurrent)
}

func TestUpdateAndReap(t *testing.T) {
	c := qt.New(t)
	tbl := NewTable()
	j := tbl.Register(100, "cmd", []int{100})

	tbl.Update(j.ID, Done, 0)
	got, ok := tbl.Get(j.ID)
	c.Assert(ok, qt.IsTrue)
	c.Assert(got.State, qt.Equals, Done)

	tbl.Reap(j.ID)
	_, ok = tbl.Get(j.ID)
	c.Assert(ok, qt.IsFalse)
}

func TestByPgidAndByPid(t *testing.T) {
	c := qt.New(t)
	tbl := NewTable()
	j := tbl.Register(100, "cmd", []int{100, 101})

	c.Assert(tbl.ByPgid(100), qt.Equals, j)
	c.Assert(tbl.ByPid(101), qt.Equals, j)
	c.Assert(tbl.ByPid(999), qt.IsNil)
}

func TestAllSortedByID(t *testing.T) {
	c := qt.New(t)
	tbl := NewTable()
	tbl.Register(300, "c", nil)
	tbl.Register(100, "a", nil)
	tbl.Register(200, "b", nil)

	all := tbl.All()
	c.Assert(all, qt.HasLen, 3)
	c.Assert(all[0].ID, qt.Equals, 1)
	c.Assert(all[1].ID, qt.Equals, 2)
	c.Assert(all[2].ID, qt.Equals, 3)
}
