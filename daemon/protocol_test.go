package daemon

import (
	"bytes"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestFrameRoundTrip(t *testing.T) {
	c := qt.New(t)

	init := SessionInit{
		WorkingDir: "/tmp",
		Env:        map[string]string{"A": "1"},
		Args:       []string{"echo", "hi"},
		StdinMode:  "inherit",
	}
	frame, err := EncodeFrame(MsgSessionInit, init)
	c.Assert(err, qt.IsNil)

	var buf bytes.Buffer
	c.Assert(WriteFrame(&buf, frame), qt.IsNil)

	got, err := ReadFrame(&buf)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Type, qt.Equals, MsgSessionInit)

	var decoded SessionInit
	c.Assert(got.Decode(&decoded), qt.IsNil)
	c.Assert(decoded, qt.DeepEquals, init)
}

func TestReadFrameShortHeader(t *testing.T) {
	c := qt.New(t)
	_, err := ReadFrame(bytes.NewReader([]byte{0, 0}))
	c.Assert(err, qt.IsNotNil)
}

func TestReadFrameTooShortLength(t *testing.T) {
	c := qt.New(t)
	buf := make([]byte, 4)
	// len field of 1 is below the minimum 4-byte msg_id it must cover.
	buf[3] = 1
	_, err := ReadFrame(bytes.NewReader(buf))
	c.Assert(err, qt.IsNotNil)
}
