// Package daemon implements the long-lived rush server of spec component
// G: a Unix-socket listener, a worker pool, health checking, and the
// framed wire protocol of spec §6.2. There is no fork-per-session mode:
// every session is served by a pool worker.
package daemon

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
)

// MsgType tags the payload carried by a Frame.
type MsgType uint32

const (
	MsgSessionInit MsgType = iota + 1
	MsgResult
	MsgPing
	MsgPong
	MsgHealthStatus
	MsgCancel
)

// SessionInit is the client's opening message, per spec §6.2. The FDs for
// stdin/stdout/stderr travel out-of-band as Unix socket ancillary data;
// StdinMode documents what the client attached.
type SessionInit struct {
	WorkingDir string            `json:"working_dir"`
	Env        map[string]string `json:"env"`
	Args       []string          `json:"args"`
	StdinMode  string            `json:"stdin_mode"` // "inherit" | "pipe" | "null"
}

// Result is sent exactly once, at session end.
type Result struct {
	ExitCode int32 `json:"exit_code"`
}

// Ping/Pong implement the health-check heartbeat of spec §4.G.4.
type Ping struct {
	TimestampMs uint64 `json:"timestamp_ms"`
}

type Pong struct {
	TimestampMs uint64 `json:"timestamp_ms"`
	Status      string `json:"status"`
}

// HealthStatus is reported by a worker to the daemon periodically.
type HealthStatus struct {
	RequestsProcessed uint64 `json:"requests_processed"`
	RequestsFailed    uint64 `json:"requests_failed"`
	UptimeS           uint64 `json:"uptime_s"`
	MemoryBytes       uint64 `json:"memory_bytes,omitempty"`
}

// Cancel asks the worker to forward a terminal signal to its current
// foreground pipeline.
type Cancel struct{}

// Frame is one self-delimiting protocol message: `len:u32 | msg_id:u32 |
// payload`, where len excludes itself, per spec §6.2.
type Frame struct {
	Type    MsgType
	Payload []byte
}

// WriteFrame writes one length-prefixed frame to w.
func WriteFrame(w io.Writer, f Frame) error {
	hdr := make([]byte, 8)
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(f.Payload)+4))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(f.Type))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err := w.Write(f.Payload)
	return err
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, err
	}
	total := binary.BigEndian.Uint32(lenBuf[:])
	if total < 4 {
		return Frame{}, fmt.Errorf("daemon: frame too short: %d", total)
	}
	rest := make([]byte, total)
	if _, err := io.ReadFull(r, rest); err != nil {
		return Frame{}, err
	}
	return Frame{
		Type:    MsgType(binary.BigEndian.Uint32(rest[0:4])),
		Payload: rest[4:],
	}, nil
}

// EncodeFrame marshals v as JSON and wraps it in a Frame of the given type.
func EncodeFrame(t MsgType, v any) (Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: t, Payload: b}, nil
}

// Decode unmarshals a Frame's JSON payload into v.
func (f Frame) Decode(v any) error {
	return json.Unmarshal(f.Payload, v)
}

// SendFDs is the exported form of sendFDs, for the client package to
// attach its own stdin/stdout/stderr to an outgoing SessionInit.
func SendFDs(conn *net.UnixConn, fds []int) error {
	return sendFDs(conn, fds)
}

// RecvFDs is the exported form of recvFDs.
func RecvFDs(conn *net.UnixConn, max int) ([]int, error) {
	return recvFDs(conn, max)
}

// sendFDs attaches up to three file descriptors to a single zero-length
// SCM_RIGHTS control message on conn, used when a SessionInit frame needs
// to carry stdin/stdout/stderr out-of-band, per spec §6.2.
func sendFDs(conn *net.UnixConn, fds []int) error {
	if len(fds) == 0 {
		return nil
	}
	oob := unixRights(fds...)
	_, _, err := conn.WriteMsgUnix(nil, oob, nil)
	return err
}

// recvFDs reads one ancillary-data message off conn and returns the
// attached file descriptors, if any.
func recvFDs(conn *net.UnixConn, max int) ([]int, error) {
	oob := make([]byte, oobSpaceFor(max))
	_, oobn, _, _, err := conn.ReadMsgUnix(nil, oob)
	if err != nil {
		return nil, err
	}
	return parseUnixRights(oob[:oobn])
}
