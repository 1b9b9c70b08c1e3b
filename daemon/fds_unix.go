package daemon

import (
	"golang.org/x/sys/unix"
)

// unixRights builds an SCM_RIGHTS ancillary-data blob carrying fds, the
// same construction canonical-lxd's devlxd transport uses for Ucred, here
// applied to whole file descriptors instead of credentials.
func unixRights(fds ...int) []byte {
	return unix.UnixRights(fds...)
}

// oobSpaceFor returns a buffer size generous enough for n descriptors'
// worth of ancillary data.
func oobSpaceFor(n int) int {
	return unix.CmsgSpace(n * 4)
}

// parseUnixRights extracts the file descriptors carried in oob.
func parseUnixRights(oob []byte) ([]int, error) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, err
	}
	var out []int
	for _, m := range msgs {
		fds, err := unix.ParseUnixRights(&m)
		if err != nil {
			continue
		}
		out = append(out, fds...)
	}
	return out, nil
}
