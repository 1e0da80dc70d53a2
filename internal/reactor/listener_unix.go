//go:build !windows

package reactor

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseAddrControl is run by net.ListenConfig on the raw socket fd before
// bind, setting SO_REUSEADDR the way raitcp.py does at the Python socket
// layer.
func reuseAddrControl(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
