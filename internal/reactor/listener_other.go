//go:build windows

package reactor

import "syscall"

// Windows has no equivalent footgun around TIME_WAIT that SO_REUSEADDR fixes
// the way it does on unix; leave the socket options alone.
func reuseAddrControl(_, _ string, _ syscall.RawConn) error {
	return nil
}
