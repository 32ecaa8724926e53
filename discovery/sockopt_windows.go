//go:build windows

package discovery

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// setReuseAddr sets SO_EXCLUSIVEADDRUSE on the listen socket before bind.
// Windows treats SO_REUSEADDR differently from POSIX (it permits silent
// port hijacking), so the exclusive-use option is used instead, matching
// the original source's platform branch.
func setReuseAddr(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_EXCLUSIVEADDRUSE, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
