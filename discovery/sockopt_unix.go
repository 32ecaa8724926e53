//go:build !windows

package discovery

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// setReuseAddr sets SO_REUSEADDR on the listen socket before bind, letting
// the client rebind ListenPort immediately after a previous instance exits
// (the POSIX counterpart to Windows' SO_EXCLUSIVEADDRUSE).
func setReuseAddr(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
