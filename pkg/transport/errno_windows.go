package transport

import (
	"errors"
	"syscall"

	"golang.org/x/sys/windows"
)

// WSAENOTCONN, the socket is not connected.
const wsaENOTCONN = syscall.Errno(10057)

// isTransient reports whether a write failed because the connection was
// reset, aborted or never connected. Those are recovered by reconnecting.
func isTransient(err error) bool {
	return errors.Is(err, syscall.Errno(windows.WSAECONNRESET)) ||
		errors.Is(err, syscall.Errno(windows.WSAECONNABORTED)) ||
		errors.Is(err, wsaENOTCONN) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE)
}
