//go:build !windows

package transport

import (
	"errors"

	"golang.org/x/sys/unix"
)

// isTransient reports whether a write failed because the connection was
// reset, aborted or never connected. Those are recovered by reconnecting.
func isTransient(err error) bool {
	return errors.Is(err, unix.ECONNRESET) ||
		errors.Is(err, unix.ECONNABORTED) ||
		errors.Is(err, unix.ENOTCONN) ||
		errors.Is(err, unix.EPIPE)
}
