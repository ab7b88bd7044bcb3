package transport

import (
	"errors"
	"fmt"
)

// ErrDebuggerOffline matches every *OfflineError with errors.Is.
var ErrDebuggerOffline = errors.New("debugger offline")

// ErrListenerActive is returned when starting the notification listener
// while an instance of it is already running.
var ErrListenerActive = errors.New("notification listener already active")

// OfflineError is returned when the remote debugger cannot be reached:
// the connection could not be established, could not be re-established
// after a reset, or was closed by the peer.
type OfflineError struct {
	Op       string // "connect", "send" or "receive"
	Addr     string
	Attempts int // dial or write attempts made, zero for receive

	// WasConnected is true when a connection existed before the failure,
	// i.e. it was lost mid-session rather than never established.
	WasConnected bool

	Err error
}

func (err *OfflineError) Error() string {
	state := "could not connect to"
	if err.WasConnected {
		state = "lost connection to"
	}
	msg := fmt.Sprintf("debugger offline: %s %s during %s", state, err.Addr, err.Op)
	if err.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", err.Attempts)
	}
	if err.Err != nil {
		msg += ": " + err.Err.Error()
	}
	return msg
}

func (err *OfflineError) Unwrap() error {
	return err.Err
}

func (err *OfflineError) Is(target error) bool {
	return target == ErrDebuggerOffline
}

// IsOffline reports whether err means the remote debugger is unreachable.
func IsOffline(err error) bool {
	return errors.Is(err, ErrDebuggerOffline)
}
