package spanwire

import (
	"errors"
	"fmt"
)

var (
	ErrListenerStarted = errors.New("listener: already started")
	ErrListenerStopped = errors.New("listener: stopped")
	ErrNilHandler      = errors.New("listener: nil connection handler")

	ErrConnClosed    = errors.New("conn: closed")
	ErrPayloadType   = errors.New("conn: unexpected payload type")
	ErrFrameTooLarge = errors.New("conn: frame exceeds the configured maximum")

	ErrInvalidAddr = errors.New("addr: invalid address")
)

// ConnectError reports a failed outbound connection attempt and names the
// address it targeted, so callers holding several remote addresses can tell
// which peer was unreachable.
type ConnectError struct {
	Target Addr
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %s", e.Target, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}
