package transport

import (
	"errors"
	"fmt"
)

var (
	ErrConnect           = errors.New("transport: connect failed")
	ErrAddressRequired   = errors.New("transport: address required")
	ErrChannelClosed     = errors.New("transport: channel closed")
	ErrUnknownConnection = errors.New("transport: unknown connection")
	ErrServerClosed      = errors.New("transport: server closed")
	ErrTableFull         = errors.New("transport: connection table full")
)

// ConnectError reports a failed resolve or dial. errors.Is(err, ErrConnect) holds.
type ConnectError struct {
	Addr     string
	Attempts int
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("transport: connect %q (attempts=%d): %v", e.Addr, e.Attempts, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

func (e *ConnectError) Is(target error) bool {
	return target == ErrConnect
}

// SendError names the slot a server write failed on.
type SendError struct {
	ID  SlotID
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("transport: send to slot %d: %v", e.ID, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}
