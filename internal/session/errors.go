package session

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited is returned when admission control rejects the caller.
	// No connection attempt is made.
	ErrRateLimited = errors.New("too many connections or connection requests")

	// ErrConnectFailed matches every *ConnectError.
	ErrConnectFailed = errors.New("connect failed")
)

// ConnectError reports that the live provider could not establish a session.
type ConnectError struct {
	Identifier string
	Reason     string
	Err        error
}

func (e *ConnectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connect %s: %s: %v", e.Identifier, e.Reason, e.Err)
	}
	return fmt.Sprintf("connect %s: %s", e.Identifier, e.Reason)
}

func (e *ConnectError) Unwrap() error { return e.Err }

func (e *ConnectError) Is(target error) bool { return target == ErrConnectFailed }
