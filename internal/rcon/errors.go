package rcon

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthenticated is returned by Send and Execute when the session
	// requires authentication and has not completed it.
	ErrNotAuthenticated = errors.New("session is not authenticated")

	// ErrAuthRejected means the server answered the auth packet with id -1.
	ErrAuthRejected = errors.New("server rejected password")

	// ErrBroken is returned for calls on a session whose last exchange was
	// interrupted after its request was written.
	ErrBroken = errors.New("session is out of sync after an interrupted exchange")
)

// AuthError is returned by Authenticate when the handshake cannot complete.
// It never wraps a *SendError.
type AuthError struct {
	// Op is the step that failed, as in SendError, or empty when the
	// server answered and rejected the password.
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("rcon authentication failed: %v", e.Err)
	}
	return fmt.Sprintf("rcon authentication failed (%s): %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// SendError is returned by Send and Execute for any failure in the
// write/read/decode round trip of a command exchange.
type SendError struct {
	// Op is the step that failed: "state", "write", "read", "decode" or "verify".
	Op string
	// ID is the request id consumed by the exchange, 0 if none was.
	ID  int32
	Err error
}

func (e *SendError) Error() string {
	if e.ID == 0 {
		return fmt.Sprintf("rcon %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("rcon %s (id %d): %v", e.Op, e.ID, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a response whose id does not match the request.
type ProtocolError struct {
	Want int32
	Got  int32
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("response id %d does not match request id %d", e.Got, e.Want)
}
