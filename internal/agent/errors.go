package agent

import (
	"errors"
	"fmt"
)

// Kind classifies agent failures into the closed set the proxy layer maps
// onto SOCKS5 reply codes.
type Kind string

const (
	KindUnreachable        Kind = "unreachable"
	KindUnexpectedResponse Kind = "unexpected-response"
	KindAuthRejected       Kind = "auth-rejected"
	KindConnectFailed      Kind = "connect-failed"
	KindUnknownType        Kind = "unknown-type"
)

// Error is an agent-level failure. Op names the capability call that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agent %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("agent %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind carried by err, or "" when err is not an agent
// Error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// ErrConnClosed reports that the remote agent considers the flow closed. Read
// may return it alongside final buffered bytes, which must still be
// delivered before tearing down.
var ErrConnClosed = errors.New("remote connection closed")
