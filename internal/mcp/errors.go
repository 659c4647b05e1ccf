package mcp

import (
	"errors"
	"fmt"
)

// ErrNotFound reports an unknown tool name, either locally (no backend owns
// the prefix) or remotely (the backend rejected the name).
var ErrNotFound = errors.New("tool not found")

// ErrNoSession reports an operation attempted before Handshake.
var ErrNoSession = errors.New("session not initialized")

// TransportError means the backend was unreachable or timed out. It is never
// retried at this layer; callers decide whether a whole round is retryable.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("backend unreachable (%s): %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError means the backend answered, but not in a shape this client
// understands. Fatal to the single call, not to the session.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

// RemoteError carries an application-level error field reported by the
// backend, verbatim, so the reasoning loop can adapt to it.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("backend error %d: %s", e.Code, e.Message)
	}
	return "backend error: " + e.Message
}
