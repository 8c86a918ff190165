package mcp

import (
	"errors"
	"fmt"
)

var (
	// ErrBridgeUnavailable is returned when the bridge has no live, initialized
	// connection: the handshake failed, the server process died, or Close was
	// already called.
	ErrBridgeUnavailable = errors.New("bridge unavailable")

	// ErrBridgeBusy is returned when an invocation arrives while another is
	// still in flight on the same connection.
	ErrBridgeBusy = errors.New("bridge busy")

	// ErrSchemaTranslation is returned when a remote tool's input schema cannot
	// be mapped onto the local parameter schema.
	ErrSchemaTranslation = errors.New("schema translation failed")
)

// InvocationReason classifies why a tool invocation failed.
type InvocationReason string

const (
	ReasonTimeout           InvocationReason = "timeout"
	ReasonRemoteError       InvocationReason = "remote_error"
	ReasonMalformedResponse InvocationReason = "malformed_response"
)

// InvocationError describes a failed tool invocation over the bridge. The
// Reason distinguishes deadline expiry, a remote error response, and replies
// the client could not decode.
type InvocationError struct {
	Tool   string
	Reason InvocationReason
	Err    error
}

func (e *InvocationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tool invocation failed (%s): %s: %v", e.Reason, e.Tool, e.Err)
	}
	return fmt.Sprintf("tool invocation failed (%s): %s", e.Reason, e.Tool)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// newInvocationError wraps err with tool and reason context.
func newInvocationError(tool string, reason InvocationReason, err error) *InvocationError {
	return &InvocationError{Tool: tool, Reason: reason, Err: err}
}
