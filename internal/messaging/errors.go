package messaging

import (
	"errors"
	"fmt"
)

// Sentinel errors for protocol-level failures, in the style of the
// teacher's api/pkg/scheduler/errors.go (a small var-based sentinel set
// plus a typed wrapper carrying the underlying cause).
var (
	ErrMissingType = errors.New("messaging: message missing required type field")
	ErrUnknownType = errors.New("messaging: unrecognized message type")
	ErrBadVersion  = errors.New("messaging: unsupported protocol version")
)

// ProtocolError wraps a deserialize failure (spec §7: "Protocol error
// (deserialize failure, unknown message type): drop the frame; log; do not
// close the socket"). Callers use errors.Is against the sentinels above to
// decide whether a failure is one of these known, non-fatal shapes.
type ProtocolError struct {
	Cause error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("messaging: protocol error: %v", e.Cause)
}

func (e *ProtocolError) Unwrap() error { return e.Cause }

// AccessError wraps an authorization failure (spec §7: "Access error
// (unauthorized client message): drop; log; do not close the socket").
type AccessError struct {
	ClientID string
	Reason   string
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("messaging: access denied for client %s: %s", e.ClientID, e.Reason)
}
