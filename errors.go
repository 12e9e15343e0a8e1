package helpline

import "fmt"

// ============================================================================
// Error taxonomy
// ============================================================================

// ConnectionError reports an operation attempted while the transport is not
// connected, or a failed connection attempt. Detected locally; no event is
// emitted.
type ConnectionError struct {
	Reason string
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("helpline: not connected: %s", e.Reason)
}

// TimeoutError reports that no matching response event arrived within the
// request timeout.
type TimeoutError struct {
	Event string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("helpline: timed out waiting for response to %s", e.Event)
}

// ServerError carries the message of an explicit error event from the server.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("helpline: server error: %s", e.Message)
}

// ValidationError reports invalid input rejected before emission.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("helpline: invalid %s: %s", e.Field, e.Reason)
}
