package chat

import (
	"fmt"
)

// ServerError is a structured error the backend put in the reply body.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("chat backend error (%d): %s", e.Status, e.Message)
}

// NetworkError covers everything that kept a usable reply from arriving:
// connection failures, timeouts, unreadable bodies and bare non-2xx statuses.
type NetworkError struct {
	Op     string // "text" or "voice"
	Status int    // 0 when no response arrived
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("chat %s request: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("chat %s request: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
