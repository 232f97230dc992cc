package brokermetrics

import (
	"fmt"
)

// Unreachable types are returned when a
// broker node cannot be reached or times
// out before answering.
type Unreachable struct {
	Node    string
	Message string
}

// Error implements the error
// interface for Unreachable.
func (e *Unreachable) Error() string {
	return fmt.Sprintf("broker %s unreachable: %s", e.Node, e.Message)
}

// AuthFailed types are returned when a
// broker rejects the configured
// credentials.
type AuthFailed struct {
	Node    string
	Message string
}

// Error implements the error
// interface for AuthFailed.
func (e *AuthFailed) Error() string {
	return fmt.Sprintf("broker %s rejected credentials: %s", e.Node, e.Message)
}
