package zabbix

import (
	"fmt"
)

// APIError wraps Zabbix API and
// trapper errors.
type APIError struct {
	Request string
	Message string
}

// Error implements the error
// interface for APIError.
func (e *APIError) Error() string {
	return fmt.Sprintf("API error [%s]: %s", e.Request, e.Message)
}

// AuthError types are returned when the
// API rejects the configured credentials
// or a session cannot be established.
type AuthError struct {
	Message string
}

// Error implements the error
// interface for AuthError.
func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error: %s", e.Message)
}
