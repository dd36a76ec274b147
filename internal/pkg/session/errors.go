// internal/pkg/session/errors.go
package session

import "errors"

// Machine-readable error kinds surfaced to the client so it can
// distinguish "log in again" from "another device took over".
const (
	KindSessionRequired   = "SESSION_REQUIRED"
	KindSessionInvalid    = "SESSION_INVALID"
	KindSessionExpired    = "SESSION_EXPIRED"
	KindSessionTerminated = "SESSION_TERMINATED"
)

// Error is a session validation failure with a client-facing kind.
type Error struct {
	Kind    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// KindOf extracts the error kind, or empty for non-session errors.
func KindOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

func errRequired() *Error {
	return &Error{Kind: KindSessionRequired, Message: "session token is required"}
}

func errInvalid() *Error {
	return &Error{Kind: KindSessionInvalid, Message: "session not found or no longer active"}
}

func errExpired() *Error {
	return &Error{Kind: KindSessionExpired, Message: "session expired due to inactivity, please log in again"}
}

func errTerminated() *Error {
	return &Error{Kind: KindSessionTerminated, Message: "session terminated: your account was logged in from another device"}
}
