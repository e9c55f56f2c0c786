package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSession indicates no session is stored on this device.
	ErrNoSession = errors.New("no session")
	// ErrRefreshRejected indicates the backend refused the refresh token. Terminal.
	ErrRefreshRejected = errors.New("refresh token rejected")
	// ErrTokenRejected indicates the backend refused the access token. Terminal.
	ErrTokenRejected = errors.New("access token rejected")
	// ErrNetwork indicates the auth backend could not be reached or timed out. Retriable.
	ErrNetwork = errors.New("auth backend unreachable")
	// ErrSessionUnavailable is returned by checks that failed for retriable reasons.
	// The session is kept and no sign-out happens.
	ErrSessionUnavailable = errors.New("session could not be validated")
)

// Reasons attached to SessionInvalidError and transitions into Invalid.
const (
	ReasonNoSession       = "no_session"
	ReasonMalformedToken  = "malformed_token"
	ReasonTokenRejected   = "token_rejected"
	ReasonRefreshRejected = "refresh_rejected"
	ReasonSignedOut       = "signed_out"
)

// SessionInvalidError reports a terminal validation failure. The device has
// already been signed out when it is returned.
type SessionInvalidError struct {
	Reason     string
	RedirectTo string
	Err        error
}

func (e *SessionInvalidError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("session invalid: %s", e.Reason)
	}
	return fmt.Sprintf("session invalid: %s: %v", e.Reason, e.Err)
}

func (e *SessionInvalidError) Unwrap() error {
	return e.Err
}
