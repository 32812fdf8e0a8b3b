package domain

import "errors"

var (
	// ErrMissingUserID rejects a connection before any session exists.
	ErrMissingUserID = errors.New("user ID required")

	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Finalization reasons, persisted as the session record status.
const (
	ReasonClientDisconnect   = "client_disconnect"
	ReasonUpstreamDisconnect = "upstream_closed"
	ReasonUpstreamError      = "upstream_error"
	ReasonIdleTimeout        = "idle_timeout"
	ReasonCompleted          = "completed"
)
