// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across the client layers.
var (
	// ErrUnauthorized indicates the server rejected the access token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrSessionExpired indicates a terminal session loss: the refresh
	// attempt failed and local session state was cleared.
	ErrSessionExpired = errors.New("session expired")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTimeout indicates the request exceeded its timeout budget and was
	// aborted client-side.
	ErrTimeout = errors.New("request timed out")

	// ErrNoCredentials indicates no usable credentials are persisted.
	ErrNoCredentials = errors.New("no stored credentials")

	// ErrChannelClosed indicates the realtime channel was closed.
	ErrChannelClosed = errors.New("realtime channel closed")

	// ErrEchoTimeout indicates an optimistic message never received its
	// server echo within the bounded wait.
	ErrEchoTimeout = errors.New("message echo timed out")
)
