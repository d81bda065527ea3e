package model

import "errors"

var (
	// ErrMissingContext is returned when an operation needs an instance reference
	// or an identity token and one of them is absent.
	ErrMissingContext = errors.New("missing instance or auth")

	// ErrUnauthorized is returned when the platform rejects the identity token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is returned when a challenge, instance or stored record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSessionClosed is returned when a terminal session has already ended.
	ErrSessionClosed = errors.New("terminal session closed")

	// ErrInvalidKey is returned when a public key cannot be registered.
	ErrInvalidKey = errors.New("invalid public key")
)
