package app

import "errors"

var (
	// ErrIdentityRequired indicates an operation that needs a persisted history
	// was called by an anonymous session.
	ErrIdentityRequired = errors.New("sign in to access saved designs")

	// ErrArchiveDisabled indicates no script archive is configured.
	ErrArchiveDisabled = errors.New("script archive not configured")

	// ErrArchiveJobNotFound means no archive job is retained for the design.
	ErrArchiveJobNotFound = errors.New("no archive job for design")

	ErrSessionRequired = errors.New("session id required")
)
