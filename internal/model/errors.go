package model

import "errors"

var (
	// ErrValidation is returned for bad input. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned for a missing entity or referenced message.
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied is returned when the actor lacks the required role.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrConcurrency is returned when the expected version does not match the
	// stored one at commit time. Callers reload and retry.
	ErrConcurrency = errors.New("concurrency conflict")

	// ErrIntegrity means the stored history cannot be replayed. It indicates
	// storage corruption and must not be swallowed.
	ErrIntegrity = errors.New("integrity violation")
)
