package domain

import "errors"

var (
	// ErrValidation marks caller input errors.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks lookups that matched no record.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks operations rejected by the current record state.
	ErrConflict = errors.New("conflict")
	// ErrStaleTransition marks a status transition that is unreachable from
	// the entry's current status. Late or duplicate confirmations hit this;
	// callers log it and move on.
	ErrStaleTransition = errors.New("stale transition")
	// ErrRetryNotAllowed marks a retry requested on an entry that is not in
	// a retryable state or has exhausted its retry budget.
	ErrRetryNotAllowed = errors.New("retry not allowed")
)
