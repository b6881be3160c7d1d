package domain

import "errors"

// Sentinel errors for the core taxonomy - match with errors.Is().
// Repositories and services wrap these with fmt.Errorf("...: %w", ...)
// so callers keep the context while handlers map the sentinel to a status.
var (
	// ErrNotFound indicates a chat, turn, or branch point is absent.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates the requester does not own the resource.
	ErrForbidden = errors.New("forbidden")

	// ErrUnauthorized indicates a missing or invalid credential.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConflict indicates a write raced a completed one, e.g. an answer
	// that is already set.
	ErrConflict = errors.New("conflict")

	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("validation failed")

	// ErrUnavailable indicates the completion provider failed or timed out.
	// The turn persists with an empty answer; the caller may retry.
	ErrUnavailable = errors.New("temporarily unavailable")

	// ErrInternal indicates a storage failure mid branch creation that could
	// not be compensated. An orphaned branch chat is a correctness defect,
	// so this is escalated rather than swallowed.
	ErrInternal = errors.New("internal error")
)
