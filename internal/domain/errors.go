package domain

import "errors"

// Error taxonomy shared by the conversation, contract and compliance packages.
// Callers wrap these with context via fmt.Errorf("%w: ...") and test with errors.Is.
var (
	// ErrValidation marks malformed or empty input. Always returned before any state mutation.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks an unknown session, contract, monitor or alert id.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState marks an operation that is not valid in the current state.
	ErrInvalidState = errors.New("invalid state")
	// ErrPrecondition marks a missing prior step, e.g. building a contract before extraction.
	ErrPrecondition = errors.New("precondition failed")
	// ErrCapabilityUnavailable marks an unreachable completion capability.
	// It never reaches the founder: every caller has a fallback path.
	ErrCapabilityUnavailable = errors.New("capability unavailable")
)
