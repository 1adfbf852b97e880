package core

import "errors"

// Error philosophy:
//
// Failures: conditions which signal misuse of the engine by the test author
// (re-patching without force, querying a disabled tier, invalid delegation
// edits) are caller-visible errors meant to fail the test immediately and
// loudly.
//
// Panics: conditions which imply a bug in the engine itself, which it is not
// reasonable to expect a caller to recover from, trigger an explanatory panic
// for the programmer to track down.
//
// The only internally retried condition is "preparation in progress", which is
// transparent polling, not an error.
var (
	// ErrTargetNotFound reports a selector that does not resolve to a
	// registered target.
	ErrTargetNotFound = errors.New("target not found")

	// ErrAlreadyOverridden reports a non-forced re-patch of a target that a
	// context already overrides at the same tier.
	ErrAlreadyOverridden = errors.New("target already overridden")

	// ErrTierDisabled reports use of the Shared or Global tier while it is
	// administratively disabled.
	ErrTierDisabled = errors.New("tier disabled")

	// ErrSelfDelegation reports an attempt to delegate a context to itself.
	ErrSelfDelegation = errors.New("context cannot delegate to itself")

	// ErrCyclicDelegation reports a delegation edge that would create a cycle.
	ErrCyclicDelegation = errors.New("delegation would create a cycle")

	// ErrAlreadyDelegated reports a non-forced re-delegation of a context
	// that already has an owner.
	ErrAlreadyDelegated = errors.New("context already delegated")

	// ErrInvalidQuery reports a malformed history query: no count comparator,
	// atLeast exceeding exactly, or an after bound past the before bound.
	ErrInvalidQuery = errors.New("invalid history query")

	// ErrUnresolvedContext reports a context identifier that is not
	// registered with the engine.
	ErrUnresolvedContext = errors.New("unresolved context")

	// ErrPreparationFailed reports a failed or hung target preparation. The
	// registry entry is rolled back on failure, so a retry is possible.
	ErrPreparationFailed = errors.New("target preparation failed")

	// ErrHistoryDisabled reports a history query while history collection is
	// off.
	ErrHistoryDisabled = errors.New("history collection disabled")
)
