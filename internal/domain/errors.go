package domain

import "errors"

// Failure taxonomy for the import pipeline. Per-message errors are folded
// into skip counters by the coordinator; only ErrAuthRequired is fatal for a
// whole user, and nothing here aborts a run.
var (
	// ErrAuthRequired means there is no usable refresh token, or the token
	// endpoint rejected it. Headless runs cannot recover; interactive
	// re-authorization is needed.
	ErrAuthRequired = errors.New("authorization required")

	// ErrUnmatchedDomain means no account is linked to the sender's domain.
	// A routing miss, not an error condition.
	ErrUnmatchedDomain = errors.New("no account matches sender domain")

	// ErrAmbiguousDomain means more than one account claims the sender's
	// domain. The source system silently picked one; here it is explicit.
	ErrAmbiguousDomain = errors.New("multiple accounts match sender domain")

	// ErrParseFailure means the model output was malformed or incomplete.
	ErrParseFailure = errors.New("could not parse transaction from email")

	// ErrDuplicateTransaction means the message was already imported.
	ErrDuplicateTransaction = errors.New("transaction already imported for email")

	// ErrNotFound is returned by stores for missing documents.
	ErrNotFound = errors.New("not found")
)
