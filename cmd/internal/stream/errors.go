package stream

import "errors"

var (
	// ErrInvalidTopic is returned when topic derivation inputs are empty or blank.
	ErrInvalidTopic = errors.New("invalid topic")

	// ErrTokenFetch is returned when the token issuer could not produce a token.
	// The session stays usable for history; live updates remain inactive until
	// a later EnsureToken call succeeds.
	ErrTokenFetch = errors.New("token fetch failed")

	// ErrPageFetch wraps a failed history page fetch. The pager's counters are
	// left untouched so re-invoking the same load retries the same page.
	ErrPageFetch = errors.New("history page fetch failed")

	// ErrUnauthorized signals that the push transport rejected the current
	// token (401/403-equivalent). The token must be invalidated and re-fetched.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrSuperseded is returned to callers whose async result resolved after
	// the active topic changed. The result must be discarded.
	ErrSuperseded = errors.New("superseded by newer topic")

	// ErrClosed is returned when an operation is attempted on a closed session.
	ErrClosed = errors.New("session closed")
)
