package stream

import "time"

// Engine defaults. All of these are overridable through SessionConfig
// (and RIPPLE_* env vars in cmd/internal/app).
const (
	// Delay between reconnect attempts on transport failure.
	DefaultReconnectDelay = 3 * time.Second

	// Consecutive failed connect attempts before the subscription gives up
	// and reports StateDisconnected. A successful connect resets the budget.
	DefaultMaxReconnects = 10

	// The token is proactively invalidated this long before its expiry so a
	// fresh token is fetched while the old one is still accepted.
	DefaultTokenSafetyBuffer = 60 * time.Second

	// History page size when the caller does not specify one.
	DefaultPageSize = 30

	// Hard ceiling on requested page size.
	maxPageSize = 200
)

const (
	// Consecutive auth rejections tolerated per live topic before the
	// session stops re-fetching tokens and stays history-only.
	authRetryLimit = 3
)
