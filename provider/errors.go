package provider

import "errors"

// Errors surfaced by provider clients and the manager. Adapters wrap
// ErrRateLimited when a backend answers 429 so callers can classify it
// with errors.Is.
var (
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrNoProvider is returned when no registered provider can serve a
	// capability.
	ErrNoProvider = errors.New("no suitable provider found")
)
