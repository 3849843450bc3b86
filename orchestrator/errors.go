package orchestrator

import "errors"

var (
	// ErrRequestNotFound is returned for task ids that never existed or
	// were already purged.
	ErrRequestNotFound = errors.New("request not found")

	// ErrNoProviders is returned when a race or broadcast gets an empty
	// candidate list.
	ErrNoProviders = errors.New("no candidate providers")

	// ErrAllProvidersFailed is returned when a race ends with zero
	// successful candidates.
	ErrAllProvidersFailed = errors.New("all providers failed")
)
