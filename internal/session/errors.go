package session

import "errors"

// Sentinel errors for session transitions, checked with errors.Is().
var (
	// ErrAlreadyGenerating indicates a request cycle is already in flight;
	// the new submission is rejected, not queued.
	ErrAlreadyGenerating = errors.New("a request cycle is already in flight")
)
