package controller

import "errors"

// Validation sentinels, rejected before any request is issued and before
// any state is mutated. Surfaced as user-visible inline messages.
var (
	// ErrEmptyTask indicates the task description was empty.
	ErrEmptyTask = errors.New("task description is empty")

	// ErrNoImage indicates incremental mode was asked to run without a
	// prior image upload.
	ErrNoImage = errors.New("no image uploaded")
)
