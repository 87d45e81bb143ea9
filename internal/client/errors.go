package client

import "errors"

// Sentinel errors, checked with errors.Is().
var (
	// ErrUnsupportedFile indicates the upload file extension is not in the
	// server's allow-list.
	ErrUnsupportedFile = errors.New("unsupported file type")
)
