package xentry

import "errors"

var (
	// ErrDecodeFailed is returned when entry_bytes cannot be parsed as any
	// known envelope shape, including the legacy raw-value fallback.
	ErrDecodeFailed = errors.New("xentry: decode failed")

	// ErrNilEntry is returned by operations that require a non-nil *Entry.
	ErrNilEntry = errors.New("xentry: entry is nil")
)
