package xkvstore

import "errors"

// ErrUnavailable wraps any transport-level failure talking to the remote
// store, after the bounded retry in Store has been exhausted; match it with
// errors.Is. Context cancellation and deadline errors are returned unwrapped.
// The engine treats a read error as a miss and a write error as a warning.
var ErrUnavailable = errors.New("xkvstore: store unavailable")
