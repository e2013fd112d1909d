package xkeylock

import "errors"

var (
	// ErrLockNotHeld is returned by a second or later call to Handle.Unlock.
	ErrLockNotHeld = errors.New("xkeylock: lock not held")

	// ErrClosed is returned by Acquire/TryAcquire after Close.
	ErrClosed = errors.New("xkeylock: closed")

	// ErrMaxKeysExceeded is returned when WithMaxKeys limits how many
	// distinct keys may hold an entry at once and that limit is reached.
	ErrMaxKeysExceeded = errors.New("xkeylock: max keys exceeded")

	// ErrInvalidKey is returned for an empty key.
	ErrInvalidKey = errors.New("xkeylock: key must not be empty")

	// ErrNilContext is returned when Acquire is called with a nil context.
	ErrNilContext = errors.New("xkeylock: context must not be nil")

	// ErrLockOccupied is returned by TryAcquire when the key is currently held.
	ErrLockOccupied = errors.New("xkeylock: lock occupied")
)
