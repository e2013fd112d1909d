package xrefresh

import "errors"

var (
	// ErrClosed names the closed-scheduler state. Submit does not return it:
	// after Close, Submit reports false.
	ErrClosed = errors.New("xrefresh: scheduler is closed")
)
