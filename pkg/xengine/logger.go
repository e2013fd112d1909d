package xengine

import "context"

// Logger is the minimal logging surface the engine needs: warnings for the
// recoverable error kinds in spec §7 (KvUnavailable, DecodeFailed,
// LockAcquireFailed). xengine depends on this interface rather than
// pkg/xlog directly so the engine package has no import of the ambient
// logging stack; cmd/cacheguardctl wires the real logger in through an
// adapter.
type Logger interface {
	Warn(ctx context.Context, msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(context.Context, string, ...any) {}
