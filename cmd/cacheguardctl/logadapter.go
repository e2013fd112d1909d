package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cacheguard/cacheguard/pkg/observability/xlog"
)

// engineLogger adapts xlog.Logger to xengine.Logger: the engine's warnings
// carry loose key-value pairs, xlog wants typed slog.Attr.
type engineLogger struct {
	l xlog.Logger
}

func (a engineLogger) Warn(ctx context.Context, msg string, args ...any) {
	a.l.Warn(ctx, msg, toAttrs(args)...)
}

func toAttrs(args []any) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		attrs = append(attrs, slog.Any(key, args[i+1]))
	}
	return attrs
}
