package loyalty

import (
	"context"
	"sync/atomic"
)

type degradedKey struct{}

// WithDegradedFlag returns a context a store can mark when it served the
// call from a fallback path.
func WithDegradedFlag(ctx context.Context) (context.Context, *atomic.Bool) {
	flag := &atomic.Bool{}
	return context.WithValue(ctx, degradedKey{}, flag), flag
}

func MarkDegraded(ctx context.Context) {
	if flag, ok := ctx.Value(degradedKey{}).(*atomic.Bool); ok {
		flag.Store(true)
	}
}
