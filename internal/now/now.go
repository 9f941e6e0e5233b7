// Package now provides the current time in a way that tests can override
// without touching the system clock.
package now

import (
	"context"
	"fmt"
	"time"
)

type contextKeyType string

// ContextKey is used by tests to make the time deterministic:
//
//	ctx = context.WithValue(ctx, now.ContextKey, time.Unix(0, 12).UTC())
const ContextKey contextKeyType = "ventifact/now"

// Provider is a function that returns the current time. It may be stored as
// a context value instead of a fixed time.Time when a test needs the clock
// to advance across calls.
type Provider func() time.Time

// Now returns the current time, or the time (or Provider) stashed in ctx.
func Now(ctx context.Context) time.Time {
	v := ctx.Value(ContextKey)
	if v == nil {
		return time.Now().UTC()
	}
	switch t := v.(type) {
	case time.Time:
		return t
	case Provider:
		return t()
	default:
		panic(fmt.Sprintf("now.ContextKey holds unsupported type %T", v))
	}
}
