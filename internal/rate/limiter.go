// Package rate provides fixed-window request limiting for the login and
// webhook endpoints, with an in-memory limiter for single instances and a
// Redis-backed one for shared state.
package rate

import (
	"context"
	"time"
)

// Limiter reports whether the caller identified by key may proceed, and when
// to retry if not.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (allowed bool, retryAfter time.Duration, err error)
}
