// Package guardrails holds time budgets for shard work
package guardrails

import (
	"context"
	"time"
)

// Timeouts bounds the work on one shard. Zero means no extra limit
type Timeouts struct {
	// Shard caps every attempt and backoff spent on one shard
	Shard time.Duration

	// Fetch caps the fetch stage of one attempt, body streaming included
	Fetch time.Duration
}

// ForShard returns a context limited by the shard budget
func ForShard(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return within(parent, t.Shard)
}

// ForFetch returns a context limited by the fetch budget and whatever the parent has left
func ForFetch(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return within(parent, t.Fetch)
}

// Remaining is the time left before ctx's deadline, zero when there is none or it passed
func Remaining(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 {
			return d
		}
	}
	return 0
}

// within never extends a parent deadline; d <= 0 still yields a cancelable child
func within(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	if rem := Remaining(parent); rem > 0 && rem < d {
		d = rem
	}
	return context.WithTimeout(parent, d)
}
