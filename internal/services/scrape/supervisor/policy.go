package supervisor

import (
	"math/rand"
	"time"
)

// ShardPolicy decides what a stage failure means for its shard
type ShardPolicy string

const (
	// Retry rebuilds the whole chain with fresh links; events already mapped may be delivered again
	Retry ShardPolicy = "retry"
	// Abandon fails the shard on its first stage failure
	Abandon ShardPolicy = "abandon"
)

// Policy bounds restarts
type Policy struct {
	MaxRestarts int // per shard; <0 -> 0
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Shard       ShardPolicy
}

// DefaultPolicy is 3 restarts, 500ms doubling up to 30s, retry
func DefaultPolicy() Policy {
	return Policy{MaxRestarts: 3, BackoffBase: 500 * time.Millisecond, BackoffMax: 30 * time.Second, Shard: Retry}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	p.MaxRestarts = max(p.MaxRestarts, 0)
	if p.BackoffBase <= 0 {
		p.BackoffBase = d.BackoffBase
	}
	if p.BackoffMax <= 0 {
		p.BackoffMax = d.BackoffMax
	}
	if p.Shard != Abandon {
		p.Shard = Retry
	}
	return p
}

// backoff is exponential with jitter in [d/2, d)
func (p Policy) backoff(restart int) time.Duration {
	d := p.BackoffBase << min(restart, 30)
	if d <= 0 || d > p.BackoffMax {
		d = p.BackoffMax
	}
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + time.Duration(rand.Int63n(int64(half)))
}
