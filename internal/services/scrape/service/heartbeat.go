package service

import (
	"context"
	"sync/atomic"
	"time"

	"ghdiscover/internal/platform/logger"
)

// Heartbeat ticks while the driver is alive. Health probes read Fresh
type Heartbeat struct {
	every  time.Duration
	last   atomic.Int64 // unix nanos
	report func(ctx context.Context)
}

// NewHeartbeat ticks every interval and calls report on each beat. report may be nil
func NewHeartbeat(every time.Duration, report func(ctx context.Context)) *Heartbeat {
	if every <= 0 {
		every = time.Second
	}
	return &Heartbeat{every: every, report: report}
}

// Run beats until ctx ends
func (h *Heartbeat) Run(ctx context.Context) {
	log := logger.Named("heartbeat")
	t := time.NewTicker(h.every)
	defer t.Stop()

	h.beat(ctx)
	log.Debug().Dur("every", h.every).Msg("heartbeat started")
	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("heartbeat stopped")
			return
		case <-t.C:
			h.beat(ctx)
		}
	}
}

func (h *Heartbeat) beat(ctx context.Context) {
	h.last.Store(time.Now().UnixNano())
	if h.report != nil {
		h.report(ctx)
	}
}

// Last is the time of the latest beat, zero before the first
func (h *Heartbeat) Last() time.Time {
	n := h.last.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Fresh reports whether a beat happened within three intervals of now
func (h *Heartbeat) Fresh(now time.Time) bool {
	last := h.Last()
	return !last.IsZero() && now.Sub(last) <= 3*h.every
}
