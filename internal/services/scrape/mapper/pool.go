// Package mapper runs the fixed pool of mapping workers events are fanned out to
package mapper

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	perr "ghdiscover/internal/platform/errors"
	"ghdiscover/internal/platform/logger"
	"ghdiscover/internal/platform/metrics"
	"ghdiscover/internal/services/scrape/domain"
)

var (
	// ErrDropped is returned by Submit under the drop policy when no worker is free
	ErrDropped = errors.New("mapper: pool busy, event dropped")

	// ErrClosed is returned by Submit after Close
	ErrClosed = errors.New("mapper: pool closed")

	// ErrNotStarted is returned by Submit before Start
	ErrNotStarted = errors.New("mapper: pool not started")
)

// BusyPolicy decides what Submit does when every worker is busy
type BusyPolicy string

const (
	// Block suspends the submitter; backpressure reaches the links
	Block BusyPolicy = "block"
	// Drop returns ErrDropped immediately
	Drop BusyPolicy = "drop"
)

// Config sizes the pool
type Config struct {
	Size       int        // workers; <=0 -> 2
	QueueDepth int        // buffered events between submitters and workers; 0 is a direct handoff
	Busy       BusyPolicy // default Block
}

// Stats is a point in time view of the pool
type Stats struct {
	Size      int     `json:"size"`
	Submitted int64   `json:"submitted"`
	Mapped    int64   `json:"mapped"`
	Dropped   int64   `json:"dropped"`
	Failed    int64   `json:"failed"`
	Restarts  []int64 `json:"restarts"` // per slot
}

// Pool hands events to Size workers, each owning a private mapper.
// A failing mapper is discarded and its slot restarted with a fresh one
type Pool struct {
	cfg     Config
	factory domain.MapperFactory
	tasks   chan domain.Event
	log     *logger.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex // held for writing only to close tasks
	started bool
	closed  bool
	wg      sync.WaitGroup

	submitted atomic.Int64
	mapped    atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
	restarts  []atomic.Int64

	closeMu   sync.Mutex
	closeErrs []error
}

// Option configures a Pool
type Option func(*Pool)

// WithMetrics records mapped, dropped and failed events
func WithMetrics(m *metrics.Metrics) Option { return func(p *Pool) { p.metrics = m } }

// NewPool builds a stopped pool; call Start before Submit
func NewPool(cfg Config, factory domain.MapperFactory, opts ...Option) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = 2
	}
	cfg.QueueDepth = max(cfg.QueueDepth, 0)
	if cfg.Busy != Drop {
		cfg.Busy = Block
	}
	p := &Pool{
		cfg:      cfg,
		factory:  factory,
		tasks:    make(chan domain.Event, cfg.QueueDepth),
		log:      logger.Named("mapper"),
		restarts: make([]atomic.Int64, cfg.Size),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start builds one mapper per slot and launches the workers. ctx is handed to
// every Map call; workers themselves stop only on Close
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.started {
		return perr.Conflictf("mapper: pool already started")
	}

	mappers := make([]domain.Mapper, p.cfg.Size)
	for slot := range mappers {
		m, err := p.factory(slot)
		if err != nil {
			for _, built := range mappers[:slot] {
				_ = closeMapper(built)
			}
			return perr.Wrapf(err, perr.ErrorCodeWorker, "mapper: build slot %d", slot)
		}
		mappers[slot] = m
	}

	p.started = true
	p.wg.Add(p.cfg.Size)
	for slot, m := range mappers {
		go p.worker(ctx, slot, m)
	}
	p.log.Debug().Int("size", p.cfg.Size).Int("queue", p.cfg.QueueDepth).Str("busy", string(p.cfg.Busy)).Msg("mapper: pool started")
	return nil
}

// Submit hands ev to a worker. Under Block it waits for one (or for ctx);
// under Drop it returns ErrDropped when none is free. Worker failures are
// never reported here
func (p *Pool) Submit(ctx context.Context, ev domain.Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	switch {
	case p.closed:
		return ErrClosed
	case !p.started:
		return ErrNotStarted
	}

	if p.cfg.Busy == Drop {
		select {
		case p.tasks <- ev:
			p.submitted.Add(1)
			return nil
		default:
			p.dropped.Add(1)
			if p.metrics != nil {
				p.metrics.Inc(p.metrics.EventsDropped)
			}
			return ErrDropped
		}
	}

	select {
	case p.tasks <- ev:
		p.submitted.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops intake, lets workers drain queued events, closes every mapper
// that is an io.Closer and waits. Safe to call more than once
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	return errors.Join(p.closeErrs...)
}

// Stats returns counters; Restarts has one entry per slot
func (p *Pool) Stats() Stats {
	st := Stats{
		Size:      p.cfg.Size,
		Submitted: p.submitted.Load(),
		Mapped:    p.mapped.Load(),
		Dropped:   p.dropped.Load(),
		Failed:    p.failed.Load(),
		Restarts:  make([]int64, len(p.restarts)),
	}
	for i := range p.restarts {
		st.Restarts[i] = p.restarts[i].Load()
	}
	return st
}

func (p *Pool) worker(ctx context.Context, slot int, m domain.Mapper) {
	defer p.wg.Done()
	log := p.log.With().Int("slot", slot).Logger()

	for ev := range p.tasks {
		if m == nil {
			fresh, err := p.factory(slot)
			if err != nil {
				p.fail(&log, slot, ev, perr.Wrapf(err, perr.ErrorCodeWorker, "rebuild slot %d", slot))
				continue
			}
			m = fresh
		}
		if err := invoke(ctx, m, ev); err != nil {
			p.fail(&log, slot, ev, err)
			p.retire(m)
			m = nil
			p.restarts[slot].Add(1)
			continue
		}
		p.mapped.Add(1)
		if p.metrics != nil {
			p.metrics.Inc(p.metrics.EventsMapped)
		}
	}
	if m != nil {
		p.retire(m)
	}
}

// invoke runs one Map call; panics become worker errors
func invoke(ctx context.Context, m domain.Mapper, ev domain.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &domain.StageError{Stage: domain.StageMap, Shard: ev.Shard, Kind: domain.ErrWorker,
				Err: perr.PanicErrf("mapper panic: %v", r)}
		}
	}()
	if err := m.Map(ctx, ev); err != nil {
		return &domain.StageError{Stage: domain.StageMap, Shard: ev.Shard, Kind: domain.ErrWorker,
			Err: perr.Wrap(err, perr.ErrorCodeWorker, "map")}
	}
	return nil
}

func (p *Pool) fail(log *logger.Logger, slot int, ev domain.Event, err error) {
	p.failed.Add(1)
	if p.metrics != nil {
		p.metrics.Inc(p.metrics.WorkerFailures)
	}
	log.Warn().Err(err).
		Str("shard", ev.Shard.String()).
		Int("line", ev.Line).
		Int64("restarts", p.restarts[slot].Load()).
		Msg("mapper: worker failed, event lost, restarting slot")
}

func (p *Pool) retire(m domain.Mapper) {
	if err := closeMapper(m); err != nil {
		p.closeMu.Lock()
		p.closeErrs = append(p.closeErrs, err)
		p.closeMu.Unlock()
	}
}

func closeMapper(m domain.Mapper) error {
	if c, ok := m.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
