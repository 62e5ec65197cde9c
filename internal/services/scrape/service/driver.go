// Package service drives hour shards through the scrape pipeline
package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"ghdiscover/internal/core/streamlink"
	"ghdiscover/internal/platform/logger"
	"ghdiscover/internal/platform/metrics"
	ptime "ghdiscover/internal/platform/time"
	"ghdiscover/internal/services/scrape/domain"
	"ghdiscover/internal/services/scrape/guardrails"
	"ghdiscover/internal/services/scrape/mapper"
	"ghdiscover/internal/services/scrape/repo"
	"ghdiscover/internal/services/scrape/stage"
	"ghdiscover/internal/services/scrape/supervisor"
)

const ledgerTimeout = 10 * time.Second

var (
	errDraining  = errors.New("scrape: draining")
	errDuplicate = errors.New("scrape: shard already in flight")
)

// Pool is the part of mapper.Pool the driver needs
type Pool interface {
	Start(ctx context.Context) error
	Submit(ctx context.Context, ev domain.Event) error
	Close() error
	Stats() mapper.Stats
}

// Deps are the collaborators handed to the driver at construction
type Deps struct {
	Source     domain.ArchiveSource
	Codec      domain.Codec
	Decoder    domain.RecordDecoder
	Pool       Pool
	Supervisor *supervisor.Supervisor // nil -> supervisor.DefaultPolicy
	Ledger     domain.Ledger          // nil -> in memory
	Metrics    *metrics.Metrics       // nil -> private registry
}

// Config tunes the driver
type Config struct {
	LinkCapacity int // chunks buffered per link; <=0 -> 16
	ChunkBytes   int // <=0 -> stage.DefaultChunkBytes
	Parser       stage.ParserOptions

	// Pacing
	LaunchDelay time.Duration // pause between launches
	MaxInFlight int           // 0 = unlimited

	DrainTimeout time.Duration // <=0 -> 2m
	Heartbeat    time.Duration // <=0 disables the heartbeat

	// Follow keeps launching newly published hours once the range is done
	Follow     bool
	PublishLag time.Duration

	Timeouts guardrails.Timeouts
}

func (c Config) withDefaults() Config {
	if c.LinkCapacity <= 0 {
		c.LinkCapacity = 16
	}
	if c.ChunkBytes <= 0 {
		c.ChunkBytes = stage.DefaultChunkBytes
	}
	if c.Parser.MaxRecordBytes <= 0 {
		c.Parser.MaxRecordBytes = stage.DefaultMaxRecordBytes
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 2 * time.Minute
	}
	c.MaxInFlight = max(c.MaxInFlight, 0)
	c.PublishLag = max(c.PublishLag, 0)
	return c
}

// Option configures a Driver
type Option func(*Driver)

// WithOutcomeHook is called once per finished shard, after the ledger write
func WithOutcomeHook(fn func(supervisor.Outcome)) Option {
	return func(d *Driver) { d.onOutcome = fn }
}

// WithClock replaces time.Now for follow mode
func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

// Driver launches one supervised chain per shard and feeds the mapper pool
type Driver struct {
	deps Deps
	cfg  Config

	runID     string
	started   time.Time
	now       func() time.Time
	onOutcome func(supervisor.Outcome)
	heartbeat *Heartbeat

	// shard contexts hang off base so they can outlive a canceled Scrape while draining
	base   context.Context
	cancel context.CancelFunc

	// the pool outlives base so queued events are mapped after the shards finish
	poolCtx    context.Context
	poolCancel context.CancelFunc

	mu       sync.Mutex
	closing  bool
	active   map[domain.Shard]time.Time
	finished map[domain.ShardStatus]int64
	wg       sync.WaitGroup
	sem      *semaphore.Weighted

	launched  atomic.Int64
	startOnce sync.Once
	startErr  error
	drainOnce sync.Once
	drainErr  error
}

// New builds a driver. Source, Codec, Decoder and Pool are required
func New(deps Deps, cfg Config, opts ...Option) *Driver {
	switch {
	case deps.Source == nil:
		panic("scrape.Driver requires a non nil ArchiveSource")
	case deps.Codec == nil:
		panic("scrape.Driver requires a non nil Codec")
	case deps.Decoder == nil:
		panic("scrape.Driver requires a non nil RecordDecoder")
	case deps.Pool == nil:
		panic("scrape.Driver requires a non nil Pool")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Supervisor == nil {
		deps.Supervisor = supervisor.New(supervisor.DefaultPolicy(), supervisor.WithMetrics(deps.Metrics))
	}
	if deps.Ledger == nil {
		deps.Ledger = repo.NewMemory()
	}

	cfg = cfg.withDefaults()
	d := &Driver{
		deps:     deps,
		cfg:      cfg,
		runID:    uuid.NewString(),
		started:  time.Now(),
		now:      time.Now,
		active:   map[domain.Shard]time.Time{},
		finished: map[domain.ShardStatus]int64{},
	}
	d.base, d.cancel = context.WithCancel(logger.WithRun(context.Background(), d.runID, ""))
	d.poolCtx, d.poolCancel = context.WithCancel(context.WithoutCancel(d.base))
	if cfg.MaxInFlight > 0 {
		d.sem = semaphore.NewWeighted(int64(cfg.MaxInFlight))
	}
	if cfg.Heartbeat > 0 {
		d.heartbeat = NewHeartbeat(cfg.Heartbeat, d.report)
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// RunID identifies this driver in logs and in the ledger
func (d *Driver) RunID() string { return d.runID }

// Heartbeat is nil when disabled
func (d *Driver) Heartbeat() *Heartbeat { return d.heartbeat }

// Scrape launches every hour in [start, end], then idles (or follows new
// hours) until ctx ends, drains in-flight shards and returns. Shard failures
// are recorded, never returned
func (d *Driver) Scrape(ctx context.Context, start, end time.Time) error {
	start = start.UTC().Truncate(domain.Interval)
	end = end.UTC().Truncate(domain.Interval)
	ctx = logger.WithRun(ctx, d.runID, "")
	log := logger.C(ctx).With().Str("component", "scrape").Logger()

	if err := d.startPool(); err != nil {
		log.Error().Err(err).Msg("scrape: mapper pool failed to start")
		return err
	}
	if d.heartbeat != nil {
		go d.heartbeat.Run(d.base)
	}

	log.Info().Time("start", start).Time("end", end).Bool("follow", d.cfg.Follow).Msg("scrape: run started")

	next := start
	if end.Before(start) {
		log.Warn().Time("start", start).Time("end", end).Msg("scrape: end before start, nothing to launch")
	} else {
		for ; !next.After(end); next = next.Add(domain.Interval) {
			if !d.launch(ctx, domain.NewShard(next)) {
				break
			}
			if !d.pace(ctx) {
				break
			}
		}
	}

	if d.cfg.Follow && ctx.Err() == nil {
		d.follow(ctx, next)
	}
	<-ctx.Done()

	log.Info().Int64("in_flight", int64(d.InFlight())).Msg("scrape: stopping, draining shards")
	dctx, cancel := context.WithTimeout(context.Background(), d.cfg.DrainTimeout)
	defer cancel()
	if err := d.Drain(dctx); err != nil {
		log.Warn().Err(err).Msg("scrape: drain finished with errors")
	}
	log.Info().Int64("launched", d.launched.Load()).Msg("scrape: run stopped")
	return nil
}

func (d *Driver) startPool() error {
	d.startOnce.Do(func() { d.startErr = d.deps.Pool.Start(d.poolCtx) })
	return d.startErr
}

// pace waits LaunchDelay; false when ctx ended first
func (d *Driver) pace(ctx context.Context) bool {
	if d.cfg.LaunchDelay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d.cfg.LaunchDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// follow launches each hour from cursor once it is published
func (d *Driver) follow(ctx context.Context, cursor time.Time) {
	log := logger.C(ctx).With().Str("component", "scrape").Logger()
	for {
		due := cursor.Add(domain.Interval + d.cfg.PublishLag)
		if wait := due.Sub(d.now()); wait > 0 {
			log.Debug().Time("next", cursor).Dur("wait", wait).Msg("scrape: waiting for next hour")
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
		if !d.launch(ctx, domain.NewShard(cursor)) {
			return
		}
		cursor = cursor.Add(domain.Interval)
	}
}

// launch takes an in-flight slot if capped, then starts shard. False when ctx ended
func (d *Driver) launch(ctx context.Context, shard domain.Shard) bool {
	release := func() {}
	if d.sem != nil {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			return false
		}
		release = func() { d.sem.Release(1) }
	}
	err := d.spawn(shard, release)
	if err != nil {
		release()
	}
	return !errors.Is(err, errDraining)
}

// LaunchShard starts shard in the background and returns at once.
// It returns false after Drain has begun or while the same shard is still running
func (d *Driver) LaunchShard(shard domain.Shard) bool {
	return d.spawn(shard, func() {}) == nil
}

func (d *Driver) spawn(shard domain.Shard, release func()) error {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		return errDraining
	}
	if _, running := d.active[shard]; running {
		d.mu.Unlock()
		logger.C(d.base).Warn().Str("component", "scrape").Str("shard", shard.String()).
			Msg("scrape: shard already in flight, launch refused")
		return errDuplicate
	}
	d.wg.Add(1)
	d.active[shard] = time.Now()
	d.mu.Unlock()

	d.launched.Add(1)
	d.deps.Metrics.InFlight.Inc()
	go func() {
		defer d.wg.Done()
		defer release()
		defer d.deps.Metrics.InFlight.Dec()
		defer d.untrack(shard)
		d.runShard(shard)
	}()
	return nil
}

func (d *Driver) untrack(shard domain.Shard) {
	d.mu.Lock()
	delete(d.active, shard)
	d.mu.Unlock()
}

// attemptStats is filled by the stages of one attempt
type attemptStats struct {
	fetched  atomic.Int64
	inflated atomic.Int64
	parser   *stage.Parser
}

func (d *Driver) runShard(shard domain.Shard) {
	ctx, cancel := guardrails.ForShard(logger.WithRun(d.base, "", shard.String()), d.cfg.Timeouts)
	defer cancel()

	lctx, lcancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
	if err := d.deps.Ledger.StartShard(lctx, d.runID, shard); err != nil {
		logger.C(ctx).Warn().Err(err).Str("component", "scrape").Msg("scrape: ledger start failed")
	}
	lcancel()

	var last *attemptStats
	out := d.deps.Supervisor.RunShard(ctx, shard, func(shard domain.Shard, attempt int) []supervisor.Stage {
		last = &attemptStats{}
		return d.chain(shard, last)
	})
	d.record(ctx, out, last)
}

// chain wires fetch -> decompress -> parse for one attempt with fresh links
func (d *Driver) chain(shard domain.Shard, st *attemptStats) []supervisor.Stage {
	m := d.deps.Metrics
	raw := streamlink.New[[]byte](d.cfg.LinkCapacity)
	plain := streamlink.New[[]byte](d.cfg.LinkCapacity)
	st.parser = stage.NewParser(d.deps.Decoder, d.cfg.Parser)

	return []supervisor.Stage{
		{Name: domain.StageFetch, Run: func(ctx context.Context) error {
			fctx, cancel := guardrails.ForFetch(ctx, d.cfg.Timeouts)
			defer cancel()
			return stage.Fetch(fctx, d.deps.Source, shard, raw, d.cfg.ChunkBytes, stage.WithBytes(func(n int) {
				st.fetched.Add(int64(n))
				m.Add(m.BytesFetched, n)
			}))
		}},
		{Name: domain.StageDecompress, Run: func(ctx context.Context) error {
			return stage.Decompress(ctx, d.deps.Codec, shard, raw, plain, d.cfg.ChunkBytes, stage.WithBytes(func(n int) {
				st.inflated.Add(int64(n))
				m.Add(m.BytesInflated, n)
			}))
		}},
		{Name: domain.StageParse, Run: func(ctx context.Context) error {
			p := st.parser
			defer func() {
				ps := p.Stats()
				m.Add(m.Records, ps.Records)
				m.Add(m.Malformed, ps.Skipped)
			}()
			return p.Parse(ctx, shard, plain, func(ev domain.Event) error {
				err := d.deps.Pool.Submit(ctx, ev)
				if errors.Is(err, mapper.ErrDropped) {
					return nil
				}
				return err
			})
		}},
	}
}

// record logs, counts and persists the outcome of a shard
func (d *Driver) record(ctx context.Context, out supervisor.Outcome, st *attemptStats) {
	fin := domain.ShardFinish{
		Status:   out.Status,
		Attempts: out.Attempts,
		Restarts: out.TotalRestarts(),
		Elapsed:  out.Elapsed,
	}
	if st != nil {
		fin.Bytes = st.fetched.Load()
		fin.Inflated = st.inflated.Load()
		if st.parser != nil {
			ps := st.parser.Stats()
			fin.Records, fin.Skipped = ps.Records, ps.Skipped
		}
	}
	if out.Err != nil && out.Status != domain.StatusDone {
		fin.ErrText = out.Err.Error()
	}

	log := logger.C(ctx).With().Str("component", "scrape").Logger()
	ev := log.Info()
	switch out.Status {
	case domain.StatusFailed:
		ev = log.Error().Err(out.Err).Str("stage", out.Stage)
	case domain.StatusCanceled, domain.StatusMissing:
		ev = log.Warn().Err(out.Err)
	}
	ev.Str("status", string(out.Status)).
		Int("attempts", fin.Attempts).
		Int("restarts", fin.Restarts).
		Int64("bytes", fin.Bytes).
		Int("records", fin.Records).
		Int("skipped", fin.Skipped).
		Dur("elapsed", fin.Elapsed).
		Msg("scrape: shard finished")

	d.deps.Metrics.ShardDone(string(out.Status), out.Elapsed)

	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
	defer cancel()
	if err := d.deps.Ledger.FinishShard(lctx, d.runID, out.Shard, fin); err != nil {
		log.Warn().Err(err).Msg("scrape: ledger finish failed")
	}

	d.mu.Lock()
	d.finished[out.Status]++
	d.mu.Unlock()

	if d.onOutcome != nil {
		d.onOutcome(out)
	}
}

// Drain stops intake, waits for in-flight shards and then for the pool to map
// what is queued. When ctx ends first, shards and mappers are canceled.
// Later calls return the first result
func (d *Driver) Drain(ctx context.Context) error {
	d.drainOnce.Do(func() {
		defer d.cancel()
		defer d.poolCancel()

		d.mu.Lock()
		d.closing = true
		d.mu.Unlock()
		log := logger.C(d.base).With().Str("component", "scrape").Logger()

		done := make(chan struct{})
		go func() { d.wg.Wait(); close(done) }()
		select {
		case <-done:
		case <-ctx.Done():
			log.Warn().Int("in_flight", d.InFlight()).Msg("scrape: drain timed out, canceling shards")
			d.cancel()
			<-done
		}

		closed := make(chan error, 1)
		go func() { closed <- d.deps.Pool.Close() }()
		select {
		case d.drainErr = <-closed:
		case <-ctx.Done():
			st := d.deps.Pool.Stats()
			log.Warn().Int64("queued", st.Submitted-st.Mapped-st.Failed).Msg("scrape: drain timed out, canceling mappers")
			d.poolCancel()
			d.drainErr = <-closed
		}
	})
	return d.drainErr
}

// InFlight is the number of shards currently running
func (d *Driver) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

// Snapshot is a point in time view of the driver for the service endpoint
type Snapshot struct {
	RunID     string           `json:"run_id"`
	StartedAt time.Time        `json:"started_at"`
	Uptime    string           `json:"uptime"`
	Launched  int64            `json:"launched"`
	InFlight  []string         `json:"in_flight"`
	Finished  map[string]int64 `json:"finished"`
	Restarts  map[string]int   `json:"restarts"`
	Pool      mapper.Stats     `json:"pool"`
	Heartbeat *time.Time       `json:"heartbeat,omitempty"`
}

// Snapshot reports progress
func (d *Driver) Snapshot() Snapshot {
	s := Snapshot{
		RunID:     d.runID,
		StartedAt: d.started.UTC(),
		Uptime:    time.Since(d.started).Round(time.Second).String(),
		Launched:  d.launched.Load(),
		Finished:  map[string]int64{},
		Restarts:  d.deps.Supervisor.AllRestarts(),
		Pool:      d.deps.Pool.Stats(),
	}

	d.mu.Lock()
	shards := make([]domain.Shard, 0, len(d.active))
	for sh := range d.active {
		shards = append(shards, sh)
	}
	for st, n := range d.finished {
		s.Finished[string(st)] = n
	}
	d.mu.Unlock()

	sort.Slice(shards, func(i, j int) bool { return shards[i].Before(shards[j]) })
	s.InFlight = make([]string, len(shards))
	for i, sh := range shards {
		s.InFlight[i] = sh.String()
	}
	if d.heartbeat != nil {
		s.Heartbeat = ptime.Ptr(d.heartbeat.Last().UTC())
	}
	return s
}

// report is the heartbeat callback
func (d *Driver) report(ctx context.Context) {
	st := d.deps.Pool.Stats()
	logger.C(ctx).Debug().Str("component", "heartbeat").
		Int("in_flight", d.InFlight()).
		Int64("launched", d.launched.Load()).
		Int64("mapped", st.Mapped).
		Int64("dropped", st.Dropped).
		Msg("scrape: alive")
}

var _ domain.RunnerPort = (*Driver)(nil)
