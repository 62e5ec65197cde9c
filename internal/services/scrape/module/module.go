// Package module wires the scrape pipeline from config and core deps
package module

import (
	"context"
	"time"

	"ghdiscover/internal/adapters/ingest/gharchive"
	"ghdiscover/internal/core/version"
	"ghdiscover/internal/modkit"
	perr "ghdiscover/internal/platform/errors"
	"ghdiscover/internal/platform/metrics"
	phttp "ghdiscover/internal/platform/net/http"
	"ghdiscover/internal/services/scrape/domain"
	"ghdiscover/internal/services/scrape/guardrails"
	"ghdiscover/internal/services/scrape/health"
	"ghdiscover/internal/services/scrape/mapper"
	"ghdiscover/internal/services/scrape/repo"
	"ghdiscover/internal/services/scrape/service"
	"ghdiscover/internal/services/scrape/sink"
	"ghdiscover/internal/services/scrape/stage"
	"ghdiscover/internal/services/scrape/supervisor"
)

// Ports defines the scrape module ports
type Ports struct {
	Runner domain.RunnerPort
	Driver *service.Driver
}

// Module implements the scrape module
type Module struct {
	deps    modkit.Deps
	opts    Options
	metrics *metrics.Metrics
	driver  *service.Driver
	ports   Ports
}

var _ modkit.Module = (*Module)(nil)

// New validates the options read from deps.Cfg and wires source, codec,
// decoder, mapper pool, supervisor and ledger into a driver
func New(deps modkit.Deps) (*Module, error) {
	return NewWithOptions(deps, FromConfig(deps.Cfg))
}

// NewWithOptions is New with explicit options
func NewWithOptions(deps modkit.Deps, opts Options) (*Module, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}

	src, err := newSource(opts.Ingest)
	if err != nil {
		return nil, err
	}
	factory, err := newSink(opts, deps)
	if err != nil {
		return nil, err
	}

	pool := mapper.NewPool(mapper.Config{
		Size:       opts.Workers,
		QueueDepth: opts.Queue,
		Busy:       mapper.BusyPolicy(opts.BusyPolicy),
	}, factory, mapper.WithMetrics(m))

	sup := supervisor.New(supervisor.Policy{
		MaxRestarts: opts.MaxRestarts,
		BackoffBase: opts.RetryBase,
		BackoffMax:  opts.RetryMax,
		Shard:       supervisor.ShardPolicy(opts.ShardPolicy),
	}, supervisor.WithMetrics(m))

	var ledger domain.Ledger = repo.NewMemory()
	if deps.PG != nil {
		ledger = repo.NewTxLedger(deps.PG, opts.LedgerTimeout)
	}

	drv := service.New(service.Deps{
		Source:     src,
		Codec:      gharchive.GzipCodec{},
		Decoder:    gharchive.JSONDecoder{},
		Pool:       pool,
		Supervisor: sup,
		Ledger:     ledger,
		Metrics:    m,
	}, service.Config{
		LinkCapacity: opts.LinkCapacity,
		ChunkBytes:   opts.ChunkBytes,
		Parser: stage.ParserOptions{
			MaxRecordBytes: opts.MaxRecordBytes,
			SkipMalformed:  opts.SkipMalformed,
		},
		LaunchDelay:  opts.LaunchDelay,
		MaxInFlight:  opts.MaxInFlight,
		DrainTimeout: opts.DrainTimeout,
		Heartbeat:    opts.Heartbeat,
		Follow:       opts.Follow,
		PublishLag:   opts.PublishLag,
		Timeouts: guardrails.Timeouts{
			Shard: opts.ShardTimeout,
			Fetch: opts.FetchTimeout,
		},
	})

	mod := &Module{deps: deps, opts: opts, metrics: m, driver: drv}
	mod.ports = Ports{Runner: drv, Driver: drv}
	return mod, nil
}

func newSource(o IngestOptions) (domain.ArchiveSource, error) {
	switch o.Source {
	case SourceDir:
		return gharchive.NewDirFetcher(o.Dir), nil
	case SourceHTTP, "":
		hopts := []gharchive.HTTPOption{
			gharchive.WithBaseURL(o.BaseURL),
			gharchive.WithRetries(o.HTTPRetries, 500*time.Millisecond, 10*time.Second),
			gharchive.WithRateLimit(o.FetchRPS, o.FetchBurst),
		}
		if o.HTTPTimeout > 0 {
			hopts = append(hopts, gharchive.WithTimeout(o.HTTPTimeout))
		}
		return gharchive.NewHTTPFetcher(hopts...), nil
	default:
		return nil, perr.InvalidArgf("scrape: unknown ingest source %q", o.Source)
	}
}

func newSink(o Options, deps modkit.Deps) (domain.MapperFactory, error) {
	switch o.Sink {
	case SinkClickhouse:
		if deps.CH == nil {
			return nil, perr.InvalidArgf("scrape: sink %q needs SERVICE_CLICKHOUSE_ENABLED", o.Sink)
		}
		return sink.RowFactory(deps.CH, sink.RowConfig{Batch: o.SinkBatch}), nil
	default:
		return sink.LogFactory(), nil
	}
}

// Migrate creates the ledger and sink tables on the enabled backends
func (m *Module) Migrate(ctx context.Context) error {
	if m.deps.PG != nil {
		if err := repo.Migrate(ctx, m.deps.PG); err != nil {
			return err
		}
	}
	if m.deps.CH != nil && m.opts.Sink == SinkClickhouse {
		if err := sink.Migrate(ctx, m.deps.CH); err != nil {
			return err
		}
	}
	return nil
}

// Name returns the module name
func (m *Module) Name() string { return "scrape" }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// Options returns the effective options
func (m *Module) Options() Options { return m.opts }

// Driver returns the pipeline driver
func (m *Module) Driver() *service.Driver { return m.driver }

// Metrics returns the registry the pipeline reports to
func (m *Module) Metrics() *metrics.Metrics { return m.metrics }

// MountRoutes mounts the probes and /metrics
func (m *Module) MountRoutes(r phttp.Router) {
	d := health.Deps{
		ServiceName: version.Info().Service,
		StartedAt:   version.Started,
		Progress:    func() any { return m.driver.Snapshot() },
		Metrics:     m.metrics.Handler(),
	}
	if hb := m.driver.Heartbeat(); hb != nil {
		d.Heartbeat = hb
	}
	if m.deps.PG != nil {
		d.PG = m.deps.PG
	}
	if m.deps.CH != nil {
		d.CH = m.deps.CH
	}
	health.Register(r, d)
}
