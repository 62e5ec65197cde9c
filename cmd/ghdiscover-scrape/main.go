package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"ghdiscover/internal/adapters/ingest/gharchive"
	"ghdiscover/internal/modkit"
	"ghdiscover/internal/platform/config"
	"ghdiscover/internal/platform/logger"
	phttp "ghdiscover/internal/platform/net/http"
	"ghdiscover/internal/platform/net/middleware"
	"ghdiscover/internal/platform/store"

	scrapemod "ghdiscover/internal/services/scrape/module"
)

const hourLayout = "2006-01-02T15"

type cliFlags struct {
	start, end string
	follow     bool
	workers    int
	migrate    bool
}

func main() {
	var f cliFlags
	flag.StringVar(&f.start, "start", "", "UTC start hour YYYY-MM-DDTHH (default: first hour of the mirror, or the latest published hour)")
	flag.StringVar(&f.end, "end", "", "UTC end hour YYYY-MM-DDTHH inclusive (default: start)")
	flag.BoolVar(&f.follow, "follow", false, "keep scraping new hours as they are published")
	flag.IntVar(&f.workers, "workers", 0, "mapper workers (overrides CORE_SCRAPE_WORKERS)")
	flag.BoolVar(&f.migrate, "migrate", true, "create ledger and sink tables on start")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, config.New(), f)
	stop()
	if err != nil {
		logger.Get().Error().Err(err).Msg("scrape failed")
		os.Exit(1)
	}
}

// run wires the scraper and blocks until ctx ends. Every resource it opens is
// released before it returns
func run(ctx context.Context, root config.Conf, f cliFlags) error {
	l := logger.Get()

	opts := scrapemod.FromConfig(root)
	if f.workers > 0 {
		opts.Workers = f.workers
	}
	if f.follow {
		opts.Follow = true
	}
	start, end, err := hourRange(f.start, f.end, opts, time.Now())
	if err != nil {
		return err
	}

	pgCfg := root.Prefix("SERVICE_PGSQL_")
	chCfg := root.Prefix("SERVICE_CLICKHOUSE_")
	st, err := store.Open(ctx, store.Config{
		AppName: "ghdiscover-scrape",
		PG: store.PGConfig{
			Enabled:     pgCfg.MayBool("ENABLED", false),
			URL:         pgCfg.MayString("DBURL", ""),
			MaxConns:    int32(pgCfg.MayInt("MAX_CONNS", 4)),
			SlowQueryMs: pgCfg.MayInt("SLOW_MS", 500),
			LogSQL:      pgCfg.MayBool("LOG_SQL", false),
		},
		CH: store.CHConfig{
			Enabled:      chCfg.MayBool("ENABLED", false),
			URL:          chCfg.MayString("DBURL", ""),
			Role:         chCfg.MayString("ROLE", "scrape"),
			DialTimeout:  chCfg.MayDuration("DIAL_TIMEOUT", 5*time.Second),
			MaxOpenConns: chCfg.MayInt("MAX_OPEN_CONNS", 4),
		},
	}, store.WithLogger(*l))
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			l.Error().Err(err).Msg("failed to close store")
		}
	}()
	if err := st.Guard(ctx); err != nil {
		return fmt.Errorf("store guard: %w", err)
	}

	mod, err := scrapemod.NewWithOptions(modkit.FromStore(root, st), opts)
	if err != nil {
		return fmt.Errorf("scrape module: %w", err)
	}
	if f.migrate {
		if err := mod.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	l.Info().
		Time("start", start).
		Time("end", end).
		Bool("follow", opts.Follow).
		Int("workers", opts.Workers).
		Str("source", opts.Ingest.Source).
		Str("sink", opts.Sink).
		Msg("scrape starting")

	// probes and metrics
	apiCfg := root.Prefix("CORE_SCRAPE_")
	srv := phttp.NewServer(apiCfg, func(m *chi.Mux) {
		m.Use(middleware.Defaults(middleware.CORSOptions{})...)
	})
	mod.MountRoutes(srv.Router())
	phttp.MountProfiler(srv.Router(), "/debug", apiCfg.MayBool("PROFILER", false))
	served := make(chan struct{})
	go func() {
		defer close(served)
		if err := srv.Run(ctx); err != nil {
			l.Error().Err(err).Msg("http server stopped")
		}
	}()
	defer func() { <-served }()

	if err := mod.Ports().(scrapemod.Ports).Runner.Scrape(ctx, start, end); err != nil {
		return fmt.Errorf("scrape: %w", err)
	}
	l.Info().Interface("summary", mod.Driver().Snapshot()).Msg("scrape done")
	return nil
}

// hourRange resolves the flags, falling back to the mirror's first hour or the latest published one
func hourRange(startS, endS string, opts scrapemod.Options, now time.Time) (time.Time, time.Time, error) {
	var start time.Time
	switch {
	case startS != "":
		t, err := time.Parse(hourLayout, startS)
		if err != nil {
			return start, start, fmt.Errorf("bad -start %q: %w", startS, err)
		}
		start = t
	case opts.Ingest.Source == scrapemod.SourceDir:
		hours, err := gharchive.NewDirFetcher(opts.Ingest.Dir).Hours()
		if err != nil {
			return start, start, fmt.Errorf("list mirror %s: %w", opts.Ingest.Dir, err)
		}
		if len(hours) == 0 {
			return start, start, fmt.Errorf("no -start and no hours in mirror %s", opts.Ingest.Dir)
		}
		start = hours[0].UTC()
		if endS == "" {
			return start, hours[len(hours)-1].UTC(), nil
		}
	default:
		start = now.UTC().Add(-opts.PublishLag).Truncate(time.Hour).Add(-time.Hour)
	}

	end := start
	if endS != "" {
		t, err := time.Parse(hourLayout, endS)
		if err != nil {
			return start, start, fmt.Errorf("bad -end %q: %w", endS, err)
		}
		end = t
	}
	return start.UTC(), end.UTC(), nil
}
