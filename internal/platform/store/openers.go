package store

import (
	"cmp"
	"context"
	"fmt"
	"time"

	chx "ghdiscover/internal/platform/store/ch"
	"ghdiscover/internal/platform/store/pg"
)

const (
	pingBackoffStart = 150 * time.Millisecond
	pingBackoffMax   = 2 * time.Second
)

// sleep is swapped in tests
var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func openPG(ctx context.Context, cfg Config, s *Store) (TxRunner, error) {
	var tracer pg.QueryTracer
	if cfg.PG.LogSQL {
		tracer = pg.Tracer(s.Log)
	}
	p, err := pg.Open(ctx, pg.Config{
		URL:      cfg.PG.URL,
		MaxConns: cfg.PG.MaxConns,
		SlowMs:   cfg.PG.SlowQueryMs,
		AppName:  cfg.AppName,
	}, tracer)
	if err != nil {
		return nil, err
	}

	ping := func(ctx context.Context) error { return p.Pool.Ping(ctx) }
	if err := pingUntilUp(ctx, ping, cfg.PG.ConnectRetries, cfg.PG.PingTimeout); err != nil {
		p.Close()
		return nil, err
	}
	return newPGAdapter(p), nil
}

// pingUntilUp pings up to attempts times, doubling the pause between tries.
// Non-positive knobs fall back to 20 attempts and a 3s ping timeout
func pingUntilUp(ctx context.Context, ping func(context.Context) error, attempts int, timeout time.Duration) error {
	if attempts <= 0 {
		attempts = 20
	}
	timeout = cmp.Or(timeout, 3*time.Second)

	var err error
	pause := pingBackoffStart
	for i := range attempts {
		if i > 0 {
			if serr := sleep(ctx, pause); serr != nil {
				return serr
			}
			pause = min(pause*2, pingBackoffMax)
		}
		pctx, cancel := context.WithTimeout(ctx, timeout)
		err = ping(pctx)
		cancel()
		if err == nil {
			return nil
		}
	}
	return fmt.Errorf("postgres ping failed after %d attempts: %w", attempts, err)
}

// openCH dials lazily; the role defaults to the app name
func openCH(ctx context.Context, cfg Config, _ *Store) (Clickhouse, error) {
	c, err := chx.Open(ctx, chx.Config{
		URL:          cfg.CH.URL,
		Role:         cmp.Or(cfg.CH.Role, cfg.AppName),
		Tag:          cfg.AppName,
		DialTimeout:  cfg.CH.DialTimeout,
		MaxOpenConns: cfg.CH.MaxOpenConns,
	})
	if err != nil {
		return nil, err
	}
	return newCHAdapter(c), nil
}
