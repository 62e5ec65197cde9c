// Package store opens the optional backends: Postgres for the shard ledger
// and ClickHouse for the event sink
package store

import (
	"context"
	"errors"
	"fmt"

	"ghdiscover/internal/platform/logger"
)

// Store holds whichever backends were enabled; a nil seam means disabled
type Store struct {
	Log logger.Logger

	PG TxRunner
	CH Clickhouse
}

// Option mutates Store during Open
type Option func(*Store) error

// WithLogger sets the logger handed to the pg tracer
func WithLogger(log logger.Logger) Option {
	return func(s *Store) error {
		s.Log = log
		return nil
	}
}

type (
	// Row is a single result row
	Row interface {
		Scan(dest ...any) error
	}

	// Rows is a result set; callers must Close it
	Rows interface {
		Next() bool
		Scan(dest ...any) error
		Err() error
		Close()
		Columns() []string
	}

	// CommandTag reports what a write did
	CommandTag interface {
		String() string
		RowsAffected() int64
	}

	// RowQuerier is the sql surface repos are written against
	RowQuerier interface {
		Exec(ctx context.Context, sql string, args ...any) (CommandTag, error)
		Query(ctx context.Context, sql string, args ...any) (Rows, error)
		QueryRow(ctx context.Context, sql string, args ...any) Row
	}

	// TxRunner is a RowQuerier that can also run fn inside one transaction
	TxRunner interface {
		RowQuerier
		Tx(ctx context.Context, fn func(q RowQuerier) error) error
	}

	// Clickhouse is the columnar seam; Insert rows are positional in table order
	Clickhouse interface {
		Insert(ctx context.Context, table string, rows [][]any) error
		Exec(ctx context.Context, sql string, args ...any) error
		Query(ctx context.Context, sql string, args ...any) (Rows, error)
		Close() error
	}

	// Pinger is any seam that can report readiness
	Pinger interface{ Ping(context.Context) error }
)

// Open connects the backends enabled in cfg. Postgres is pinged with backoff,
// ClickHouse dials lazily. On failure anything already opened is closed
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	s := &Store{}
	for _, o := range opts {
		if err := o(s); err != nil {
			return nil, err
		}
	}
	s.Log = s.Log.With().Logger()

	if cfg.PG.Enabled {
		p, err := openPG(ctx, cfg, s)
		if err != nil {
			return nil, fmt.Errorf("store: pg: %w", err)
		}
		s.PG = p
	}
	if cfg.CH.Enabled {
		c, err := openCH(ctx, cfg, s)
		if err != nil {
			_ = s.Close(ctx)
			return nil, fmt.Errorf("store: ch: %w", err)
		}
		s.CH = c
	}
	return s, nil
}

// Guard pings every configured seam and joins the failures
func (s *Store) Guard(ctx context.Context) error {
	if s == nil {
		return errors.New("nil store")
	}
	var errs []error
	for name, seam := range map[string]any{"pg": s.PG, "ch": s.CH} {
		if p, ok := seam.(Pinger); ok {
			if err := p.Ping(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Close closes whatever was opened
func (s *Store) Close(context.Context) error {
	var errs []error
	if s.CH != nil {
		errs = append(errs, s.CH.Close())
	}
	if c, ok := s.PG.(interface{ Close() error }); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
