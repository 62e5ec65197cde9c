package store

import (
	"context"
	"errors"
	"time"

	"ghdiscover/internal/platform/store/pg"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgxQuerier is the statement surface shared by *pgxpool.Pool and pgx.Tx
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// querier adapts a pool or a tx to RowQuerier and reports each statement to the tracer
type querier struct {
	db     pgxQuerier
	tracer pg.QueryTracer
	slowUS int64 // negative disables the slow flag
}

func (q querier) Exec(ctx context.Context, sql string, args ...any) (CommandTag, error) {
	done := q.trace(ctx, sql, args)
	ct, err := q.db.Exec(ctx, sql, args...)
	done(err)
	return tag{ct}, err
}

func (q querier) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	done := q.trace(ctx, sql, args)
	rs, err := q.db.Query(ctx, sql, args...)
	done(err)
	if err != nil {
		return nil, err
	}
	return rows{r: rs}, nil
}

// QueryRow reports once Scan returns, pgx defers the error until then
func (q querier) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return row{r: q.db.QueryRow(ctx, sql, args...), after: q.trace(ctx, sql, args)}
}

func (q querier) trace(ctx context.Context, sql string, args []any) func(error) {
	if q.tracer == nil {
		return func(error) {}
	}
	start := time.Now()
	return func(err error) {
		us := time.Since(start).Microseconds()
		q.tracer.OnQuery(ctx, pg.QueryEvent{
			SQL:       sql,
			Args:      args,
			ElapsedUS: us,
			Err:       err,
			Slow:      q.slowUS >= 0 && us >= q.slowUS,
		})
	}
}

// pgAdapter is the pooled TxRunner handed to repos
type pgAdapter struct {
	querier
	p *pg.PG
}

func newPGAdapter(p *pg.PG) *pgAdapter {
	return &pgAdapter{
		querier: querier{db: p.Pool, tracer: p.Tracer, slowUS: int64(p.SlowMs) * 1000},
		p:       p,
	}
}

func (a *pgAdapter) Ping(ctx context.Context) error {
	if a == nil || a.p == nil {
		return errors.New("pg: nil adapter")
	}
	return a.p.Pool.Ping(ctx)
}

func (a *pgAdapter) Close() error { a.p.Close(); return nil }

// Tx commits when fn returns nil and rolls back otherwise
func (a *pgAdapter) Tx(ctx context.Context, fn func(q RowQuerier) error) error {
	tx, err := a.p.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	q := a.querier
	q.db = tx
	if err := fn(q); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

type row struct {
	r     pgx.Row
	after func(error)
}

func (x row) Scan(dst ...any) error {
	err := x.r.Scan(dst...)
	if x.after != nil {
		x.after(err)
	}
	return err
}

type rows struct{ r pgx.Rows }

func (x rows) Next() bool            { return x.r.Next() }
func (x rows) Scan(dst ...any) error { return x.r.Scan(dst...) }
func (x rows) Err() error            { return x.r.Err() }
func (x rows) Close()                { x.r.Close() }
func (x rows) Columns() []string {
	f := x.r.FieldDescriptions()
	out := make([]string, len(f))
	for i := range f {
		out[i] = f[i].Name
	}
	return out
}

type tag struct{ t pgconn.CommandTag }

func (t tag) String() string      { return t.t.String() }
func (t tag) RowsAffected() int64 { return t.t.RowsAffected() }
