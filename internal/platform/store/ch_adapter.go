package store

import (
	"context"
	"errors"

	"ghdiscover/internal/platform/store/ch"
)

type chClient interface {
	Insert(ctx context.Context, table string, rows [][]any) error
	Exec(ctx context.Context, sql string, args ...any) error
	Query(ctx context.Context, sql string, args ...any) (ch.Rows, error)
	Ping(ctx context.Context) error
	Close() error
}

// chAdapter exposes a ch client as Clickhouse. Insert, Exec and Close pass
// straight through the embedded client
type chAdapter struct{ chClient }

var (
	_ Clickhouse = (*chAdapter)(nil)
	_ Pinger     = (*chAdapter)(nil)
)

func newCHAdapter(c chClient) *chAdapter { return &chAdapter{chClient: c} }

func (a *chAdapter) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	r, err := a.chClient.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return chRows{r}, nil
}

func (a *chAdapter) Ping(ctx context.Context) error {
	if a == nil || a.chClient == nil {
		return errors.New("store: clickhouse not open")
	}
	return a.chClient.Ping(ctx)
}

// chRows narrows Close to the Rows signature
type chRows struct{ ch.Rows }

func (r chRows) Close() { _ = r.Rows.Close() }
