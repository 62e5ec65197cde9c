package store

import (
	"context"

	perr "ghdiscover/internal/platform/errors"
)

// ExecOne runs a write that must touch exactly one row.
// Zero rows is ErrNotFound so callers can tell a missing key from a failure
func ExecOne(ctx context.Context, q RowQuerier, sql string, args ...any) error {
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	switch n := tag.RowsAffected(); {
	case n == 1:
		return nil
	case n == 0:
		return perr.ErrNotFound
	default:
		return perr.Newf(perr.ErrorCodeDB, "%d rows affected, want 1", n)
	}
}
