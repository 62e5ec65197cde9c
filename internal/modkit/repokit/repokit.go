// Package repokit provides the sql seams repositories are written against
package repokit

import (
	"context"
	"fmt"
	"time"

	"ghdiscover/internal/platform/store"
)

type (
	Queryer  = store.RowQuerier
	TxRunner = store.TxRunner
)

// WithTx runs fn inside one transaction of tx
func WithTx(ctx context.Context, tx TxRunner, fn func(q Queryer) error) error {
	return tx.Tx(ctx, fn)
}

// Binder binds a repo to a Queryer, usually the one of an open transaction
type Binder[T any] interface {
	Bind(Queryer) T
}

// MustBind binds q, panicking on a nil Queryer
func MustBind[T any](b Binder[T], q Queryer) T {
	if q == nil {
		panic("repokit: nil Queryer")
	}
	return b.Bind(q)
}

// BeginHook runs first inside every transaction, on the tx bound Queryer
type BeginHook func(ctx context.Context, q Queryer) error

// WithBeginHooks returns a TxRunner whose transactions run hooks before fn.
// Statements outside Tx go straight to inner
func WithBeginHooks(inner TxRunner, hooks ...BeginHook) TxRunner {
	return hookedTx{TxRunner: inner, hooks: hooks}
}

type hookedTx struct {
	TxRunner
	hooks []BeginHook
}

func (h hookedTx) Tx(ctx context.Context, fn func(q Queryer) error) error {
	return h.TxRunner.Tx(ctx, func(q Queryer) error {
		for _, hk := range h.hooks {
			if err := hk(ctx, q); err != nil {
				return err
			}
		}
		return fn(q)
	})
}

// StatementTimeout sets a transaction-local statement_timeout, d <= 0 leaves it alone
func StatementTimeout(d time.Duration) BeginHook {
	return func(ctx context.Context, q Queryer) error {
		if d <= 0 {
			return nil
		}
		_, err := q.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", d.Milliseconds()))
		return err
	}
}
