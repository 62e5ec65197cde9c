package repokit

import (
	"context"
	"errors"
	"testing"
	"time"

	"ghdiscover/internal/platform/store"
	"ghdiscover/internal/platform/testkit"
)

type execLog struct{ sql []string }

func (e *execLog) Exec(_ context.Context, sql string, _ ...any) (store.CommandTag, error) {
	e.sql = append(e.sql, sql)
	return nil, nil
}

func (e *execLog) Query(context.Context, string, ...any) (store.Rows, error) { return nil, nil }
func (e *execLog) QueryRow(context.Context, string, ...any) store.Row        { return nil }

type txLog struct {
	execLog
	q   *execLog
	txs int
}

func (t *txLog) Tx(_ context.Context, fn func(Queryer) error) error {
	t.txs++
	return fn(t.q)
}

type logBinder struct{}

func (logBinder) Bind(q Queryer) *execLog { return q.(*execLog) }

func TestMustBind(t *testing.T) {
	q := &execLog{}
	if MustBind[*execLog](logBinder{}, q) != q {
		t.Fatal("bind should hand q through")
	}
	testkit.MustPanic(t, func() { MustBind[*execLog](logBinder{}, nil) })
}

func TestWithBeginHooks_StatementTimeoutRunsFirst(t *testing.T) {
	inner := &txLog{q: &execLog{}}
	tx := WithBeginHooks(inner, StatementTimeout(1500*time.Millisecond), StatementTimeout(0))

	err := WithTx(context.Background(), tx, func(q Queryer) error {
		_, err := q.Exec(context.Background(), "UPDATE x")
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	got := inner.q.sql
	if inner.txs != 1 || len(got) != 2 || got[0] != "SET LOCAL statement_timeout = 1500" || got[1] != "UPDATE x" {
		t.Fatalf("tx=%d sql=%v", inner.txs, got)
	}

	if _, err := tx.Exec(context.Background(), "SELECT 1"); err != nil || inner.sql[0] != "SELECT 1" {
		t.Fatalf("outside tx should delegate: %v %v", err, inner.sql)
	}
}

func TestWithBeginHooks_HookErrorSkipsFn(t *testing.T) {
	boom := errors.New("hook")
	tx := WithBeginHooks(&txLog{q: &execLog{}}, func(context.Context, Queryer) error { return boom })
	called := false
	err := tx.Tx(context.Background(), func(Queryer) error { called = true; return nil })
	if !errors.Is(err, boom) || called {
		t.Fatalf("err=%v called=%v", err, called)
	}
}
