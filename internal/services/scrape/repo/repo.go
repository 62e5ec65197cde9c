// Package repo persists shard progress in postgres
package repo

import (
	"context"
	"errors"
	"time"

	"ghdiscover/internal/modkit/repokit"
	perr "ghdiscover/internal/platform/errors"
	"ghdiscover/internal/platform/store"
	pstrings "ghdiscover/internal/platform/strings"
	"ghdiscover/internal/services/scrape/domain"
)

// Schema is the DDL of the ledger tables, one statement per entry
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS scrape_runs (
		run_id        uuid PRIMARY KEY,
		started_at    timestamptz NOT NULL DEFAULT now(),
		updated_at    timestamptz NOT NULL DEFAULT now(),
		shards_done   integer NOT NULL DEFAULT 0,
		shards_failed integer NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS scrape_shards (
		run_id         uuid NOT NULL REFERENCES scrape_runs (run_id) ON DELETE CASCADE,
		hour_utc       timestamptz NOT NULL,
		status         text NOT NULL,
		started_at     timestamptz NOT NULL DEFAULT now(),
		finished_at    timestamptz,
		attempts       integer NOT NULL DEFAULT 0,
		restarts       integer NOT NULL DEFAULT 0,
		bytes_fetched  bigint NOT NULL DEFAULT 0,
		bytes_inflated bigint NOT NULL DEFAULT 0,
		records        bigint NOT NULL DEFAULT 0,
		skipped        bigint NOT NULL DEFAULT 0,
		elapsed_ms     bigint NOT NULL DEFAULT 0,
		error          text,
		PRIMARY KEY (run_id, hour_utc)
	)`,
	`CREATE INDEX IF NOT EXISTS scrape_shards_status_idx ON scrape_shards (status, hour_utc)`,
}

// Migrate applies Schema. Every statement is idempotent
func Migrate(ctx context.Context, q repokit.Queryer) error {
	for _, stmt := range Schema {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return perr.Wrapf(err, perr.ErrorCodeUnavailable, "migrate ledger")
		}
	}
	return nil
}

type (
	// PG is a Postgres binder for domain.Ledger
	PG      struct{}
	queries struct{ q repokit.Queryer }
)

// NewPG returns a Postgres binder for domain.Ledger
func NewPG() repokit.Binder[domain.Ledger] { return PG{} }

// Bind implements repokit.Binder
func (PG) Bind(q repokit.Queryer) domain.Ledger { return &queries{q: q} }

// StartShard registers the run if needed and marks the shard running (idempotent)
func (r *queries) StartShard(ctx context.Context, runID string, shard domain.Shard) error {
	if _, err := r.q.Exec(ctx, `
		INSERT INTO scrape_runs (run_id) VALUES ($1)
		ON CONFLICT (run_id) DO NOTHING
	`, runID); err != nil {
		return err
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO scrape_shards (run_id, hour_utc, status, started_at)
		VALUES ($1, $2, 'running', now())
		ON CONFLICT (run_id, hour_utc) DO UPDATE
		SET status = 'running', started_at = now(), finished_at = null, error = null
	`, runID, shard.UTC())
	return err
}

// FinishShard stores the terminal state of a started shard and bumps the run counters
func (r *queries) FinishShard(ctx context.Context, runID string, shard domain.Shard, fin domain.ShardFinish) error {
	err := store.ExecOne(ctx, r.q, `
		UPDATE scrape_shards SET
			finished_at = now(),
			status = $3,
			attempts = $4,
			restarts = $5,
			bytes_fetched = $6,
			bytes_inflated = $7,
			records = $8,
			skipped = $9,
			elapsed_ms = $10,
			error = $11
		WHERE run_id = $1 AND hour_utc = $2
	`,
		runID, shard.UTC(), string(fin.Status), fin.Attempts, fin.Restarts, fin.Bytes, fin.Inflated,
		fin.Records, fin.Skipped, fin.Elapsed.Milliseconds(), pstrings.SQLNull(fin.ErrText),
	)
	if errors.Is(err, perr.ErrNotFound) {
		return perr.NotFoundf("shard %s of run %s was never started", shard, runID)
	}
	if err != nil {
		return err
	}

	done, failed := 0, 0
	switch fin.Status {
	case domain.StatusDone:
		done = 1
	case domain.StatusFailed:
		failed = 1
	}
	_, err = r.q.Exec(ctx, `
		UPDATE scrape_runs SET
			shards_done = shards_done + $2,
			shards_failed = shards_failed + $3,
			updated_at = now()
		WHERE run_id = $1
	`, runID, done, failed)
	return err
}

// TxLedger runs every ledger write in its own transaction
type TxLedger struct {
	tx     repokit.TxRunner
	binder repokit.Binder[domain.Ledger]
}

// NewTxLedger wraps tx. A positive timeout caps each statement
func NewTxLedger(tx repokit.TxRunner, timeout time.Duration) *TxLedger {
	if timeout > 0 {
		tx = repokit.WithBeginHooks(tx, repokit.StatementTimeout(timeout))
	}
	return &TxLedger{tx: tx, binder: NewPG()}
}

// StartShard implements domain.Ledger
func (l *TxLedger) StartShard(ctx context.Context, runID string, shard domain.Shard) error {
	return l.do(ctx, "start "+shard.String(), func(r domain.Ledger) error {
		return r.StartShard(ctx, runID, shard)
	})
}

// FinishShard implements domain.Ledger
func (l *TxLedger) FinishShard(ctx context.Context, runID string, shard domain.Shard, fin domain.ShardFinish) error {
	return l.do(ctx, "finish "+shard.String(), func(r domain.Ledger) error {
		return r.FinishShard(ctx, runID, shard, fin)
	})
}

// do runs fn in a tx, once more on serialization failures and deadlocks
func (l *TxLedger) do(ctx context.Context, what string, fn func(domain.Ledger) error) error {
	var err error
	for range 2 {
		err = repokit.WithTx(ctx, l.tx, func(q repokit.Queryer) error {
			return fn(repokit.MustBind(l.binder, q))
		})
		if err == nil || !perr.IsRetryable(err) {
			break
		}
	}
	if err == nil || perr.IsCode(err, perr.ErrorCodeNotFound) {
		return err
	}
	return perr.FromPostgresf(err, "ledger: %s", what)
}
