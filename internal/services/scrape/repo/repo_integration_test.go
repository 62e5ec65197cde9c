//go:build integration_pg

package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"ghdiscover/internal/platform/store"
	"ghdiscover/internal/services/scrape/domain"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "postgres",
				"POSTGRES_DB":       "postgres",
			},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			).WithDeadline(2 * time.Minute),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	return fmt.Sprintf("postgres://postgres:postgres@%s:%s/postgres?sslmode=disable", host, port.Port())
}

func TestTxLedger_Integration(t *testing.T) {
	dsn := startPostgres(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	st, err := store.Open(ctx, store.Config{
		AppName: "ghdiscover-ledger-it",
		PG:      store.PGConfig{Enabled: true, URL: dsn, MaxConns: 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = st.Close(context.Background()) }()

	if err := Migrate(ctx, st.PG); err != nil {
		t.Fatal(err)
	}
	if err := Migrate(ctx, st.PG); err != nil {
		t.Fatalf("migrate must be idempotent: %v", err)
	}

	l := NewTxLedger(st.PG, 5*time.Second)
	run := uuid.NewString()
	shard := domain.Shard{Year: 2015, Month: 1, Day: 1, Hour: 15}

	if err := l.StartShard(ctx, run, shard); err != nil {
		t.Fatal(err)
	}
	fin := domain.ShardFinish{Status: domain.StatusDone, Attempts: 2, Restarts: 1, Bytes: 10, Records: 3, Elapsed: 1500 * time.Millisecond}
	if err := l.FinishShard(ctx, run, shard, fin); err != nil {
		t.Fatal(err)
	}

	var status string
	var records, elapsed int64
	var errText *string
	err = st.PG.QueryRow(ctx,
		`SELECT status, records, elapsed_ms, error FROM scrape_shards WHERE run_id = $1 AND hour_utc = $2`,
		run, shard.UTC()).Scan(&status, &records, &elapsed, &errText)
	if err != nil {
		t.Fatal(err)
	}
	if status != "done" || records != 3 || elapsed != 1500 || errText != nil {
		t.Fatalf("row status=%s records=%d elapsed=%d err=%v", status, records, elapsed, errText)
	}

	var done int
	if err := st.PG.QueryRow(ctx, `SELECT shards_done FROM scrape_runs WHERE run_id = $1`, run).Scan(&done); err != nil {
		t.Fatal(err)
	}
	if done != 1 {
		t.Fatalf("shards_done=%d", done)
	}

	other := shard.Next()
	if err := l.FinishShard(ctx, run, other, fin); err == nil {
		t.Fatal("finishing an unknown shard must fail")
	}
}
