package pg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"ghdiscover/internal/platform/logger"

	"github.com/rs/zerolog"
)

func testLogger(w io.Writer) logger.Logger {
	if w == nil {
		w = io.Discard
	}
	return zerolog.New(w).Level(zerolog.ErrorLevel)
}

func TestCompact(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]string{
		"select 1": "select 1",
		"\n  UPDATE scrape_shards\n\tSET status = $1\r\n  WHERE shard = $2 ": "UPDATE scrape_shards SET status = $1 WHERE shard = $2",
		"": "",
	} {
		if got := compact(in); got != want {
			t.Fatalf("compact(%q) = %q", in, got)
		}
	}
}

func TestTracer_LevelsAndContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	// root at error level still traces
	tr := Tracer(testLogger(&buf))

	type line struct {
		Level     string  `json:"level"`
		ElapsedMS float64 `json:"elapsed_ms"`
		Slow      bool    `json:"slow"`
		SQL       string  `json:"sql"`
		Error     string  `json:"error"`
		Component string  `json:"component"`
		RunID     string  `json:"run_id"`
		Shard     string  `json:"shard"`
	}
	read := func() line {
		t.Helper()
		var l line
		if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &l); err != nil {
			t.Fatalf("decode %q: %v", buf.String(), err)
		}
		buf.Reset()
		return l
	}

	ctx := logger.WithRun(context.Background(), "run-1", "2024-01-01-0")
	tr.OnQuery(ctx, QueryEvent{SQL: "INSERT INTO scrape_runs\n VALUES ($1)", ElapsedUS: 1500})
	l := read()
	if l.Level != "debug" || l.ElapsedMS != 1.5 || l.SQL != "INSERT INTO scrape_runs VALUES ($1)" {
		t.Fatalf("debug line = %+v", l)
	}
	if l.Component != "pg" || l.RunID != "run-1" || l.Shard != "2024-01-01-0" {
		t.Fatalf("context fields = %+v", l)
	}

	tr.OnQuery(context.Background(), QueryEvent{SQL: "SELECT 1", Slow: true})
	if l := read(); l.Level != "warn" || !l.Slow {
		t.Fatalf("slow line = %+v", l)
	}

	tr.OnQuery(context.Background(), QueryEvent{SQL: "SELECT 1", Err: errors.New("boom")})
	if l := read(); l.Level != "warn" || l.Error != "boom" {
		t.Fatalf("error line = %+v", l)
	}
}
