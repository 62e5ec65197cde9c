package pg

import (
	"context"
	"strings"

	"ghdiscover/internal/platform/logger"

	"github.com/rs/zerolog"
)

// QueryEvent describes one finished statement
type QueryEvent struct {
	SQL       string
	Args      any
	ElapsedUS int64
	Err       error
	Slow      bool
}

// QueryTracer receives an event per statement
type QueryTracer interface {
	OnQuery(ctx context.Context, ev QueryEvent)
}

// Tracer logs every statement at debug and slow ones at warn, tagged with
// the run and shard carried on ctx. It logs regardless of the root level
func Tracer(root logger.Logger) QueryTracer {
	return logTracer{log: root.Level(zerolog.DebugLevel).With().Str("component", "pg").Logger()}
}

type logTracer struct{ log logger.Logger }

func (t logTracer) OnQuery(ctx context.Context, ev QueryEvent) {
	l := logger.From(ctx, t.log)
	evt := l.Debug()
	if ev.Slow || ev.Err != nil {
		evt = l.Warn()
	}
	evt.Float64("elapsed_ms", float64(ev.ElapsedUS)/1000).
		Bool("slow", ev.Slow).
		Str("sql", compact(ev.SQL)).
		Interface("args", ev.Args).
		Err(ev.Err).
		Msg("pg query")
}

// compact folds whitespace runs so multi-line DDL logs on one line
func compact(s string) string { return strings.Join(strings.Fields(s), " ") }
