package sink

import (
	"context"
	"strings"
	"time"

	"ghdiscover/internal/adapters/ingest/extract"
	"ghdiscover/internal/core/langhint"
	"ghdiscover/internal/core/normalize"
	perr "ghdiscover/internal/platform/errors"
	"ghdiscover/internal/platform/logger"
	"ghdiscover/internal/platform/store"
	pstrings "ghdiscover/internal/platform/strings"
	"ghdiscover/internal/services/scrape/domain"
)

// EventsTable is the default ClickHouse table rows are written to
const EventsTable = "gh_events"

// EventsSchema creates EventsTable
const EventsSchema = `CREATE TABLE IF NOT EXISTS gh_events (
	event_id    String,
	event_type  LowCardinality(String),
	created_at  DateTime64(3, 'UTC'),
	hour_utc    DateTime('UTC'),
	line        UInt32,
	actor_id    Int64,
	actor_login String,
	repo_id     Int64,
	repo_name   String,
	public      Bool,
	sources     Array(LowCardinality(String)),
	texts       Array(String),
	text_keys   Array(String),
	script      LowCardinality(String),
	lang        LowCardinality(String)
) ENGINE = ReplacingMergeTree
PARTITION BY toYYYYMM(hour_utc)
ORDER BY (hour_utc, event_type, event_id)`

const (
	defaultBatch     = 1000
	defaultMaxText   = 4096
	defaultFlushWait = 30 * time.Second
)

// RowConfig tunes RowMapper
type RowConfig struct {
	Table     string        // default EventsTable
	Batch     int           // rows per insert; <=0 -> 1000
	MaxText   int           // bytes kept per text fragment; <=0 -> 4096
	FlushWait time.Duration // budget of the final flush on Close
}

func (c RowConfig) withDefaults() RowConfig {
	if c.Table == "" {
		c.Table = EventsTable
	}
	if c.Batch <= 0 {
		c.Batch = defaultBatch
	}
	if c.MaxText <= 0 {
		c.MaxText = defaultMaxText
	}
	if c.FlushWait <= 0 {
		c.FlushWait = defaultFlushWait
	}
	return c
}

// RowMapper projects events to rows with normalized text and batch inserts them.
// It is owned by one worker slot and is not safe for concurrent use
type RowMapper struct {
	ch      store.Clickhouse
	cfg     RowConfig
	slot    int
	pending [][]any
	written int
}

// NewRowMapper returns a RowMapper writing through ch
func NewRowMapper(ch store.Clickhouse, slot int, cfg RowConfig) *RowMapper {
	cfg = cfg.withDefaults()
	return &RowMapper{ch: ch, cfg: cfg, slot: slot, pending: make([][]any, 0, cfg.Batch)}
}

// RowFactory builds one RowMapper per slot sharing ch
func RowFactory(ch store.Clickhouse, cfg RowConfig) domain.MapperFactory {
	return func(slot int) (domain.Mapper, error) {
		if ch == nil {
			return nil, perr.Newf(perr.ErrorCodeUnavailable, "clickhouse sink not configured")
		}
		return NewRowMapper(ch, slot, cfg), nil
	}
}

// Map implements domain.Mapper
func (m *RowMapper) Map(ctx context.Context, ev domain.Event) error {
	m.pending = append(m.pending, m.project(ev))
	if len(m.pending) < m.cfg.Batch {
		return nil
	}
	return m.Flush(ctx)
}

// Flush inserts the pending rows. They are discarded on failure
func (m *RowMapper) Flush(ctx context.Context) error {
	if len(m.pending) == 0 {
		return nil
	}
	rows := m.pending
	m.pending = make([][]any, 0, m.cfg.Batch)
	if err := m.ch.Insert(ctx, m.cfg.Table, rows); err != nil {
		logger.C(ctx).Warn().Err(err).
			Str("component", "sink").
			Int("slot", m.slot).
			Int("rows", len(rows)).
			Msg("insert failed, batch dropped")
		return perr.Wrapf(err, perr.ErrorCodeUnavailable, "insert %d rows into %s", len(rows), m.cfg.Table)
	}
	m.written += len(rows)
	return nil
}

// Written is the number of rows inserted so far
func (m *RowMapper) Written() int { return m.written }

// Close flushes what is left
func (m *RowMapper) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.FlushWait)
	defer cancel()
	return m.Flush(ctx)
}

// project maps ev to the column order of EventsSchema
func (m *RowMapper) project(ev domain.Event) []any {
	env := ev.Envelope
	frags := extract.Fragments(env)

	sources := make([]string, 0, len(frags))
	texts := make([]string, 0, len(frags))
	keys := make([]string, 0, len(frags))
	var all strings.Builder
	for _, f := range frags {
		text := normalize.Clean(pstrings.Truncate(f.Text, m.cfg.MaxText))
		if strings.TrimSpace(text) == "" {
			continue
		}
		sources = append(sources, f.Source)
		texts = append(texts, text)
		keys = append(keys, normalize.Key(text))
		all.WriteString(text)
		all.WriteByte('\n')
	}
	script, lang := langhint.Detect(all.String())

	return []any{
		env.ID,
		env.Type,
		env.CreatedAt.Time,
		ev.Shard.UTC(),
		uint32(ev.Line),
		env.Actor.ID,
		env.Actor.Login,
		env.Repo.ID,
		env.Repo.Name,
		env.Public,
		sources,
		texts,
		keys,
		script,
		lang,
	}
}

// Migrate creates EventsTable when missing
func Migrate(ctx context.Context, ch store.Clickhouse) error {
	if err := ch.Exec(ctx, EventsSchema); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeUnavailable, "create %s", EventsTable)
	}
	return nil
}
