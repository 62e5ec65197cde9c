// Package sink holds the mappers events are handed to by the worker pool
package sink

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"ghdiscover/internal/platform/logger"
	"ghdiscover/internal/services/scrape/domain"
)

// LogMapper counts events per type and logs the tally when its slot retires
type LogMapper struct {
	slot   int
	total  int
	counts map[string]int
}

// NewLogMapper returns a LogMapper for a worker slot
func NewLogMapper(slot int) *LogMapper {
	return &LogMapper{slot: slot, counts: map[string]int{}}
}

// LogFactory builds one LogMapper per slot
func LogFactory() domain.MapperFactory {
	return func(slot int) (domain.Mapper, error) { return NewLogMapper(slot), nil }
}

// Map implements domain.Mapper
func (m *LogMapper) Map(ctx context.Context, ev domain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := ev.Envelope.Type
	if t == "" {
		t = "unknown"
	}
	m.counts[t]++
	m.total++
	return nil
}

// Counts returns a copy of the per type tally
func (m *LogMapper) Counts() map[string]int {
	out := make(map[string]int, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	return out
}

// Close logs the tally
func (m *LogMapper) Close() error {
	if m.total == 0 {
		return nil
	}
	types := make([]string, 0, len(m.counts))
	for k := range m.counts {
		types = append(types, k)
	}
	sort.Strings(types)

	dict := zerolog.Dict()
	for _, k := range types {
		dict = dict.Int(k, m.counts[k])
	}
	logger.Named("sink").Info().
		Int("slot", m.slot).
		Int("events", m.total).
		Dict("types", dict).
		Msg("mapper flushed")
	return nil
}
