package domain

import (
	"context"
	"io"
	"time"
)

// RunnerPort is what the binary drives
type RunnerPort interface {
	Scrape(ctx context.Context, start, end time.Time) error
}

// ArchiveSource opens the compressed body of a shard
type ArchiveSource interface {
	Open(ctx context.Context, shard Shard) (io.ReadCloser, error)
}

// Codec turns a compressed stream into a plain one
type Codec interface {
	NewReader(r io.Reader) (io.ReadCloser, error)
}

// RecordDecoder decodes one complete line
type RecordDecoder interface {
	Decode(line []byte) (EventEnvelope, error)
}

// Mapper consumes decoded events. Implementations that also satisfy io.Closer
// are closed when their worker slot retires
type Mapper interface {
	Map(ctx context.Context, ev Event) error
}

// MapperFunc adapts a function to Mapper
type MapperFunc func(ctx context.Context, ev Event) error

// Map calls f
func (f MapperFunc) Map(ctx context.Context, ev Event) error { return f(ctx, ev) }

// MapperFactory builds the private mapper of a worker slot
type MapperFactory func(slot int) (Mapper, error)

// Ledger records shard progress
type Ledger interface {
	StartShard(ctx context.Context, runID string, shard Shard) error
	FinishShard(ctx context.Context, runID string, shard Shard, fin ShardFinish) error
}
