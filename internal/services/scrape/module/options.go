package module

import (
	"time"

	"ghdiscover/internal/adapters/ingest/gharchive"
	"ghdiscover/internal/platform/config"
	"ghdiscover/internal/platform/validate"
	"ghdiscover/internal/services/scrape/stage"
)

// Sink kinds
const (
	SinkLog        = "log"
	SinkClickhouse = "clickhouse"
)

// Ingest sources
const (
	SourceHTTP = "http"
	SourceDir  = "dir"
)

// Options holds configuration options for the scrape module
type Options struct {
	Workers     int    `env:"CORE_SCRAPE_WORKERS" validate:"min=1,max=1024"`
	Queue       int    `env:"CORE_SCRAPE_QUEUE" validate:"min=0"`
	BusyPolicy  string `env:"CORE_SCRAPE_BUSY_POLICY" validate:"oneof=block drop"`
	Sink        string `env:"CORE_SCRAPE_SINK" validate:"oneof=log clickhouse"`
	SinkBatch   int    `env:"CORE_SCRAPE_SINK_BATCH" validate:"min=1"`
	MaxInFlight int    `env:"CORE_SCRAPE_MAX_IN_FLIGHT" validate:"min=0"`

	LinkCapacity   int  `env:"CORE_SCRAPE_LINK_CAPACITY" validate:"min=1"`
	ChunkBytes     int  `env:"CORE_SCRAPE_CHUNK_BYTES" validate:"min=512"`
	SkipMalformed  bool `env:"CORE_SCRAPE_SKIP_MALFORMED"`
	MaxRecordBytes int  `env:"CORE_SCRAPE_MAX_RECORD_BYTES" validate:"min=1024"`

	MaxRestarts int           `env:"CORE_SCRAPE_MAX_RESTARTS" validate:"min=0"`
	RetryBase   time.Duration `env:"CORE_SCRAPE_RETRY_BASE" validate:"min=0"`
	RetryMax    time.Duration `env:"CORE_SCRAPE_RETRY_MAX" validate:"gtefield=RetryBase"`
	ShardPolicy string        `env:"CORE_SCRAPE_SHARD_POLICY" validate:"oneof=retry abandon"`

	LaunchDelay   time.Duration `env:"CORE_SCRAPE_LAUNCH_DELAY" validate:"min=0"`
	DrainTimeout  time.Duration `env:"CORE_SCRAPE_DRAIN_TIMEOUT" validate:"min=0"`
	Heartbeat     time.Duration `env:"CORE_SCRAPE_HEARTBEAT" validate:"min=0"`
	Follow        bool          `env:"CORE_SCRAPE_FOLLOW"`
	PublishLag    time.Duration `env:"CORE_SCRAPE_PUBLISH_LAG" validate:"min=0"`
	FetchTimeout  time.Duration `env:"CORE_SCRAPE_FETCH_TIMEOUT" validate:"min=0"`
	ShardTimeout  time.Duration `env:"CORE_SCRAPE_SHARD_TIMEOUT" validate:"min=0"`
	LedgerTimeout time.Duration `env:"CORE_SCRAPE_LEDGER_TIMEOUT" validate:"min=0"`

	Ingest IngestOptions
}

// IngestOptions picks and tunes the archive source
type IngestOptions struct {
	Source      string        `env:"CORE_INGEST_SOURCE" validate:"oneof=http dir"`
	BaseURL     string        `env:"CORE_INGEST_BASE_URL" validate:"required_if=Source http,omitempty,url"`
	Dir         string        `env:"CORE_INGEST_DIR" validate:"required_if=Source dir"`
	HTTPTimeout time.Duration `env:"CORE_INGEST_HTTP_TIMEOUT_SECONDS" validate:"min=0"`
	HTTPRetries int           `env:"CORE_INGEST_HTTP_RETRIES" validate:"min=0,max=20"`
	FetchRPS    float64       `env:"CORE_INGEST_FETCH_RPS" validate:"min=0"`
	FetchBurst  int           `env:"CORE_INGEST_FETCH_BURST" validate:"min=1"`
}

// FromConfig reads the scrape options with the CORE_SCRAPE_ and CORE_INGEST_ prefixes
func FromConfig(cfg config.Conf) Options {
	sc := cfg.Prefix("CORE_SCRAPE_")
	in := cfg.Prefix("CORE_INGEST_")
	return Options{
		Workers:     sc.MayInt("WORKERS", 2),
		Queue:       sc.MayInt("QUEUE", 0),
		BusyPolicy:  sc.MayEnum("BUSY_POLICY", "block", "block", "drop"),
		Sink:        sc.MayEnum("SINK", SinkLog, SinkLog, SinkClickhouse),
		SinkBatch:   sc.MayInt("SINK_BATCH", 1000),
		MaxInFlight: sc.MayInt("MAX_IN_FLIGHT", 0),

		LinkCapacity:   sc.MayInt("LINK_CAPACITY", 16),
		ChunkBytes:     sc.MayInt("CHUNK_BYTES", stage.DefaultChunkBytes),
		SkipMalformed:  sc.MayBool("SKIP_MALFORMED", true),
		MaxRecordBytes: sc.MayInt("MAX_RECORD_BYTES", stage.DefaultMaxRecordBytes),

		MaxRestarts: sc.MayInt("MAX_RESTARTS", 3),
		RetryBase:   sc.MayDuration("RETRY_BASE", 500*time.Millisecond),
		RetryMax:    sc.MayDuration("RETRY_MAX", 30*time.Second),
		ShardPolicy: sc.MayEnum("SHARD_POLICY", "retry", "retry", "abandon"),

		LaunchDelay:   sc.MayDuration("LAUNCH_DELAY", 0),
		DrainTimeout:  sc.MayDuration("DRAIN_TIMEOUT", 2*time.Minute),
		Heartbeat:     sc.MayDuration("HEARTBEAT", time.Second),
		Follow:        sc.MayBool("FOLLOW", false),
		PublishLag:    sc.MayDuration("PUBLISH_LAG", 15*time.Minute),
		FetchTimeout:  sc.MayDuration("FETCH_TIMEOUT", 10*time.Minute),
		ShardTimeout:  sc.MayDuration("SHARD_TIMEOUT", 0),
		LedgerTimeout: sc.MayDuration("LEDGER_TIMEOUT", 5*time.Second),

		Ingest: IngestOptions{
			Source:      in.MayEnum("SOURCE", SourceHTTP, SourceHTTP, SourceDir),
			BaseURL:     in.MayString("BASE_URL", gharchive.DefaultBaseURL),
			Dir:         in.MayString("DIR", ""),
			HTTPTimeout: time.Duration(in.MayInt("HTTP_TIMEOUT_SECONDS", 0)) * time.Second,
			HTTPRetries: in.MayInt("HTTP_RETRIES", 2),
			FetchRPS:    in.MayFloat64("FETCH_RPS", 0),
			FetchBurst:  in.MayInt("FETCH_BURST", 1),
		},
	}
}

// Validate checks ranges and cross field rules
func (o Options) Validate() error {
	return validate.Struct(o)
}
