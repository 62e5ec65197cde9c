// Package domain holds the types and ports shared by the scrape pipeline
package domain

import (
	"time"

	"ghdiscover/internal/adapters/ingest/gharchive"
)

// Shard is one GH Archive hour, the unit of work of the pipeline
type Shard = gharchive.HourRef

// EventEnvelope is the decoded outer event shape
type EventEnvelope = gharchive.EventEnvelope

// Interval is the spacing between consecutive shards
const Interval = time.Hour

// NewShard returns the shard holding t
func NewShard(t time.Time) Shard { return gharchive.NewHourRef(t) }

// Stage names, used as supervisor labels, metric labels and ledger keys
const (
	StageFetch      = "fetch"
	StageDecompress = "decompress"
	StageParse      = "parse"
	StageMap        = "map"
)

// Event is one decoded record handed to the mapper pool.
// The receiving worker owns it; Raw is a private copy of the line
type Event struct {
	Shard    Shard
	Line     int // 1 based line number within the shard
	Envelope EventEnvelope
	Raw      []byte
}

// ShardStatus is the terminal state of a shard
type ShardStatus string

const (
	StatusRunning  ShardStatus = "running"
	StatusDone     ShardStatus = "done"
	StatusFailed   ShardStatus = "failed"
	StatusMissing  ShardStatus = "missing" // hour not published
	StatusCanceled ShardStatus = "canceled"
)

// ShardFinish is what the ledger keeps for a finished shard
type ShardFinish struct {
	Status   ShardStatus
	Attempts int
	Restarts int
	Bytes    int64 // compressed bytes fetched on the last attempt
	Inflated int64
	Records  int
	Skipped  int
	Elapsed  time.Duration
	ErrText  string
}
