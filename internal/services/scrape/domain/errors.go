package domain

import (
	"context"
	"errors"
	"fmt"

	"ghdiscover/internal/core/streamlink"
)

// Failure kinds. Every StageError carries one of these so callers can use errors.Is
var (
	ErrTransport = errors.New("transport error")
	ErrCodec     = errors.New("codec error")
	ErrParse     = errors.New("parse error")
	ErrWorker    = errors.New("worker error")

	// ErrTruncated marks a stream that ended inside a record
	ErrTruncated = errors.New("truncated record")

	// ErrUpstream marks a stage that stopped because the stage feeding it failed
	ErrUpstream = errors.New("upstream stage failed")
)

// StageError tags a failure with the stage and shard it happened in
type StageError struct {
	Stage string
	Shard Shard
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	if e.Kind != nil {
		return fmt.Sprintf("%s %s: %v: %v", e.Stage, e.Shard, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Shard, e.Err)
}

// Unwrap exposes both the kind sentinel and the cause
func (e *StageError) Unwrap() []error {
	if e.Kind == nil {
		return []error{e.Err}
	}
	return []error{e.Kind, e.Err}
}

// Transport wraps a fetch failure
func Transport(shard Shard, err error) error {
	return &StageError{Stage: StageFetch, Shard: shard, Kind: ErrTransport, Err: err}
}

// CodecFailure wraps a decompression failure
func CodecFailure(shard Shard, err error) error {
	return &StageError{Stage: StageDecompress, Shard: shard, Kind: ErrCodec, Err: err}
}

// Parse wraps a record parsing failure
func Parse(shard Shard, err error) error {
	return &StageError{Stage: StageParse, Shard: shard, Kind: ErrParse, Err: err}
}

// Upstream marks err, read from stage's input link, as somebody else's failure
func Upstream(stage string, shard Shard, err error) error {
	return &StageError{Stage: stage, Shard: shard, Kind: ErrUpstream, Err: err}
}

// Tag attaches stage and shard to err unless it already carries them
func Tag(stage string, shard Shard, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Shard: shard, Err: err}
}

// Derived reports whether err is a consequence of another failure: upstream
// failure, downstream abandonment or cancellation
func Derived(err error) bool {
	return errors.Is(err, ErrUpstream) ||
		errors.Is(err, streamlink.ErrReaderGone) ||
		errors.Is(err, context.Canceled)
}
