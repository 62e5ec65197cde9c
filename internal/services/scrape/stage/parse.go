package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"ghdiscover/internal/core/streamlink"
	perr "ghdiscover/internal/platform/errors"
	"ghdiscover/internal/platform/logger"
	pstrings "ghdiscover/internal/platform/strings"
	"ghdiscover/internal/services/scrape/domain"
)

// DefaultMaxRecordBytes caps a single line; real dumps carry multi MB push events
const DefaultMaxRecordBytes = 32 * 1024 * 1024

const sampleRawMax = 512

// ParserOptions tunes the record parser
type ParserOptions struct {
	MaxRecordBytes int
	SkipMalformed  bool
}

// DefaultParserOptions skips malformed lines and caps records at 32 MiB
func DefaultParserOptions() ParserOptions {
	return ParserOptions{MaxRecordBytes: DefaultMaxRecordBytes, SkipMalformed: true}
}

// ParserStats counts what a parser has seen since its last Reset
type ParserStats struct {
	Records int
	Skipped int
	Bytes   int64
}

// Parser splits an NDJSON byte stream into lines and decodes each one.
// A record may be split across any number of chunks. Not safe for concurrent use
type Parser struct {
	dec     domain.RecordDecoder
	opts    ParserOptions
	shard   domain.Shard
	pending []byte
	line    int
	stats   ParserStats
}

// NewParser builds a parser around dec
func NewParser(dec domain.RecordDecoder, opts ParserOptions) *Parser {
	if opts.MaxRecordBytes <= 0 {
		opts.MaxRecordBytes = DefaultMaxRecordBytes
	}
	return &Parser{dec: dec, opts: opts}
}

// Reset clears state and binds the parser to shard
func (p *Parser) Reset(shard domain.Shard) {
	p.shard = shard
	p.pending = p.pending[:0]
	p.line = 0
	p.stats = ParserStats{}
}

// Stats returns the counters since the last Reset
func (p *Parser) Stats() ParserStats { return p.stats }

// Parse drains in, calling onRecord for each record before reading further.
// It returns nil at a clean end of stream
func (p *Parser) Parse(ctx context.Context, shard domain.Shard, in *streamlink.Link[[]byte], onRecord func(domain.Event) error) error {
	defer in.CloseRead()
	p.Reset(shard)
	for {
		chunk, err := in.Read(ctx)
		if err == io.EOF {
			return domain.Tag(domain.StageParse, shard, p.Finish(onRecord))
		}
		if err != nil {
			return domain.Upstream(domain.StageParse, shard, err)
		}
		if err := p.Feed(chunk, onRecord); err != nil {
			return domain.Tag(domain.StageParse, shard, err)
		}
	}
}

// Feed consumes one chunk, emitting every line it completes
func (p *Parser) Feed(chunk []byte, onRecord func(domain.Event) error) error {
	p.stats.Bytes += int64(len(chunk))
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			if len(p.pending)+len(chunk) > p.opts.MaxRecordBytes {
				return p.oversize()
			}
			p.pending = append(p.pending, chunk...)
			return nil
		}
		if len(p.pending)+i > p.opts.MaxRecordBytes {
			return p.oversize()
		}

		line := chunk[:i]
		if len(p.pending) > 0 {
			p.pending = append(p.pending, line...)
			line = p.pending
		}
		chunk = chunk[i+1:]
		err := p.emit(line, onRecord)
		p.pending = p.pending[:0]
		if err != nil {
			return err
		}
	}
	return nil
}

// Finish handles the bytes left after the last newline. A complete JSON value
// is emitted; anything else is a truncated record
func (p *Parser) Finish(onRecord func(domain.Event) error) error {
	tail := bytes.TrimSpace(p.pending)
	p.pending = p.pending[:0]
	if len(tail) == 0 {
		return nil
	}
	if !json.Valid(tail) {
		return domain.Parse(p.shard, perr.Wrapf(domain.ErrTruncated, perr.ErrorCodeParse,
			"stream ended inside line %d (%d bytes pending)", p.line+1, len(tail)))
	}
	return p.emit(tail, onRecord)
}

func (p *Parser) emit(line []byte, onRecord func(domain.Event) error) error {
	p.line++
	line = bytes.TrimSuffix(line, []byte{'\r'})
	if len(bytes.TrimSpace(line)) == 0 {
		return nil
	}

	env, err := p.dec.Decode(line)
	if err != nil {
		if !p.opts.SkipMalformed {
			return domain.Parse(p.shard, perr.Wrapf(err, perr.ErrorCodeParse, "line %d", p.line))
		}
		p.stats.Skipped++
		if p.stats.Skipped == 1 {
			logger.Named("parser").Debug().
				Str("shard", p.shard.String()).
				Int("line", p.line).
				Err(err).
				Str("sample_raw", pstrings.Truncate(string(line), sampleRawMax)).
				Msg("parser: skipping malformed line")
		}
		return nil
	}

	p.stats.Records++
	return onRecord(domain.Event{
		Shard:    p.shard,
		Line:     p.line,
		Envelope: env,
		Raw:      bytes.Clone(line),
	})
}

func (p *Parser) oversize() error {
	return domain.Parse(p.shard, perr.Parsef("line %d exceeds %d bytes", p.line+1, p.opts.MaxRecordBytes))
}
