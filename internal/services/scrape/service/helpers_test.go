package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"ghdiscover/internal/adapters/ingest/gharchive"
	perr "ghdiscover/internal/platform/errors"
	"ghdiscover/internal/services/scrape/domain"
	"ghdiscover/internal/services/scrape/mapper"
	"ghdiscover/internal/services/scrape/repo"
	"ghdiscover/internal/services/scrape/supervisor"
)

var t0 = time.Date(2015, 1, 1, 15, 0, 0, 0, time.UTC)

func gz(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// records returns n ndjson lines unique to shard
func records(shard domain.Shard, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf(`{"id":"%s-%d","type":"PushEvent","actor":{"id":%d,"login":"u%d"},"repo":{"id":1,"name":"o/r"},"payload":{}}`,
			shard, i, i+1, i)
	}
	return out
}

func ndjson(lines []string) string {
	var b bytes.Buffer
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return b.String()
}

// fakeSource serves gz bodies per shard. hook, when set, may replace a body per open
type fakeSource struct {
	mu     sync.Mutex
	bodies map[domain.Shard][]byte
	opens  map[domain.Shard]int
	hook   func(ctx context.Context, shard domain.Shard, n int, body []byte) (io.ReadCloser, error)
}

func newSource() *fakeSource {
	return &fakeSource{bodies: map[domain.Shard][]byte{}, opens: map[domain.Shard]int{}}
}

func (s *fakeSource) put(shard domain.Shard, body []byte) {
	s.mu.Lock()
	s.bodies[shard] = body
	s.mu.Unlock()
}

func (s *fakeSource) Open(ctx context.Context, shard domain.Shard) (io.ReadCloser, error) {
	s.mu.Lock()
	s.opens[shard]++
	n := s.opens[shard]
	body, ok := s.bodies[shard]
	hook := s.hook
	s.mu.Unlock()

	if hook != nil {
		if rc, err := hook(ctx, shard, n, body); rc != nil || err != nil {
			return rc, err
		}
	}
	if !ok {
		return nil, perr.NotFoundf("no archive for %s", shard)
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (s *fakeSource) openCount(shard domain.Shard) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens[shard]
}

// blockingBody blocks every read until ctx ends or release is closed
type blockingBody struct {
	ctx     context.Context
	release <-chan struct{}
	r       io.Reader
}

func (b *blockingBody) Read(p []byte) (int, error) {
	select {
	case <-b.ctx.Done():
		return 0, b.ctx.Err()
	case <-b.release:
		return b.r.Read(p)
	}
}

func (b *blockingBody) Close() error { return nil }

// collector records every mapped event across slots
type collector struct {
	mu  sync.Mutex
	raw map[string]int
	n   int
}

func newCollector() *collector { return &collector{raw: map[string]int{}} }

func (c *collector) factory() domain.MapperFactory {
	return func(int) (domain.Mapper, error) {
		return domain.MapperFunc(func(_ context.Context, ev domain.Event) error {
			c.mu.Lock()
			c.raw[string(ev.Raw)]++
			c.n++
			c.mu.Unlock()
			return nil
		}), nil
	}
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func (c *collector) snapshot() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.raw))
	for k, v := range c.raw {
		out[k] = v
	}
	return out
}

// outcomes collects driver outcomes
type outcomes struct {
	mu  sync.Mutex
	all map[domain.Shard]supervisor.Outcome
}

func (o *outcomes) hook(out supervisor.Outcome) {
	o.mu.Lock()
	if o.all == nil {
		o.all = map[domain.Shard]supervisor.Outcome{}
	}
	o.all[out.Shard] = out
	o.mu.Unlock()
}

func (o *outcomes) get(shard domain.Shard) (supervisor.Outcome, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	out, ok := o.all[shard]
	return out, ok
}

func (o *outcomes) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.all)
}

type harness struct {
	src    *fakeSource
	col    *collector
	pool   *mapper.Pool
	ledger *repo.Memory
	outs   *outcomes
	sup    *supervisor.Supervisor
}

func newHarness() *harness {
	col := newCollector()
	return &harness{
		src:    newSource(),
		col:    col,
		pool:   mapper.NewPool(mapper.Config{Size: 2}, col.factory()),
		ledger: repo.NewMemory(),
		outs:   &outcomes{},
		sup: supervisor.New(supervisor.Policy{
			MaxRestarts: 3,
			BackoffBase: time.Millisecond,
			BackoffMax:  2 * time.Millisecond,
		}),
	}
}

func (h *harness) driver(cfg Config, opts ...Option) *Driver {
	opts = append([]Option{WithOutcomeHook(h.outs.hook)}, opts...)
	return New(Deps{
		Source:     h.src,
		Codec:      gharchive.GzipCodec{},
		Decoder:    gharchive.JSONDecoder{},
		Pool:       h.pool,
		Supervisor: h.sup,
		Ledger:     h.ledger,
	}, cfg, opts...)
}

// run starts Scrape in the background; stop cancels it and returns its result
func run(d *Driver, start, end time.Time) (stop func() error) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Scrape(ctx, start, end) }()
	return func() error {
		cancel()
		return <-done
	}
}
