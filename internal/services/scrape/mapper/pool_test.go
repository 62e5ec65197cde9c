package mapper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ghdiscover/internal/platform/metrics"
	"ghdiscover/internal/platform/testkit"
	"ghdiscover/internal/services/scrape/domain"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// recorder is a mapper that remembers what it saw; shared only through the mutex
type recorder struct {
	mu     *sync.Mutex
	seen   map[string]int
	closed *atomic.Int32
	fail   func(ev domain.Event) error
}

func (r *recorder) Map(_ context.Context, ev domain.Event) error {
	if r.fail != nil {
		if err := r.fail(ev); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.seen[string(ev.Raw)]++
	r.mu.Unlock()
	return nil
}

func (r *recorder) Close() error {
	r.closed.Add(1)
	return nil
}

type harness struct {
	mu     sync.Mutex
	seen   map[string]int
	built  atomic.Int32
	closed atomic.Int32
	fail   func(ev domain.Event) error
}

func newHarness() *harness { return &harness{seen: map[string]int{}} }

func (h *harness) factory(int) (domain.Mapper, error) {
	h.built.Add(1)
	return &recorder{mu: &h.mu, seen: h.seen, closed: &h.closed, fail: h.fail}, nil
}

func event(i int) domain.Event {
	return domain.Event{Line: i, Raw: []byte(fmt.Sprintf(`{"id":"%d"}`, i))}
}

func TestPool_KSubmissionsKInvocations(t *testing.T) {
	for _, cfg := range []Config{{Size: 1}, {Size: 2}, {Size: 4, QueueDepth: 8}} {
		t.Run(fmt.Sprintf("size=%d/queue=%d", cfg.Size, cfg.QueueDepth), func(t *testing.T) {
			h := newHarness()
			p := NewPool(cfg, h.factory)
			if err := p.Start(context.Background()); err != nil {
				t.Fatal(err)
			}

			const k = 200
			var wg sync.WaitGroup
			for s := range 4 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := s; i < k; i += 4 {
						if err := p.Submit(context.Background(), event(i)); err != nil {
							t.Errorf("submit %d: %v", i, err)
						}
					}
				}()
			}
			wg.Wait()
			if err := p.Close(); err != nil {
				t.Fatal(err)
			}

			if len(h.seen) != k {
				t.Fatalf("distinct events = %d want %d", len(h.seen), k)
			}
			for raw, n := range h.seen {
				if n != 1 {
					t.Fatalf("%s mapped %d times", raw, n)
				}
			}
			st := p.Stats()
			if st.Submitted != k || st.Mapped != k || st.Failed != 0 {
				t.Fatalf("stats = %+v", st)
			}
			if int(h.closed.Load()) != cfg.Size {
				t.Fatalf("closed %d mappers, want %d", h.closed.Load(), cfg.Size)
			}
		})
	}
}

func TestPool_FailureRestartsSlot(t *testing.T) {
	h := newHarness()
	h.fail = func(ev domain.Event) error {
		switch ev.Line {
		case 3:
			return errors.New("bad row")
		case 5:
			panic("boom")
		}
		return nil
	}
	m := metrics.New()
	p := NewPool(Config{Size: 1}, h.factory, WithMetrics(m))
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	for i := range 8 {
		if err := p.Submit(context.Background(), event(i)); err != nil {
			t.Fatalf("submitter must not see worker failures: %v", err)
		}
	}
	_ = p.Close()

	st := p.Stats()
	if st.Mapped != 6 || st.Failed != 2 || st.Restarts[0] != 2 {
		t.Fatalf("stats = %+v", st)
	}
	if h.built.Load() != 3 || h.closed.Load() != 3 {
		t.Fatalf("built %d closed %d", h.built.Load(), h.closed.Load())
	}
	if got := testutil.ToFloat64(m.WorkerFailures); got != 2 {
		t.Fatalf("worker failures metric = %v", got)
	}
	if got := testutil.ToFloat64(m.EventsMapped); got != 6 {
		t.Fatalf("mapped metric = %v", got)
	}
}

func TestPool_DropPolicy(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	factory := func(int) (domain.Mapper, error) {
		return domain.MapperFunc(func(context.Context, domain.Event) error {
			entered <- struct{}{}
			<-release
			return nil
		}), nil
	}
	p := NewPool(Config{Size: 1, Busy: Drop}, factory)
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	testkit.Eventually(t, time.Second, time.Millisecond, func() bool {
		return p.Submit(context.Background(), event(1)) == nil
	}, "idle worker should accept")
	<-entered
	before := p.Stats().Dropped

	if err := p.Submit(context.Background(), event(2)); !errors.Is(err, ErrDropped) {
		t.Fatalf("busy worker: %v", err)
	}
	close(release)
	_ = p.Close()
	if st := p.Stats(); st.Dropped != before+1 || st.Mapped != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestPool_BlockHonoursContext(t *testing.T) {
	release := make(chan struct{})
	p := NewPool(Config{Size: 1}, func(int) (domain.Mapper, error) {
		return domain.MapperFunc(func(context.Context, domain.Event) error { <-release; return nil }), nil
	})
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := p.Submit(context.Background(), event(1)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Submit(ctx, event(2)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("blocked submit = %v", err)
	}
	close(release)
	_ = p.Close()
}

func TestPool_Lifecycle(t *testing.T) {
	h := newHarness()
	p := NewPool(Config{}, h.factory)
	if err := p.Submit(context.Background(), event(1)); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("before start: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if p.Stats().Size != 2 {
		t.Fatalf("default size = %d", p.Stats().Size)
	}
	if err := p.Start(context.Background()); err == nil {
		t.Fatal("double start should fail")
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal("second close should be a no-op")
	}
	if err := p.Submit(context.Background(), event(1)); !errors.Is(err, ErrClosed) {
		t.Fatalf("after close: %v", err)
	}

	bad := NewPool(Config{Size: 2}, func(slot int) (domain.Mapper, error) {
		if slot == 1 {
			return nil, errors.New("no sink")
		}
		return h.factory(slot)
	})
	if err := bad.Start(context.Background()); err == nil {
		t.Fatal("factory failure should fail Start")
	}
}
