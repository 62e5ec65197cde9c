// Package supervisor runs the stage chain of a shard and restarts it when a stage fails
package supervisor

import (
	"context"
	"errors"
	"maps"
	"strings"
	"sync"
	"time"

	perr "ghdiscover/internal/platform/errors"
	"ghdiscover/internal/platform/logger"
	"ghdiscover/internal/platform/metrics"
	"ghdiscover/internal/services/scrape/domain"

	"golang.org/x/sync/errgroup"
)

// State of one stage instance
type State string

const (
	Running    State = "running"
	Restarting State = "restarting"
	Failed     State = "failed"
	Done       State = "done"
)

// Stage is one concurrently running step of a chain.
// Run must return once ctx is cancelled
type Stage struct {
	Name string
	Run  func(ctx context.Context) error
}

// ChainFactory wires fresh stages and links for one attempt at shard
type ChainFactory func(shard domain.Shard, attempt int) []Stage

// Outcome is the result of RunShard
type Outcome struct {
	Shard    domain.Shard
	Status   domain.ShardStatus
	Attempts int
	Restarts map[string]int // per stage
	Stage    string         // stage behind Err
	Err      error          // last root failure, nil when Done
	Elapsed  time.Duration
}

// TotalRestarts sums Restarts
func (o Outcome) TotalRestarts() int {
	n := 0
	for _, v := range o.Restarts {
		n += v
	}
	return n
}

// Supervisor runs shard chains under a restart Policy. One Supervisor serves
// every shard of a run; counters are global, Outcomes are per shard
type Supervisor struct {
	policy  Policy
	metrics *metrics.Metrics
	sleep   func(context.Context, time.Duration) error

	mu       sync.Mutex
	restarts map[string]int
	states   map[string]State
}

// Option configures a Supervisor
type Option func(*Supervisor)

// WithMetrics counts restarts in ghdiscover_stage_restarts_total
func WithMetrics(m *metrics.Metrics) Option { return func(s *Supervisor) { s.metrics = m } }

// New builds a supervisor
func New(p Policy, opts ...Option) *Supervisor {
	s := &Supervisor{
		policy:   p.normalized(),
		sleep:    sleepCtx,
		restarts: map[string]int{},
		states:   map[string]State{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Policy returns the effective policy
func (s *Supervisor) Policy() Policy { return s.policy }

// Restarts returns how many times stage triggered a restart, across all shards
func (s *Supervisor) Restarts(stage string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts[stage]
}

// AllRestarts returns a copy of the per stage restart totals
func (s *Supervisor) AllRestarts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.restarts)
}

// States returns the state of every live stage instance keyed by "shard/stage"
func (s *Supervisor) States() map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.states)
}

// RunShard runs chain for shard until it succeeds, the policy gives up or ctx
// ends. It never returns an error; everything is in the Outcome
func (s *Supervisor) RunShard(ctx context.Context, shard domain.Shard, chain ChainFactory) Outcome {
	start := time.Now()
	out := Outcome{Shard: shard, Restarts: map[string]int{}}
	ctx = logger.WithRun(ctx, "", shard.String())
	log := logger.C(ctx).With().Str("component", "supervisor").Logger()
	defer s.forget(shard)

	for attempt := 1; ; attempt++ {
		out.Attempts = attempt
		if ctx.Err() != nil {
			out.Status = stopped(ctx)
			break
		}

		stages := chain(shard, attempt)
		s.mark(shard, stages, Running)
		stage, err := s.runAttempt(ctx, shard, stages)
		if err == nil {
			s.mark(shard, stages, Done)
			out.Status, out.Stage, out.Err = domain.StatusDone, "", nil
			break
		}
		out.Stage, out.Err = stage, err

		if ctx.Err() != nil {
			out.Status = stopped(ctx)
			break
		}
		if perr.IsCode(err, perr.ErrorCodeNotFound) {
			out.Status = domain.StatusMissing
			break
		}
		restarts := out.TotalRestarts()
		if s.policy.Shard == Abandon || restarts >= s.policy.MaxRestarts {
			s.markOne(shard, stage, Failed)
			out.Status = domain.StatusFailed
			log.Error().Err(err).Str("stage", stage).Int("attempt", attempt).Int("restarts", restarts).
				Msg("supervisor: shard failed")
			break
		}

		out.Restarts[stage]++
		s.countRestart(stage)
		s.markOne(shard, stage, Restarting)
		wait := s.policy.backoff(restarts)
		log.Warn().Err(err).Str("stage", stage).Int("attempt", attempt).Dur("backoff", wait).
			Msg("supervisor: stage failed, restarting chain")
		if s.sleep(ctx, wait) != nil {
			out.Status = stopped(ctx)
			break
		}
	}

	out.Elapsed = time.Since(start)
	return out
}

// stopped maps the end of ctx to a status: a spent budget is a failure, a cancel is not
func stopped(ctx context.Context) domain.ShardStatus {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.StatusFailed
	}
	return domain.StatusCanceled
}

// runAttempt runs every stage in its own goroutine. The first failure cancels
// the others; the reported failure is the first stage in chain order whose
// error is not a consequence of another stage failing
func (s *Supervisor) runAttempt(ctx context.Context, shard domain.Shard, stages []Stage) (string, error) {
	g, gctx := errgroup.WithContext(ctx)
	errs := make([]error, len(stages))
	for i, st := range stages {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = domain.Tag(st.Name, shard, perr.PanicErrf("stage panic: %v", r))
				}
				errs[i] = err
			}()
			return st.Run(gctx)
		})
	}
	if g.Wait() == nil {
		return "", nil
	}

	for i, err := range errs {
		if err != nil && !domain.Derived(err) {
			return stages[i].Name, err
		}
	}
	for i, err := range errs {
		if err != nil {
			return stages[i].Name, err
		}
	}
	return "", nil
}

func (s *Supervisor) countRestart(stage string) {
	s.mu.Lock()
	s.restarts[stage]++
	s.mu.Unlock()
	s.metrics.Restart(stage)
}

func (s *Supervisor) mark(shard domain.Shard, stages []Stage, st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stage := range stages {
		s.states[key(shard, stage.Name)] = st
	}
}

func (s *Supervisor) markOne(shard domain.Shard, stage string, st State) {
	s.mu.Lock()
	s.states[key(shard, stage)] = st
	s.mu.Unlock()
}

func (s *Supervisor) forget(shard domain.Shard) {
	prefix := shard.String() + "/"
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.states {
		if strings.HasPrefix(k, prefix) {
			delete(s.states, k)
		}
	}
}

func key(shard domain.Shard, stage string) string { return shard.String() + "/" + stage }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
