package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	perr "ghdiscover/internal/platform/errors"
	"ghdiscover/internal/services/scrape/domain"
)

// Entry is one shard row of the in memory ledger
type Entry struct {
	RunID    string
	Shard    domain.Shard
	Status   domain.ShardStatus
	Started  time.Time
	Finished time.Time
	Finish   domain.ShardFinish
}

// Memory is a process local ledger for runs without postgres
type Memory struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[memKey]*Entry
}

type memKey struct {
	run   string
	shard domain.Shard
}

// NewMemory returns an empty ledger
func NewMemory() *Memory {
	return &Memory{now: time.Now, entries: map[memKey]*Entry{}}
}

// StartShard implements domain.Ledger
func (m *Memory) StartShard(_ context.Context, runID string, shard domain.Shard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[memKey{runID, shard}] = &Entry{
		RunID:   runID,
		Shard:   shard,
		Status:  domain.StatusRunning,
		Started: m.now(),
	}
	return nil
}

// FinishShard implements domain.Ledger
func (m *Memory) FinishShard(_ context.Context, runID string, shard domain.Shard, fin domain.ShardFinish) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[memKey{runID, shard}]
	if !ok {
		return perr.NotFoundf("shard %s of run %s was never started", shard, runID)
	}
	e.Status = fin.Status
	e.Finish = fin
	e.Finished = m.now()
	return nil
}

// Entries returns a copy of all rows ordered by shard then run
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, *e)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Shard != out[j].Shard {
			return out[i].Shard.Before(out[j].Shard)
		}
		return out[i].RunID < out[j].RunID
	})
	return out
}
