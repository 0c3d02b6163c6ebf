package activity

import (
	"context"
	"sync"

	"github.com/narrately/api/internal/model"
)

// MemoryStore keeps events in process. Used in tests and single-node dev.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string][]model.Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string][]model.Event)}
}

func (s *MemoryStore) Append(ctx context.Context, ev *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.Seq = int64(len(s.events[ev.JobID]) + 1)
	s.events[ev.JobID] = append(s.events[ev.JobID], *ev)
	return nil
}

func (s *MemoryStore) Recent(ctx context.Context, jobID string, limit int) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.events[jobID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]model.Event, len(all))
	copy(out, all)
	return out, nil
}
