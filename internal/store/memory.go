package store

import (
	"context"
	"sync"

	"github.com/narrately/api/internal/model"
)

// MemoryBackend keeps jobs in process behind a mutex.
type MemoryBackend struct {
	mu   sync.Mutex
	jobs map[string]*model.Job
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{jobs: make(map[string]*model.Job)}
}

func (b *MemoryBackend) Create(ctx context.Context, job *model.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.jobs[job.ID]; ok {
		return ErrJobExists
	}
	b.jobs[job.ID] = job.Clone()
	return nil
}

func (b *MemoryBackend) Get(ctx context.Context, id string) (*model.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return j.Clone(), nil
}

func (b *MemoryBackend) Mutate(ctx context.Context, id string, fn MutateFunc) (*model.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	current, ok := b.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	b.jobs[id] = next
	return next.Clone(), nil
}
