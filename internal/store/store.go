// Package store persists job records and enforces the job state machine.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/narrately/api/internal/model"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobExists         = errors.New("job already exists")
	ErrAlreadyClaimed    = errors.New("job already claimed")
	ErrTerminal          = errors.New("job is in a terminal state")
	ErrNotOwner          = errors.New("worker does not own job")
	ErrIllegalTransition = errors.New("illegal job state transition")
	ErrLeaseHeld         = errors.New("job lease still held by another worker")
)

// MutateFunc edits a private copy of the job. Returning an error aborts the
// write.
type MutateFunc func(j *model.Job) error

// Backend is the storage primitive: an atomic read-modify-write of one job.
type Backend interface {
	Create(ctx context.Context, job *model.Job) error
	Get(ctx context.Context, id string) (*model.Job, error)
	Mutate(ctx context.Context, id string, fn MutateFunc) (*model.Job, error)
}

// Jobs implements the job lifecycle operations on top of a Backend.
type Jobs struct {
	backend Backend
	now     func() time.Time
}

// New creates the lifecycle layer over b.
func New(b Backend, now func() time.Time) *Jobs {
	if now == nil {
		now = time.Now
	}
	return &Jobs{backend: b, now: now}
}

// Create stores a new queued job.
func (s *Jobs) Create(ctx context.Context, job *model.Job) error {
	if job.State == "" {
		job.State = model.JobStateQueued
	}
	if job.State != model.JobStateQueued {
		return fmt.Errorf("%w: new jobs start queued, got %s", ErrIllegalTransition, job.State)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now().UTC()
	}
	return s.backend.Create(ctx, job)
}

// Get returns a snapshot of the job.
func (s *Jobs) Get(ctx context.Context, id string) (*model.Job, error) {
	return s.backend.Get(ctx, id)
}

// Claim atomically moves a queued job to running under workerID. It
// succeeds at most once per job.
func (s *Jobs) Claim(ctx context.Context, id, workerID string) (*model.Job, error) {
	now := s.now().UTC()
	return s.mutate(ctx, id, func(j *model.Job) error {
		switch {
		case j.State.IsTerminal():
			return ErrTerminal
		case j.State != model.JobStateQueued:
			return ErrAlreadyClaimed
		}
		j.State = model.JobStateRunning
		j.WorkerID = workerID
		j.StartedAt = &now
		j.HeartbeatAt = &now
		return nil
	})
}

// Reclaim hands a running job over to workerID once its owner has missed
// heartbeats for longer than lease. The lease holds against every caller,
// including one presenting the current owner's id. Artifacts already
// recorded are kept so finished stages are not repeated. A queued job is
// claimed normally.
func (s *Jobs) Reclaim(ctx context.Context, id, workerID string, lease time.Duration) (*model.Job, error) {
	now := s.now().UTC()
	return s.mutate(ctx, id, func(j *model.Job) error {
		switch {
		case j.State.IsTerminal():
			return ErrTerminal
		case j.State == model.JobStateQueued:
			j.State = model.JobStateRunning
			j.StartedAt = &now
		case j.HeartbeatAt != nil && now.Sub(*j.HeartbeatAt) <= lease:
			return ErrLeaseHeld
		}
		j.WorkerID = workerID
		j.HeartbeatAt = &now
		return nil
	})
}

// Update applies fn to a running job owned by workerID. fn must not change
// the state; use Finish for terminal writes.
func (s *Jobs) Update(ctx context.Context, id, workerID string, fn MutateFunc) (*model.Job, error) {
	return s.mutate(ctx, id, func(j *model.Job) error {
		if err := checkOwner(j, workerID); err != nil {
			return err
		}
		before := j.State
		if err := fn(j); err != nil {
			return err
		}
		if j.State != before {
			return fmt.Errorf("%w: Update cannot change state to %s", ErrIllegalTransition, j.State)
		}
		return nil
	})
}

// Heartbeat records worker liveness.
func (s *Jobs) Heartbeat(ctx context.Context, id, workerID string) error {
	now := s.now().UTC()
	_, err := s.Update(ctx, id, workerID, func(j *model.Job) error {
		j.HeartbeatAt = &now
		return nil
	})
	return err
}

// Finish writes a terminal state for a running job owned by workerID. The
// first terminal write wins; later ones fail with ErrTerminal.
func (s *Jobs) Finish(ctx context.Context, id, workerID string, state model.JobState, fn MutateFunc) (*model.Job, error) {
	if !state.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is not terminal", ErrIllegalTransition, state)
	}
	now := s.now().UTC()
	return s.mutate(ctx, id, func(j *model.Job) error {
		if err := checkOwner(j, workerID); err != nil {
			return err
		}
		if fn != nil {
			if err := fn(j); err != nil {
				return err
			}
		}
		j.State = state
		j.CompletedAt = &now
		return nil
	})
}

// RequestCancel cancels a queued job outright and flags a running one for
// cooperative cancellation. On a finished job it returns the snapshot
// unchanged.
func (s *Jobs) RequestCancel(ctx context.Context, id string) (*model.Job, error) {
	job, _, err := s.TryCancel(ctx, id)
	return job, err
}

// TryCancel is RequestCancel that also reports whether the request was
// accepted. It is false when the job had already finished.
func (s *Jobs) TryCancel(ctx context.Context, id string) (*model.Job, bool, error) {
	now := s.now().UTC()
	job, err := s.mutate(ctx, id, func(j *model.Job) error {
		switch j.State {
		case model.JobStateQueued:
			j.State = model.JobStateCancelled
			j.CancelRequested = true
			j.CompletedAt = &now
		case model.JobStateRunning:
			j.CancelRequested = true
		default:
			return ErrTerminal
		}
		return nil
	})
	if errors.Is(err, ErrTerminal) {
		job, err = s.backend.Get(ctx, id)
		return job, false, err
	}
	return job, err == nil, err
}

// mutate wraps fn with the state-machine guard every backend write passes.
func (s *Jobs) mutate(ctx context.Context, id string, fn MutateFunc) (*model.Job, error) {
	return s.backend.Mutate(ctx, id, func(j *model.Job) error {
		before := j.State
		if err := fn(j); err != nil {
			return err
		}
		return checkTransition(before, j.State)
	})
}

func checkOwner(j *model.Job, workerID string) error {
	if j.State.IsTerminal() {
		return ErrTerminal
	}
	if j.State != model.JobStateRunning || j.WorkerID != workerID {
		return ErrNotOwner
	}
	return nil
}

func checkTransition(from, to model.JobState) error {
	if from == to {
		if from.IsTerminal() {
			return ErrTerminal
		}
		return nil
	}
	if !model.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}
