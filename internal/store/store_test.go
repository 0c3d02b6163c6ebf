package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/narrately/api/internal/model"
	"github.com/narrately/api/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJob(id string) *model.Job {
	return &model.Job{
		ID: id,
		Plan: model.Plan{
			Language: "en-US",
			Scenes:   []model.Scene{{Narration: "hello", DurationSec: 2}},
		},
	}
}

func backends(t *testing.T) map[string]func(t *testing.T) Backend {
	return map[string]func(t *testing.T) Backend{
		"memory": func(t *testing.T) Backend { return NewMemoryBackend() },
		"redis": func(t *testing.T) Backend {
			return NewRedisBackend(testutil.SetupTestRedis(t), time.Hour)
		},
	}
}

func TestJobLifecycle(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := New(mk(t), nil)

			require.NoError(t, s.Create(ctx, newJob("j1")))
			assert.ErrorIs(t, s.Create(ctx, newJob("j1")), ErrJobExists)

			got, err := s.Get(ctx, "j1")
			require.NoError(t, err)
			assert.Equal(t, model.JobStateQueued, got.State)
			assert.False(t, got.CreatedAt.IsZero())

			claimed, err := s.Claim(ctx, "j1", "w1")
			require.NoError(t, err)
			assert.Equal(t, model.JobStateRunning, claimed.State)
			assert.Equal(t, "w1", claimed.WorkerID)
			require.NotNil(t, claimed.StartedAt)

			_, err = s.Claim(ctx, "j1", "w2")
			assert.ErrorIs(t, err, ErrAlreadyClaimed)

			_, err = s.Update(ctx, "j1", "w2", func(j *model.Job) error { return nil })
			assert.ErrorIs(t, err, ErrNotOwner)

			updated, err := s.Update(ctx, "j1", "w1", func(j *model.Job) error {
				j.ProgressPct = 40
				j.AddArtifact(model.ArtifactScript, "jobs/j1/script.json")
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, 40, updated.ProgressPct)

			_, err = s.Update(ctx, "j1", "w1", func(j *model.Job) error {
				j.State = model.JobStateCompleted
				return nil
			})
			assert.ErrorIs(t, err, ErrIllegalTransition)

			done, err := s.Finish(ctx, "j1", "w1", model.JobStateCompleted, func(j *model.Job) error {
				j.ProgressPct = 100
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, model.JobStateCompleted, done.State)
			require.NotNil(t, done.CompletedAt)

			_, err = s.Finish(ctx, "j1", "w1", model.JobStateFailed, nil)
			assert.ErrorIs(t, err, ErrTerminal)
			_, err = s.Claim(ctx, "j1", "w3")
			assert.ErrorIs(t, err, ErrTerminal)

			final, err := s.Get(ctx, "j1")
			require.NoError(t, err)
			assert.Equal(t, model.JobStateCompleted, final.State)
			assert.Equal(t, []string{"jobs/j1/script.json"}, final.Artifacts[model.ArtifactScript])

			_, err = s.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrJobNotFound)
		})
	}
}

func TestCancellation(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := New(mk(t), nil)

			require.NoError(t, s.Create(ctx, newJob("queued")))
			job, err := s.RequestCancel(ctx, "queued")
			require.NoError(t, err)
			assert.Equal(t, model.JobStateCancelled, job.State)
			_, err = s.Claim(ctx, "queued", "w1")
			assert.ErrorIs(t, err, ErrTerminal)

			require.NoError(t, s.Create(ctx, newJob("running")))
			_, err = s.Claim(ctx, "running", "w1")
			require.NoError(t, err)
			job, err = s.RequestCancel(ctx, "running")
			require.NoError(t, err)
			assert.Equal(t, model.JobStateRunning, job.State)
			assert.True(t, job.CancelRequested)

			_, err = s.Finish(ctx, "running", "w1", model.JobStateCompleted, nil)
			require.NoError(t, err)

			// A cancel after the terminal write is a no-op.
			job, err = s.RequestCancel(ctx, "running")
			require.NoError(t, err)
			assert.Equal(t, model.JobStateCompleted, job.State)

			_, err = s.RequestCancel(ctx, "missing")
			assert.ErrorIs(t, err, ErrJobNotFound)
		})
	}
}

func TestClaimIsExclusiveUnderContention(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := New(mk(t), nil)
			require.NoError(t, s.Create(ctx, newJob("contended")))

			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 12; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := s.Claim(ctx, "contended", fmt.Sprintf("w%d", i))
					if err == nil {
						wins.Add(1)
						return
					}
					assert.True(t, errors.Is(err, ErrAlreadyClaimed), "unexpected error: %v", err)
				}(i)
			}
			wg.Wait()
			assert.Equal(t, int32(1), wins.Load())
		})
	}
}

func TestFirstTerminalWriteWins(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryBackend(), nil)
	require.NoError(t, s.Create(ctx, newJob("race")))
	_, err := s.Claim(ctx, "race", "w1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, state := range []model.JobState{model.JobStateCompleted, model.JobStateCancelled} {
		wg.Add(1)
		go func(i int, state model.JobState) {
			defer wg.Done()
			_, results[i] = s.Finish(ctx, "race", "w1", state, nil)
		}(i, state)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrTerminal)
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestHeartbeatUsesClock(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New(NewMemoryBackend(), func() time.Time { return now })
	require.NoError(t, s.Create(ctx, newJob("hb")))
	_, err := s.Claim(ctx, "hb", "w1")
	require.NoError(t, err)

	now = now.Add(10 * time.Second)
	require.NoError(t, s.Heartbeat(ctx, "hb", "w1"))

	job, err := s.Get(ctx, "hb")
	require.NoError(t, err)
	assert.Equal(t, now, *job.HeartbeatAt)
	assert.ErrorIs(t, s.Heartbeat(ctx, "hb", "other"), ErrNotOwner)
}

func TestStateMonotonicityAcrossRandomOperations(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryBackend(), nil)
	require.NoError(t, s.Create(ctx, newJob("mono")))

	ops := []func() error{
		func() error { _, err := s.Claim(ctx, "mono", "w1"); return err },
		func() error { _, err := s.RequestCancel(ctx, "mono"); return err },
		func() error { _, err := s.Finish(ctx, "mono", "w1", model.JobStateFailed, nil); return err },
		func() error { _, err := s.Claim(ctx, "mono", "w2"); return err },
		func() error { _, err := s.Finish(ctx, "mono", "w1", model.JobStateCompleted, nil); return err },
	}

	var seenTerminal model.JobState
	for _, op := range ops {
		_ = op()
		job, err := s.Get(ctx, "mono")
		require.NoError(t, err)
		if seenTerminal != "" {
			assert.Equal(t, seenTerminal, job.State)
		} else if job.State.IsTerminal() {
			seenTerminal = job.State
		}
	}
	assert.Equal(t, model.JobStateFailed, seenTerminal)
}

func TestReclaimStaleLease(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New(NewMemoryBackend(), func() time.Time { return now })
	require.NoError(t, s.Create(ctx, newJob("stale")))
	_, err := s.Claim(ctx, "stale", "w1")
	require.NoError(t, err)
	_, err = s.Update(ctx, "stale", "w1", func(j *model.Job) error {
		j.AddArtifact(model.ArtifactScript, "jobs/stale/script.json")
		return nil
	})
	require.NoError(t, err)

	now = now.Add(20 * time.Second)
	_, err = s.Reclaim(ctx, "stale", "w2", 30*time.Second)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	now = now.Add(20 * time.Second)
	job, err := s.Reclaim(ctx, "stale", "w2", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "w2", job.WorkerID)
	assert.Equal(t, model.JobStateRunning, job.State)
	assert.True(t, job.HasArtifact(model.ArtifactScript))

	assert.ErrorIs(t, s.Heartbeat(ctx, "stale", "w1"), ErrNotOwner)

	_, err = s.Finish(ctx, "stale", "w2", model.JobStateCompleted, nil)
	require.NoError(t, err)
	_, err = s.Reclaim(ctx, "stale", "w3", 0)
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestReclaimBySameWorkerIDRespectsLease(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New(NewMemoryBackend(), func() time.Time { return now })
	require.NoError(t, s.Create(ctx, newJob("dup")))
	_, err := s.Claim(ctx, "dup", "w1")
	require.NoError(t, err)

	// a second delivery into the same process must not take over a live job
	now = now.Add(5 * time.Second)
	_, err = s.Reclaim(ctx, "dup", "w1", 30*time.Second)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	now = now.Add(time.Minute)
	job, err := s.Reclaim(ctx, "dup", "w1", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "w1", job.WorkerID)
}

func TestTryCancelReportsAcceptance(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryBackend(), nil)
	require.NoError(t, s.Create(ctx, newJob("tc")))
	_, err := s.Claim(ctx, "tc", "w1")
	require.NoError(t, err)

	job, accepted, err := s.TryCancel(ctx, "tc")
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.True(t, job.CancelRequested)

	_, err = s.Finish(ctx, "tc", "w1", model.JobStateCancelled, nil)
	require.NoError(t, err)

	job, accepted, err = s.TryCancel(ctx, "tc")
	require.NoError(t, err)
	assert.False(t, accepted)
	assert.Equal(t, model.JobStateCancelled, job.State)
}
