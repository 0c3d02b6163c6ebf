package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/narrately/api/internal/logger"
	"github.com/narrately/api/internal/orchestrator"
	"github.com/narrately/api/internal/store"
)

// RenderWorker processes render tasks delivered by asynq
type RenderWorker struct {
	runner   orchestrator.Runner
	workerID string
	lease    time.Duration
	log      *logger.Logger
}

// NewRenderWorker creates a new render worker
func NewRenderWorker(runner orchestrator.Runner, workerID string, lease time.Duration, log *logger.Logger) *RenderWorker {
	if workerID == "" {
		workerID = NewWorkerID()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RenderWorker{
		runner:   runner,
		workerID: workerID,
		lease:    lease,
		log:      log.WithComponent("worker"),
	}
}

// WorkerID returns the identity this worker claims jobs under
func (w *RenderWorker) WorkerID() string {
	return w.workerID
}

// ProcessTask handles render task processing
func (w *RenderWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload orchestrator.RenderPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" {
		return fmt.Errorf("task payload has no job id: %w", asynq.SkipRetry)
	}

	log := w.log.WithJobID(payload.JobID)
	log.Info("starting render job", "worker_id", w.workerID)

	job, err := w.runner.Run(ctx, payload.JobID, w.workerID)
	switch {
	case errors.Is(err, store.ErrJobNotFound):
		log.Warn("job record missing, dropping task")
		return fmt.Errorf("job %s: %w", payload.JobID, asynq.SkipRetry)
	case errors.Is(err, store.ErrLeaseHeld):
		log.Info("job owned by a live worker, retrying later")
		return err
	case err != nil:
		return err
	case job == nil:
		log.Info("job already finished")
		return nil
	}

	log.Info("render job finished", "state", job.State)
	return nil
}

// RetryDelay spaces redeliveries of jobs held by another worker by the lease
// so the retry lands after the lease can lapse.
func (w *RenderWorker) RetryDelay(n int, err error, t *asynq.Task) time.Duration {
	if errors.Is(err, store.ErrLeaseHeld) && w.lease > 0 {
		return w.lease
	}
	return asynq.DefaultRetryDelayFunc(n, err, t)
}

// NewWorkerID returns a process-unique worker identity
func NewWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}
