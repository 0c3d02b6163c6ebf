package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/narrately/api/internal/logger"
	"github.com/narrately/api/internal/model"
)

// TaskTypeRender is the asynq task type carrying a job id.
const TaskTypeRender = "render:job"

// ErrDispatcherClosed is returned by Dispatch after Stop.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Dispatcher hands a queued job to whatever executes it.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// Runner executes one job; *Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, jobID, workerID string) (*model.Job, error)
}

// RenderPayload is the body of a render task.
type RenderPayload struct {
	JobID string `json:"jobId"`
}

// NewRenderTask builds the asynq task for jobID.
func NewRenderTask(jobID string) (*asynq.Task, error) {
	data, err := json.Marshal(RenderPayload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeRender, data), nil
}

// AsynqDispatcher enqueues jobs on Redis through asynq. The job id doubles
// as the task id so a job is never queued twice.
type AsynqDispatcher struct {
	client *asynq.Client
	queue  string
}

func NewAsynqDispatcher(client *asynq.Client, queue string) *AsynqDispatcher {
	if queue == "" {
		queue = "render"
	}
	return &AsynqDispatcher{client: client, queue: queue}
}

func (d *AsynqDispatcher) Dispatch(ctx context.Context, jobID string) error {
	task, err := NewRenderTask(jobID)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	_, err = d.client.EnqueueContext(ctx, task,
		asynq.Queue(d.queue),
		asynq.TaskID(jobID),
		asynq.MaxRetry(3),
		asynq.Retention(24*time.Hour),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// PoolDispatcher runs jobs on an in-process pool of goroutines. It suits
// single-node deployments and tests.
type PoolDispatcher struct {
	runner  Runner
	queue   chan string
	name    string
	log     *logger.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	started bool
	size    int
}

// NewPoolDispatcher creates a pool of size workers named name-<n>.
func NewPoolDispatcher(runner Runner, name string, size, backlog int, log *logger.Logger) *PoolDispatcher {
	if size <= 0 {
		size = 1
	}
	if backlog < size {
		backlog = size
	}
	if log == nil {
		log = logger.Nop()
	}
	return &PoolDispatcher{
		runner: runner,
		queue:  make(chan string, backlog),
		name:   name,
		size:   size,
		log:    log.WithComponent("pool"),
	}
}

// Start launches the workers. Jobs run under ctx and stop when it ends.
func (p *PoolDispatcher) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.work(fmt.Sprintf("%s-%d", p.name, i))
	}
}

func (p *PoolDispatcher) work(workerID string) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case jobID, ok := <-p.queue:
			if !ok {
				return
			}
			if _, err := p.runner.Run(p.ctx, jobID, workerID); err != nil && !errors.Is(err, context.Canceled) {
				p.log.WithJobID(jobID).Warn("job run failed", "worker_id", workerID, "error", err.Error())
			}
		}
	}
}

// Dispatch queues jobID, blocking while the backlog is full.
func (p *PoolDispatcher) Dispatch(ctx context.Context, jobID string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrDispatcherClosed
	}
	select {
	case p.queue <- jobID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the queue, lets workers drain it, and waits for them. Cancel
// the Start context first to abandon queued jobs instead.
func (p *PoolDispatcher) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	started := p.started
	p.mu.Unlock()

	if started {
		p.wg.Wait()
		p.cancel()
	}
}
