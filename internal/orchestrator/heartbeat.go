package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/narrately/api/internal/store"
)

// heartbeat refreshes heartbeat_at every interval until ctx ends or the job
// leaves this worker's hands.
func (o *Orchestrator) heartbeat(ctx context.Context, jobID, workerID string) {
	interval := o.opts.HeartbeatInterval
	if interval <= 0 {
		return
	}
	log := o.log.WithJobID(jobID)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := o.jobs.Heartbeat(ctx, jobID, workerID)
			switch {
			case err == nil:
			case errors.Is(err, context.Canceled):
				return
			case errors.Is(err, store.ErrTerminal), errors.Is(err, store.ErrNotOwner):
				log.Debug("heartbeat stopped", "reason", err.Error())
				return
			default:
				log.Warn("heartbeat failed", "error", err.Error())
			}
		}
	}
}
