// Package orchestrator drives a claimed job through the render pipeline.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/narrately/api/internal/activity"
	"github.com/narrately/api/internal/apperr"
	"github.com/narrately/api/internal/client"
	"github.com/narrately/api/internal/logger"
	"github.com/narrately/api/internal/model"
	"github.com/narrately/api/internal/stage"
	"github.com/narrately/api/internal/store"
)

// Options tunes the job loop.
type Options struct {
	HeartbeatInterval time.Duration
	// LeaseDuration is how long a silent owner keeps its claim before another
	// worker may take the job over.
	LeaseDuration time.Duration
}

// Orchestrator runs the pipeline stages of one job at a time per call. It is
// safe to call Run concurrently for different jobs.
type Orchestrator struct {
	jobs     *store.Jobs
	events   activity.Recorder
	storage  client.StorageClient
	handlers map[model.Stage]stage.Handler
	opts     Options
	log      *logger.Logger
}

// New creates an orchestrator. Stages without a handler are skipped.
func New(jobs *store.Jobs, events activity.Recorder, storage client.StorageClient, opts Options, log *logger.Logger, handlers ...stage.Handler) *Orchestrator {
	if log == nil {
		log = logger.Nop()
	}
	if events == nil {
		events = activity.Nop{}
	}
	o := &Orchestrator{
		jobs:     jobs,
		events:   events,
		storage:  storage,
		handlers: make(map[model.Stage]stage.Handler, len(handlers)),
		opts:     opts,
		log:      log.WithComponent("orchestrator"),
	}
	for _, h := range handlers {
		o.handlers[h.Stage()] = h
	}
	return o
}

// HealthCheck reports the readiness of every configured stage.
func (o *Orchestrator) HealthCheck(ctx context.Context) []stage.Health {
	var out []stage.Health
	for _, st := range model.PipelineStages {
		if h, ok := o.handlers[st]; ok {
			out = append(out, h.HealthCheck(ctx))
		}
	}
	return out
}

// Run claims jobID for workerID and executes it to a terminal state. It
// returns the final snapshot, or nil when the job was not ours to run. When
// ctx ends mid-run the job is left running so another worker can resume it
// once the lease lapses.
func (o *Orchestrator) Run(ctx context.Context, jobID, workerID string) (*model.Job, error) {
	log := o.log.WithJobID(jobID)
	ctx = logger.ContextWithJobID(ctx, jobID)

	job, err := o.claim(ctx, jobID, workerID)
	switch {
	case errors.Is(err, store.ErrTerminal):
		log.Info("job already finished, skipping")
		return nil, nil
	case err != nil:
		return nil, err
	}
	o.events.Record(ctx, jobID, model.EventJobClaimed, "job claimed", map[string]any{"worker_id": workerID})
	log.Info("job claimed", "worker_id", workerID)

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		o.heartbeat(hbCtx, jobID, workerID)
	}()
	defer func() {
		stopHeartbeat()
		<-hbDone
	}()

	return o.execute(ctx, job, workerID)
}

func (o *Orchestrator) claim(ctx context.Context, jobID, workerID string) (*model.Job, error) {
	job, err := o.jobs.Claim(ctx, jobID, workerID)
	if errors.Is(err, store.ErrAlreadyClaimed) && o.opts.LeaseDuration > 0 {
		return o.jobs.Reclaim(ctx, jobID, workerID, o.opts.LeaseDuration)
	}
	return job, err
}

func (o *Orchestrator) execute(ctx context.Context, job *model.Job, workerID string) (*model.Job, error) {
	log := o.log.WithJobID(job.ID)
	total := len(model.PipelineStages)

	for i, st := range model.PipelineStages {
		if err := ctx.Err(); err != nil {
			log.Info("worker stopping, leaving job for resume", "stage", st)
			return nil, err
		}

		cur, err := o.jobs.Update(ctx, job.ID, workerID, func(j *model.Job) error {
			if !j.CancelRequested {
				j.CurrentStage = st
			}
			return nil
		})
		if err != nil {
			return o.lost(ctx, job.ID, err)
		}
		if cur.CancelRequested {
			return o.cancel(ctx, cur, workerID)
		}

		h, ok := o.handlers[st]
		if reason := skipReason(h, ok, cur); reason != "" {
			o.events.Record(ctx, job.ID, model.EventStageSkipped, reason, map[string]any{"stage": st})
			if _, err := o.jobs.Update(ctx, job.ID, workerID, func(j *model.Job) error {
				j.ProgressPct = progress(i+1, total)
				return nil
			}); err != nil {
				return o.lost(ctx, job.ID, err)
			}
			continue
		}

		o.events.Record(ctx, job.ID, model.EventStageStarted, fmt.Sprintf("%s started", st), map[string]any{"stage": st})
		started := time.Now()
		res, err := h.Execute(ctx, cur)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("worker stopping mid-stage, leaving job for resume", "stage", st)
				return nil, ctx.Err()
			}
			return o.fail(ctx, job.ID, workerID, stageError(st, err))
		}

		if _, err := o.jobs.Update(ctx, job.ID, workerID, func(j *model.Job) error {
			for _, loc := range res.Locations {
				j.AddArtifact(h.Artifact(), loc)
			}
			if res.AudioMetadata != nil {
				j.AudioMetadata = res.AudioMetadata
			}
			if res.AudioError != nil {
				j.AudioError = res.AudioError
			}
			if res.VideoDuration > 0 {
				j.VideoDuration = res.VideoDuration
			}
			j.ProgressPct = progress(i+1, total)
			return nil
		}); err != nil {
			return o.lost(ctx, job.ID, err)
		}

		meta := map[string]any{"stage": st, "elapsed_ms": time.Since(started).Milliseconds()}
		for k, v := range res.Meta {
			meta[k] = v
		}
		o.events.Record(ctx, job.ID, model.EventStageCompleted, fmt.Sprintf("%s completed", st), meta)
		log.Debug("stage completed", "stage", st, "artifacts", len(res.Locations))
	}

	return o.complete(ctx, job.ID, workerID)
}

// skipReason decides whether a stage must not run for this job.
func skipReason(h stage.Handler, ok bool, job *model.Job) string {
	switch {
	case !ok:
		return "stage not configured"
	case h.Stage() == model.StagePublish && !job.Plan.Publish:
		return "publish not requested"
	case h.Stage() == model.StageAudio && !job.Plan.RequestsNarration():
		return "plan has no narration"
	case h.Stage() == model.StageAudio && job.AudioMetadata != nil:
		return "narration already produced"
	case h.Stage() != model.StageAudio && job.HasArtifact(h.Artifact()):
		return "artifact already produced"
	}
	return ""
}

// stageError classifies a stage failure into the job's single error.
func stageError(st model.Stage, err error) *model.JobError {
	if st == model.StageAudio && errors.Is(err, apperr.ErrProviderUnavailable) {
		return &model.JobError{
			Code:    string(apperr.CodeProviderUnavailable),
			Phase:   model.PhaseTTS,
			Message: err.Error(),
		}
	}
	return &model.JobError{
		Code:    string(apperr.CodeStageFailure),
		Phase:   string(st),
		Message: err.Error(),
	}
}

func (o *Orchestrator) complete(ctx context.Context, jobID, workerID string) (*model.Job, error) {
	snapshot, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return o.lost(ctx, jobID, err)
	}
	if snapshot.CancelRequested {
		return o.cancel(ctx, snapshot, workerID)
	}

	url, err := o.writeSummary(ctx, snapshot)
	if err != nil {
		return o.fail(ctx, jobID, workerID, &model.JobError{
			Code:    string(apperr.CodeStageFailure),
			Phase:   "summary",
			Message: err.Error(),
		})
	}

	final, err := o.jobs.Finish(context.WithoutCancel(ctx), jobID, workerID, model.JobStateCompleted, func(j *model.Job) error {
		j.AddArtifact(model.ArtifactSummary, url)
		j.ProgressPct = 100
		j.CurrentStage = ""
		return nil
	})
	if err != nil {
		return o.lost(ctx, jobID, err)
	}
	o.events.Record(ctx, jobID, model.EventJobCompleted, "job completed", map[string]any{
		"video_duration_sec": final.VideoDuration,
	})
	o.log.WithJobID(jobID).Info("job completed", "video_duration_sec", final.VideoDuration)
	return final, nil
}

// writeSummary persists the job snapshot as it will look once completed.
func (o *Orchestrator) writeSummary(ctx context.Context, job *model.Job) (string, error) {
	s := model.NewStatusResponse(job)
	s.State = model.JobStateCompleted
	s.ProgressPct = 100
	s.CurrentStage = ""
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal summary: %w", err)
	}
	return o.storage.Upload(ctx, stage.SummaryKey(job.ID), bytes.NewReader(data), "application/json")
}

func (o *Orchestrator) cancel(ctx context.Context, job *model.Job, workerID string) (*model.Job, error) {
	final, err := o.jobs.Finish(context.WithoutCancel(ctx), job.ID, workerID, model.JobStateCancelled, func(j *model.Job) error {
		j.CurrentStage = ""
		return nil
	})
	if err != nil {
		return o.lost(ctx, job.ID, err)
	}
	o.events.Record(ctx, job.ID, model.EventJobCancelled, "job cancelled", map[string]any{"stage": job.CurrentStage})
	o.log.WithJobID(job.ID).Info("job cancelled", "stage", job.CurrentStage)
	return final, nil
}

func (o *Orchestrator) fail(ctx context.Context, jobID, workerID string, jerr *model.JobError) (*model.Job, error) {
	ctx = context.WithoutCancel(ctx)
	final, err := o.jobs.Finish(ctx, jobID, workerID, model.JobStateFailed, func(j *model.Job) error {
		j.Error = jerr
		return nil
	})
	if err != nil {
		return o.lost(ctx, jobID, err)
	}
	o.events.Record(ctx, jobID, model.EventStageFailed, jerr.Message, map[string]any{"stage": jerr.Phase, "code": jerr.Code})
	o.events.Record(ctx, jobID, model.EventJobFailed, "job failed", map[string]any{"code": jerr.Code, "phase": jerr.Phase})
	o.log.WithJobID(jobID).Warn("job failed", "code", jerr.Code, "phase", jerr.Phase, "error", jerr.Message)
	return final, nil
}

// lost handles writes rejected because the job left our hands: another
// terminal write won, or another worker took over.
func (o *Orchestrator) lost(ctx context.Context, jobID string, err error) (*model.Job, error) {
	if !errors.Is(err, store.ErrTerminal) && !errors.Is(err, store.ErrNotOwner) {
		return nil, err
	}
	o.log.WithJobID(jobID).Info("job no longer owned, stopping", "reason", err.Error())
	job, gerr := o.jobs.Get(context.WithoutCancel(ctx), jobID)
	if gerr != nil {
		return nil, gerr
	}
	return job, nil
}

func progress(done, total int) int {
	if total == 0 {
		return 100
	}
	return done * 100 / total
}
