package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/narrately/api/internal/activity"
	"github.com/narrately/api/internal/apperr"
	"github.com/narrately/api/internal/logger"
	"github.com/narrately/api/internal/model"
	"github.com/narrately/api/internal/orchestrator"
	"github.com/narrately/api/internal/store"
)

// ActivityLog is the read/write view of the activity log the API needs
type ActivityLog interface {
	activity.Recorder
	Query(ctx context.Context, jobID string, limit int) ([]model.Event, error)
}

// JobService handles render job management
type JobService struct {
	jobs       *store.Jobs
	dispatcher orchestrator.Dispatcher
	events     ActivityLog
	log        *logger.Logger
	newID      func() string
}

func NewJobService(jobs *store.Jobs, dispatcher orchestrator.Dispatcher, events ActivityLog, log *logger.Logger) *JobService {
	if log == nil {
		log = logger.Nop()
	}
	return &JobService{
		jobs:       jobs,
		dispatcher: dispatcher,
		events:     events,
		log:        log.WithComponent("jobs"),
		newID:      uuid.NewString,
	}
}

// Submit stores a queued job for the plan and dispatches it
func (s *JobService) Submit(ctx context.Context, req *model.SubmitRequest) (*model.SubmitResponse, error) {
	plan, err := normalizePlan(req.Plan)
	if err != nil {
		return nil, err
	}

	job := &model.Job{ID: s.newID(), Plan: plan}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, apperr.Wrap(err, "jobs.submit", "failed to save job")
	}
	s.events.Record(ctx, job.ID, model.EventJobSubmitted, "job submitted", map[string]any{
		"scenes":   len(plan.Scenes),
		"language": plan.Language,
		"publish":  plan.Publish,
	})

	if err := s.dispatcher.Dispatch(ctx, job.ID); err != nil {
		// nothing will ever run it; do not leave it queued
		if _, cerr := s.jobs.RequestCancel(context.WithoutCancel(ctx), job.ID); cerr != nil {
			s.log.WithJobID(job.ID).Error("failed to cancel undispatched job", "error", cerr.Error())
		}
		return nil, apperr.Wrap(err, "jobs.submit", "failed to enqueue job")
	}

	s.log.WithJobID(job.ID).Info("job submitted", "scenes", len(plan.Scenes))
	return &model.SubmitResponse{JobID: job.ID}, nil
}

// Get returns the current status of a job
func (s *JobService) Get(ctx context.Context, jobID string) (*model.StatusResponse, error) {
	job, err := s.get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return model.NewStatusResponse(job), nil
}

// Cancel requests cancellation; it is a no-op for finished jobs
func (s *JobService) Cancel(ctx context.Context, jobID string) error {
	job, err := s.get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State.IsTerminal() {
		return nil
	}

	job, accepted, err := s.jobs.TryCancel(ctx, jobID)
	if err != nil {
		return apperr.Wrap(err, "jobs.cancel", "failed to cancel job")
	}
	if !accepted {
		// finished between the read and the cancel
		return nil
	}
	s.events.Record(ctx, jobID, model.EventJobCancelRequested, "cancellation requested", map[string]any{
		"state": job.State,
	})
	if job.State == model.JobStateCancelled {
		s.events.Record(ctx, jobID, model.EventJobCancelled, "job cancelled before start", nil)
	}
	return nil
}

// Activity returns the newest limit events of a job, oldest first
func (s *JobService) Activity(ctx context.Context, jobID string, limit int) (*model.ActivityResponse, error) {
	if _, err := s.get(ctx, jobID); err != nil {
		return nil, err
	}
	events, err := s.events.Query(ctx, jobID, limit)
	if err != nil {
		return nil, apperr.Wrap(err, "jobs.activity", "failed to read activity")
	}
	return &model.ActivityResponse{Events: events}, nil
}

func (s *JobService) get(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if errors.Is(err, store.ErrJobNotFound) {
		return nil, apperr.NotFound("job", jobID)
	}
	if err != nil {
		return nil, apperr.Wrap(err, "jobs.get", "failed to load job")
	}
	return job, nil
}

// normalizePlan canonicalizes the language tag and trims free text
func normalizePlan(p model.Plan) (model.Plan, error) {
	if len(p.Scenes) == 0 {
		return p, apperr.New(apperr.CodeValidation, "jobs.submit", "plan needs at least one scene")
	}
	if p.Language != "" {
		tag, err := language.Parse(p.Language)
		if err != nil {
			return p, apperr.WrapWithCode(err, apperr.CodeValidation, "jobs.submit", fmt.Sprintf("invalid language %q", p.Language))
		}
		p.Language = tag.String()
	}
	p.Topic = strings.TrimSpace(p.Topic)
	p.VoiceID = strings.TrimSpace(p.VoiceID)
	p.Scenes = append([]model.Scene(nil), p.Scenes...)
	for i := range p.Scenes {
		p.Scenes[i].Narration = strings.TrimSpace(p.Scenes[i].Narration)
		p.Scenes[i].ImagePrompt = strings.TrimSpace(p.Scenes[i].ImagePrompt)
		if p.Scenes[i].DurationSec <= 0 {
			return p, apperr.Newf(apperr.CodeValidation, "jobs.submit", "scene %d needs a positive duration", i)
		}
	}
	return p, nil
}
