package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/narrately/api/internal/client"
	"github.com/narrately/api/internal/model"
	"github.com/narrately/api/internal/pacing"
)

// Timeline is the manifest describing how scenes line up in the final video.
type Timeline struct {
	JobID            string                `json:"job_id"`
	TotalDurationSec float64               `json:"total_duration_sec"`
	SubtitleURL      string                `json:"subtitle_url,omitempty"`
	NarrationURL     string                `json:"narration_url,omitempty"`
	Clips            []client.TimelineClip `json:"clips"`
}

// StitchStage assembles images, narration and subtitles into the video. With a
// renderer configured it delegates; otherwise it writes a timeline manifest and
// a single concatenated narration track.
type StitchStage struct {
	renderer client.VideoRenderer
	storage  client.StorageClient
	engine   *pacing.Engine
}

// NewStitchStage creates the stage. renderer may be nil.
func NewStitchStage(renderer client.VideoRenderer, storage client.StorageClient, engine *pacing.Engine) *StitchStage {
	return &StitchStage{renderer: renderer, storage: storage, engine: engine}
}

func (s *StitchStage) Stage() model.Stage           { return model.StageStitch }
func (s *StitchStage) Artifact() model.ArtifactKind { return model.ArtifactVideo }

func (s *StitchStage) Execute(ctx context.Context, job *model.Job) (*Result, error) {
	tl := BuildTimeline(job)

	if s.renderer != nil {
		resp, err := s.renderer.Render(ctx, &client.RenderRequest{
			JobID:       job.ID,
			Clips:       tl.Clips,
			SubtitleURL: tl.SubtitleURL,
			OutputKey:   VideoKey(job.ID),
		})
		if err != nil {
			return nil, err
		}
		dur := resp.DurationSec
		if dur <= 0 {
			dur = tl.TotalDurationSec
		}
		return &Result{
			Locations:     []string{resp.VideoURL},
			VideoDuration: dur,
			Meta:          map[string]any{"renderer": "remote", "clips": len(tl.Clips)},
		}, nil
	}

	track, err := s.narrationTrack(ctx, job, tl)
	if err != nil {
		return nil, err
	}
	narrationURL, err := s.storage.Upload(ctx, NarrationKey(job.ID), bytes.NewReader(track), "audio/wav")
	if err != nil {
		return nil, err
	}
	tl.NarrationURL = narrationURL

	total, err := pacing.Duration(track)
	if err != nil {
		return nil, fmt.Errorf("failed to measure narration track: %w", err)
	}
	tl.TotalDurationSec = total

	data, err := json.MarshalIndent(tl, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal timeline: %w", err)
	}
	timelineURL, err := s.storage.Upload(ctx, TimelineKey(job.ID), bytes.NewReader(data), "application/json")
	if err != nil {
		return nil, err
	}

	return &Result{
		Locations:     []string{timelineURL, narrationURL},
		VideoDuration: total,
		Meta:          map[string]any{"renderer": "local", "clips": len(tl.Clips)},
	}, nil
}

// narrationTrack concatenates scene audio in order, filling scenes without
// stored audio with silence of their timeline duration.
func (s *StitchStage) narrationTrack(ctx context.Context, job *model.Job, tl *Timeline) ([]byte, error) {
	clips := make([][]byte, 0, len(tl.Clips))
	for _, c := range tl.Clips {
		var data []byte
		if c.AudioURL != "" {
			var err error
			data, err = s.storage.Get(ctx, SceneAudioKey(job.ID, c.Index))
			if err != nil && !errors.Is(err, client.ErrObjectNotFound) {
				return nil, fmt.Errorf("scene %d audio: %w", c.Index, err)
			}
		}
		if data == nil {
			silent, err := s.engine.Silence(c.DurationSec)
			if err != nil {
				return nil, err
			}
			data = silent
		}
		clips = append(clips, data)
	}
	return s.engine.Concat(clips...)
}

func (s *StitchStage) HealthCheck(ctx context.Context) Health {
	if s.renderer == nil {
		return Unhealthy(string(model.StageStitch), "renderer not configured, writing timeline only")
	}
	return Healthy(string(model.StageStitch))
}

// BuildTimeline lays scenes end to end using their final narrated durations.
func BuildTimeline(job *model.Job) *Timeline {
	durations := SceneDurations(job)
	images := job.Artifacts[model.ArtifactImage]
	audio := make(map[int]string)
	if job.AudioMetadata != nil {
		for _, m := range job.AudioMetadata.PerScene {
			if m.Location != "" {
				audio[m.Index] = m.Location
			}
		}
	}

	tl := &Timeline{JobID: job.ID}
	if subs := job.Artifacts[model.ArtifactSubtitle]; len(subs) > 0 {
		tl.SubtitleURL = subs[0]
	}
	var start float64
	for i, d := range durations {
		clip := client.TimelineClip{Index: i, AudioURL: audio[i], StartSec: start, DurationSec: d}
		if i < len(images) {
			clip.ImageURL = images[i]
		}
		tl.Clips = append(tl.Clips, clip)
		start += d
	}
	tl.TotalDurationSec = start
	return tl
}
