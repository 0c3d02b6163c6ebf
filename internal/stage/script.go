package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/narrately/api/internal/client"
	"github.com/narrately/api/internal/model"
)

// ScriptDocument is the persisted narration script of a job.
type ScriptDocument struct {
	JobID    string           `json:"job_id"`
	Topic    string           `json:"topic"`
	Language string           `json:"language"`
	VoiceID  string           `json:"voice_id"`
	Scenes   []ScriptScene    `json:"scenes"`
	Stats    ScriptStatistics `json:"stats"`
}

type ScriptScene struct {
	Index       int     `json:"index"`
	Narration   string  `json:"narration"`
	ImagePrompt string  `json:"image_prompt"`
	DurationSec float64 `json:"duration_sec"`
	StartSec    float64 `json:"start_sec"`
	WordCount   int     `json:"word_count"`
}

type ScriptStatistics struct {
	SceneCount       int     `json:"scene_count"`
	NarratedScenes   int     `json:"narrated_scenes"`
	TotalDurationSec float64 `json:"total_duration_sec"`
	WordCount        int     `json:"word_count"`
}

// ScriptStage freezes the plan's narration into script.json.
type ScriptStage struct {
	storage  client.StorageClient
	defaults Defaults
}

// Defaults fills plan fields left empty by the client.
type Defaults struct {
	Language string
	VoiceID  string
}

func NewScriptStage(storage client.StorageClient, defaults Defaults) *ScriptStage {
	return &ScriptStage{storage: storage, defaults: defaults}
}

func (s *ScriptStage) Stage() model.Stage           { return model.StageScript }
func (s *ScriptStage) Artifact() model.ArtifactKind { return model.ArtifactScript }

func (s *ScriptStage) Execute(ctx context.Context, job *model.Job) (*Result, error) {
	doc := BuildScript(job, s.defaults)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal script: %w", err)
	}
	url, err := s.storage.Upload(ctx, ScriptKey(job.ID), bytes.NewReader(data), "application/json")
	if err != nil {
		return nil, err
	}
	return &Result{
		Locations: []string{url},
		Meta:      map[string]any{"scenes": doc.Stats.SceneCount, "words": doc.Stats.WordCount},
	}, nil
}

func (s *ScriptStage) HealthCheck(ctx context.Context) Health {
	return Healthy(string(model.StageScript))
}

// BuildScript derives the script document from the job plan.
func BuildScript(job *model.Job, d Defaults) *ScriptDocument {
	doc := &ScriptDocument{
		JobID:    job.ID,
		Topic:    job.Plan.Topic,
		Language: firstNonEmpty(job.Plan.Language, d.Language),
		VoiceID:  firstNonEmpty(job.Plan.VoiceID, d.VoiceID),
	}
	var start float64
	for i, sc := range job.Plan.Scenes {
		words := len(strings.Fields(sc.Narration))
		doc.Scenes = append(doc.Scenes, ScriptScene{
			Index:       i,
			Narration:   strings.TrimSpace(sc.Narration),
			ImagePrompt: sc.ImagePrompt,
			DurationSec: sc.DurationSec,
			StartSec:    start,
			WordCount:   words,
		})
		start += sc.DurationSec
		doc.Stats.WordCount += words
		if sc.HasNarration() {
			doc.Stats.NarratedScenes++
		}
	}
	doc.Stats.SceneCount = len(job.Plan.Scenes)
	doc.Stats.TotalDurationSec = start
	return doc
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
