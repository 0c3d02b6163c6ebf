// Package stage implements the non-audio pipeline stages. Each stage reads
// the job snapshot and returns the artifacts it produced; persisting them is
// the orchestrator's job.
package stage

import (
	"context"
	"fmt"
	"path"

	"github.com/narrately/api/internal/model"
)

// Handler describes the contract the orchestrator needs from each stage.
type Handler interface {
	Stage() model.Stage
	Artifact() model.ArtifactKind
	Execute(ctx context.Context, job *model.Job) (*Result, error)
	HealthCheck(ctx context.Context) Health
}

// Result is what a stage produced.
type Result struct {
	Locations     []string
	VideoDuration float64
	Meta          map[string]any

	// set by the audio stage only
	AudioMetadata *model.AudioMetadata
	AudioError    *model.AudioError
}

// Health summarizes the readiness of a stage.
type Health struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}

// Storage keys. Every artifact of a job lives under jobs/<id>/.

func JobKey(jobID string, parts ...string) string {
	return path.Join(append([]string{"jobs", jobID}, parts...)...)
}

func SceneAudioKey(jobID string, index int) string {
	return JobKey(jobID, "audio", fmt.Sprintf("scene_%03d.wav", index))
}

func SceneImageKey(jobID string, index int) string {
	return JobKey(jobID, "images", fmt.Sprintf("scene_%03d.png", index))
}

func ScriptKey(jobID string) string    { return JobKey(jobID, "script.json") }
func SubtitleKey(jobID string) string  { return JobKey(jobID, "subtitles.srt") }
func NarrationKey(jobID string) string { return JobKey(jobID, "video", "narration.wav") }
func TimelineKey(jobID string) string  { return JobKey(jobID, "video", "timeline.json") }
func VideoKey(jobID string) string     { return JobKey(jobID, "video", "final.mp4") }
func SummaryKey(jobID string) string   { return JobKey(jobID, "summary.json") }

// PreviewKey is outside the job namespace so previews never collide with jobs.
func PreviewKey(cacheKey string) string {
	return path.Join("previews", cacheKey+".wav")
}

// SceneDurations returns the final narrated duration of each scene, falling
// back to the planned duration when no audio metadata exists.
func SceneDurations(job *model.Job) []float64 {
	out := make([]float64, len(job.Plan.Scenes))
	for i, s := range job.Plan.Scenes {
		out[i] = s.DurationSec
	}
	if job.AudioMetadata == nil {
		return out
	}
	for _, m := range job.AudioMetadata.PerScene {
		if m.Index >= 0 && m.Index < len(out) && m.FinalDurationSec > 0 {
			out[m.Index] = m.FinalDurationSec
		}
	}
	return out
}
