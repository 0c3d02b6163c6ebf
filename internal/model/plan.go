package model

import "time"

// Plan is the originating scene/voice/language specification of a job
type Plan struct {
	Topic    string  `json:"topic" validate:"omitempty,max=300"`
	Language string  `json:"language" validate:"omitempty,bcp47_language_tag"`
	VoiceID  string  `json:"voice_id" validate:"omitempty,max=100"`
	Pace     float64 `json:"pace" validate:"omitempty,min=0.5,max=2"`
	Publish  bool    `json:"publish"`
	Scenes   []Scene `json:"scenes" validate:"required,min=1,max=100,dive"`
}

// Scene is one narrated segment of the plan
type Scene struct {
	ImagePrompt string  `json:"image_prompt" validate:"omitempty,max=2000"`
	Narration   string  `json:"narration" validate:"omitempty,max=5000"`
	DurationSec float64 `json:"duration_sec" validate:"required,gt=0,max=600"`
}

// RequestsNarration reports whether any scene carries narration text.
func (p Plan) RequestsNarration() bool {
	for _, s := range p.Scenes {
		if s.HasNarration() {
			return true
		}
	}
	return false
}

// TotalDuration sums the target durations of all scenes.
func (p Plan) TotalDuration() float64 {
	var total float64
	for _, s := range p.Scenes {
		total += s.DurationSec
	}
	return total
}

// HasNarration reports whether the scene has non-blank narration.
func (s Scene) HasNarration() bool {
	for _, r := range s.Narration {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return true
		}
	}
	return false
}

// SubmitRequest represents the request body for job submission
type SubmitRequest struct {
	Plan
}

// SubmitResponse represents the response for job submission
type SubmitResponse struct {
	JobID string `json:"job_id"`
}

// StatusResponse represents the public job status snapshot
type StatusResponse struct {
	JobID         string                    `json:"job_id"`
	State         JobState                  `json:"state"`
	ProgressPct   int                       `json:"progress_pct"`
	CurrentStage  Stage                     `json:"current_stage,omitempty"`
	Artifacts     map[ArtifactKind][]string `json:"artifacts,omitempty"`
	AudioMetadata *AudioMetadata            `json:"audio_metadata,omitempty"`
	AudioError    *AudioError               `json:"audio_error,omitempty"`
	Error         *JobError                 `json:"error,omitempty"`
	VideoDuration float64                   `json:"video_duration_sec,omitempty"`
	HeartbeatAt   *time.Time                `json:"heartbeat_at,omitempty"`
	CreatedAt     time.Time                 `json:"created_at"`
	StartedAt     *time.Time                `json:"started_at,omitempty"`
	CompletedAt   *time.Time                `json:"completed_at,omitempty"`
}

// NewStatusResponse projects a job onto its public status shape.
func NewStatusResponse(j *Job) *StatusResponse {
	return &StatusResponse{
		JobID:         j.ID,
		State:         j.State,
		ProgressPct:   j.ProgressPct,
		CurrentStage:  j.CurrentStage,
		Artifacts:     j.Artifacts,
		AudioMetadata: j.AudioMetadata,
		AudioError:    j.AudioError,
		Error:         j.Error,
		VideoDuration: j.VideoDuration,
		HeartbeatAt:   j.HeartbeatAt,
		CreatedAt:     j.CreatedAt,
		StartedAt:     j.StartedAt,
		CompletedAt:   j.CompletedAt,
	}
}

// PreviewRequest represents the request body for a TTS preview
type PreviewRequest struct {
	Text    string  `json:"text" validate:"required,min=1,max=5000"`
	Lang    string  `json:"lang" validate:"omitempty,bcp47_language_tag"`
	VoiceID string  `json:"voice_id" validate:"omitempty,max=100"`
	Pace    float64 `json:"pace" validate:"omitempty,min=0.5,max=2"`
}

// PreviewResponse represents the response for a TTS preview
type PreviewResponse struct {
	URL         string  `json:"url"`
	DurationSec float64 `json:"duration_sec"`
	Cached      bool    `json:"cached"`
}
