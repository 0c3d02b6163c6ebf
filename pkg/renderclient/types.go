package renderclient

import "time"

// Job states reported by the status endpoint
const (
	StateQueued    = "queued"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
	StateCancelled = "cancelled"
)

// IsTerminal reports whether state can no longer change.
func IsTerminal(state string) bool {
	switch state {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Plan is the scene/voice/language specification of a render job
type Plan struct {
	Topic    string  `json:"topic,omitempty"`
	Language string  `json:"language,omitempty"`
	VoiceID  string  `json:"voice_id,omitempty"`
	Pace     float64 `json:"pace,omitempty"`
	Publish  bool    `json:"publish,omitempty"`
	Scenes   []Scene `json:"scenes"`
}

type Scene struct {
	ImagePrompt string  `json:"image_prompt,omitempty"`
	Narration   string  `json:"narration,omitempty"`
	DurationSec float64 `json:"duration_sec"`
}

// Status is one job snapshot. IsStale is computed client side.
type Status struct {
	JobID         string              `json:"job_id"`
	State         string              `json:"state"`
	ProgressPct   int                 `json:"progress_pct"`
	CurrentStage  string              `json:"current_stage,omitempty"`
	Artifacts     map[string][]string `json:"artifacts,omitempty"`
	AudioMetadata *AudioMetadata      `json:"audio_metadata,omitempty"`
	AudioError    *AudioError         `json:"audio_error,omitempty"`
	Error         *JobError           `json:"error,omitempty"`
	VideoDuration float64             `json:"video_duration_sec,omitempty"`
	HeartbeatAt   *time.Time          `json:"heartbeat_at,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	StartedAt     *time.Time          `json:"started_at,omitempty"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`

	IsStale bool `json:"-"`
}

type JobError struct {
	Code    string `json:"code"`
	Phase   string `json:"phase"`
	Message string `json:"message"`
}

type AudioError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Scenes  []int  `json:"scenes,omitempty"`
}

type AudioMetadata struct {
	Lang             string           `json:"lang"`
	VoiceID          string           `json:"voice_id"`
	Provider         string           `json:"provider"`
	Paced            bool             `json:"paced"`
	TotalDurationSec float64          `json:"total_duration_sec"`
	PerScene         []SceneAudioMeta `json:"per_scene"`
}

type SceneAudioMeta struct {
	Index               int     `json:"index"`
	Provider            string  `json:"provider"`
	CacheHit            bool    `json:"cache_hit"`
	Paced               bool    `json:"paced"`
	MeasuredDurationSec float64 `json:"measured_duration_sec"`
	TargetDurationSec   float64 `json:"target_duration_sec"`
	FinalDurationSec    float64 `json:"final_duration_sec"`
	Location            string  `json:"location,omitempty"`
	Skipped             bool    `json:"skipped,omitempty"`
	Error               string  `json:"error,omitempty"`
}

// Event is one activity record of a job
type Event struct {
	TS        time.Time      `json:"ts"`
	JobID     string         `json:"job_id"`
	Seq       int64          `json:"seq"`
	EventType string         `json:"event_type"`
	Message   string         `json:"message"`
	Meta      map[string]any `json:"meta,omitempty"`
}

type PreviewRequest struct {
	Text    string  `json:"text"`
	Lang    string  `json:"lang,omitempty"`
	VoiceID string  `json:"voice_id,omitempty"`
	Pace    float64 `json:"pace,omitempty"`
}

type Preview struct {
	URL         string  `json:"url"`
	DurationSec float64 `json:"duration_sec"`
	Cached      bool    `json:"cached"`
}
