package model

import "time"

// Job represents one end-to-end render request and its lifecycle record
type Job struct {
	ID              string                    `json:"id"`
	State           JobState                  `json:"state"`
	Plan            Plan                      `json:"plan"`
	Artifacts       map[ArtifactKind][]string `json:"artifacts,omitempty"`
	AudioMetadata   *AudioMetadata            `json:"audio_metadata,omitempty"`
	AudioError      *AudioError               `json:"audio_error,omitempty"`
	Error           *JobError                 `json:"error,omitempty"`
	ProgressPct     int                       `json:"progress_pct"`
	CurrentStage    Stage                     `json:"current_stage,omitempty"`
	WorkerID        string                    `json:"worker_id,omitempty"`
	CancelRequested bool                      `json:"cancel_requested,omitempty"`
	VideoDuration   float64                   `json:"video_duration_sec,omitempty"`
	HeartbeatAt     *time.Time                `json:"heartbeat_at,omitempty"`
	CreatedAt       time.Time                 `json:"created_at"`
	StartedAt       *time.Time                `json:"started_at,omitempty"`
	CompletedAt     *time.Time                `json:"completed_at,omitempty"`
}

// JobError is the single structured failure a failed job exposes
type JobError struct {
	Code    string `json:"code"`
	Phase   string `json:"phase"`
	Message string `json:"message"`
}

// AudioError captures provider failures that were absorbed by fallback audio
type AudioError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Scenes  []int  `json:"scenes,omitempty"`
}

// AudioMetadata summarizes the narration produced for a job
type AudioMetadata struct {
	Lang             string           `json:"lang"`
	VoiceID          string           `json:"voice_id"`
	Provider         string           `json:"provider"`
	Paced            bool             `json:"paced"`
	TotalDurationSec float64          `json:"total_duration_sec"`
	PerScene         []SceneAudioMeta `json:"per_scene"`
}

// SceneAudioMeta describes the final narration of one scene
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

// HasArtifact reports whether at least one location is recorded for kind.
func (j *Job) HasArtifact(kind ArtifactKind) bool {
	return len(j.Artifacts[kind]) > 0
}

// AddArtifact appends a storage location for kind.
func (j *Job) AddArtifact(kind ArtifactKind, location string) {
	if j.Artifacts == nil {
		j.Artifacts = make(map[ArtifactKind][]string)
	}
	j.Artifacts[kind] = append(j.Artifacts[kind], location)
}

// Clone returns a deep copy safe to hand out of a store.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Plan.Scenes = append([]Scene(nil), j.Plan.Scenes...)
	if j.Artifacts != nil {
		c.Artifacts = make(map[ArtifactKind][]string, len(j.Artifacts))
		for k, v := range j.Artifacts {
			c.Artifacts[k] = append([]string(nil), v...)
		}
	}
	if j.AudioMetadata != nil {
		am := *j.AudioMetadata
		am.PerScene = append([]SceneAudioMeta(nil), j.AudioMetadata.PerScene...)
		c.AudioMetadata = &am
	}
	if j.AudioError != nil {
		ae := *j.AudioError
		ae.Scenes = append([]int(nil), j.AudioError.Scenes...)
		c.AudioError = &ae
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	c.HeartbeatAt = cloneTime(j.HeartbeatAt)
	c.StartedAt = cloneTime(j.StartedAt)
	c.CompletedAt = cloneTime(j.CompletedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
