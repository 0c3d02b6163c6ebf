package model

// Job states
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the job state machine allows from → to.
func CanTransition(from, to JobState) bool {
	switch from {
	case JobStateQueued:
		return to == JobStateRunning || to == JobStateCancelled
	case JobStateRunning:
		return to == JobStateCompleted || to == JobStateFailed || to == JobStateCancelled
	}
	return false
}

// Pipeline stages, in execution order
type Stage string

const (
	StageScript    Stage = "script"
	StageAudio     Stage = "audio"
	StageImages    Stage = "images"
	StageSubtitles Stage = "subtitles"
	StageStitch    Stage = "stitch"
	StagePublish   Stage = "publish"
)

var PipelineStages = []Stage{
	StageScript, StageAudio, StageImages, StageSubtitles, StageStitch, StagePublish,
}

// Error phase reported for narration failures in strict mode
const PhaseTTS = "tts"

// Artifact kinds
type ArtifactKind string

const (
	ArtifactScript   ArtifactKind = "script"
	ArtifactAudio    ArtifactKind = "audio"
	ArtifactImage    ArtifactKind = "image"
	ArtifactSubtitle ArtifactKind = "subtitle"
	ArtifactVideo    ArtifactKind = "video"
	ArtifactSummary  ArtifactKind = "summary"
	ArtifactPublish  ArtifactKind = "publish"
)

// Providers recorded in audio metadata
const (
	ProviderNetwork  = "network"
	ProviderOffline  = "offline"
	ProviderFallback = "fallback"
	ProviderSilence  = "silence"
	ProviderMixed    = "mixed"
)

// Activity event types
const (
	EventJobSubmitted       = "job.submitted"
	EventJobClaimed         = "job.claimed"
	EventStageStarted       = "stage.started"
	EventStageCompleted     = "stage.completed"
	EventStageSkipped       = "stage.skipped"
	EventStageFailed        = "stage.failed"
	EventTTSScene           = "tts.scene"
	EventTTSFallback        = "tts.fallback"
	EventTTSCacheHit        = "tts.cache_hit"
	EventCacheWriteFailed   = "cache.write_failed"
	EventPacingFailed       = "pacing.failed"
	EventJobCancelRequested = "job.cancel_requested"
	EventJobCancelled       = "job.cancelled"
	EventJobCompleted       = "job.completed"
	EventJobFailed          = "job.failed"
	EventPreviewGenerated   = "preview.generated"
)
