package model

import "time"

// Event is one append-only activity record of a job
type Event struct {
	TS        time.Time      `json:"ts"`
	JobID     string         `json:"job_id"`
	Seq       int64          `json:"seq"`
	EventType string         `json:"event_type"`
	Message   string         `json:"message"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// ActivityResponse represents the response for an activity query
type ActivityResponse struct {
	Events []Event `json:"events"`
}
