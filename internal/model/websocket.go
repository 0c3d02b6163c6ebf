package model

// WebSocket message types
const (
	WSMessageTypeEvent = "event"
	WSMessageTypePing  = "ping"
	WSMessageTypePong  = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSEventMessage carries one activity event to job subscribers
type WSEventMessage struct {
	Type  string `json:"type"`
	JobID string `json:"job_id"`
	Event Event  `json:"event"`
}
