// Package activity records the append-only event stream of each job.
package activity

import (
	"context"
	"time"

	"github.com/narrately/api/internal/logger"
	"github.com/narrately/api/internal/model"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Store persists events. Append assigns ev.Seq, strictly increasing per job.
// Recent returns the newest limit events of a job in ascending seq order.
type Store interface {
	Append(ctx context.Context, ev *model.Event) error
	Recent(ctx context.Context, jobID string, limit int) ([]model.Event, error)
}

// Broadcaster receives every recorded event, typically the WebSocket hub.
type Broadcaster interface {
	BroadcastEvent(ev model.Event)
}

// Recorder is the write side used by pipeline components.
type Recorder interface {
	Record(ctx context.Context, jobID, eventType, message string, meta map[string]any)
}

// Log is the activity sink. Recording never fails the caller.
type Log struct {
	store Store
	hub   Broadcaster
	now   func() time.Time
	log   *logger.Logger
}

// Option configures a Log.
type Option func(*Log)

// WithBroadcaster forwards recorded events to b.
func WithBroadcaster(b Broadcaster) Option {
	return func(l *Log) { l.hub = b }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// NewLog creates a Log over store.
func NewLog(store Store, log *logger.Logger, opts ...Option) *Log {
	if log == nil {
		log = logger.Nop()
	}
	l := &Log{store: store, now: time.Now, log: log.WithComponent("activity")}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends an event. Store failures are logged and swallowed.
func (l *Log) Record(ctx context.Context, jobID, eventType, message string, meta map[string]any) {
	ev := model.Event{
		TS:        l.now().UTC(),
		JobID:     jobID,
		EventType: eventType,
		Message:   message,
		Meta:      meta,
	}
	// Recording must outlive a cancelled job context.
	if err := l.store.Append(context.WithoutCancel(ctx), &ev); err != nil {
		l.log.Error("failed to append activity event",
			"job_id", jobID, "event_type", eventType, "error", err.Error())
		return
	}
	if l.hub != nil {
		l.hub.BroadcastEvent(ev)
	}
}

// Query returns the newest limit events of a job, oldest first.
func (l *Log) Query(ctx context.Context, jobID string, limit int) ([]model.Event, error) {
	events, err := l.store.Recent(ctx, jobID, NormalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []model.Event{}
	}
	return events, nil
}

// NormalizeLimit applies the default and maximum page sizes.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Nop discards events; used where no log is wired.
type Nop struct{}

func (Nop) Record(context.Context, string, string, string, map[string]any) {}
