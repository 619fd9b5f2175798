package interfaces

import (
	"context"
)

// EventType identifies an internal pub/sub event
type EventType string

const (
	// EventJobProgress is published by the progress tracker on every
	// write-through (throttled) progress update
	EventJobProgress EventType = "job_progress"

	// EventJobStatus is published by the engine on every status transition
	EventJobStatus EventType = "job_status"

	// EventJobLog is published for job-scoped log lines
	EventJobLog EventType = "job_log"
)

// Event is a pub/sub event with an arbitrary payload
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler processes a published event
type EventHandler func(ctx context.Context, event Event) error

// EventService provides pub/sub event distribution between the engine and
// the delivery layer
type EventService interface {
	Subscribe(eventType EventType, handler EventHandler) error
	Publish(ctx context.Context, event Event) error
	PublishSync(ctx context.Context, event Event) error
	Close() error
}
