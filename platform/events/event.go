// Package events is the in-process publish/subscribe plumbing shared by all
// modules. Event definitions live with their owners in internal/events.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is anything that can be published on a Bus. EventName is the
// subscription key.
type Event interface {
	EventName() string
	OccurredAt() time.Time
}

// Scoped is implemented by events that belong to one tenant and one
// aggregate, which lets subscribers route them without a type switch.
type Scoped interface {
	Event
	Scope() (tenantID uuid.UUID, aggregateID uuid.UUID)
}

// BaseEvent carries the publication timestamp. Embed it in concrete events.
type BaseEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// OccurredAt implements Event.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// NewBaseEvent stamps an event with the current UTC time.
func NewBaseEvent() BaseEvent {
	return BaseEvent{Timestamp: time.Now().UTC()}
}

// Handler consumes published events.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc lets a plain function subscribe to a Bus.
type HandlerFunc func(ctx context.Context, event Event) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus routes events by name to subscribed handlers.
type Bus interface {
	// Publish hands the event to every subscriber without waiting.
	Publish(ctx context.Context, event Event)
	// PublishSync runs every subscriber before returning their joined errors.
	PublishSync(ctx context.Context, event Event) error
	// Subscribe registers handler under eventName, which must match
	// Event.EventName of the events it wants.
	Subscribe(eventName string, handler Handler)
}
