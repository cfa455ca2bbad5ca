// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"context"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types - these drive the event-driven architecture.
// Downstream modules (payments, payouts, activity log) subscribe to these;
// the core does not know what subscribers do with them.
const (
	// Session lifecycle events
	EventSessionCreated  EventType = "session.created"
	EventSessionUpdated  EventType = "session.updated"
	EventSessionCanceled EventType = "session.canceled"

	// Bulk events
	EventSessionsBulkCreated EventType = "session.bulk_created"
	EventSessionsBulkDeleted EventType = "session.bulk_deleted"

	// Scheduling events
	EventScheduleConflictDetected EventType = "session.conflict_detected"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateId string    `json:"aggregate_id"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
	}
}

// EventHandler processes a single event. Handlers must be safe for concurrent use;
// a handler failure must never roll back the transition that produced the event.
type EventHandler func(ctx context.Context, event Event) error

// EventPublisher is the outbound port through which the core emits events.
type EventPublisher interface {
	// Publish delivers the event to all subscribers. Errors from individual
	// subscribers are the publisher's concern, not the caller's.
	Publish(event Event) error
}

// EventBus extends EventPublisher with subscription management.
type EventBus interface {
	EventPublisher

	// Subscribe registers a handler for a specific event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error

	// Close shuts the bus down, waiting for in-flight handlers.
	Close() error
}

// NopPublisher discards all events. Useful for tests and tools.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) error { return nil }
