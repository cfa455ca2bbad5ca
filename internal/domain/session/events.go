package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/classhub/classhub-sessions/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// DOMAIN EVENTS
// Emitted on every lifecycle change; payments, payouts and the activity log
// subscribe downstream. A subscriber failure never rolls back a transition.
// ═══════════════════════════════════════════════════════════════════════════

// CreatedEvent - a session was materialized (check-in, tombstone or extra).
type CreatedEvent struct {
	shared.BaseEvent
	GroupID uuid.UUID
	StartAt time.Time
	Status  Status
	IsExtra bool
}

// NewCreatedEvent builds the event from a freshly persisted session.
func NewCreatedEvent(s *Session) CreatedEvent {
	return CreatedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventSessionCreated, s.ID.String()),
		GroupID:   s.GroupID,
		StartAt:   s.StartAt,
		Status:    s.Status,
		IsExtra:   s.IsExtra,
	}
}

// Payload implements shared.Event.
func (e CreatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"group_id": e.GroupID.String(),
		"start_at": e.StartAt.Format(time.RFC3339),
		"status":   string(e.Status),
		"is_extra": e.IsExtra,
	}
}

// UpdatedEvent - a session moved through the state machine.
type UpdatedEvent struct {
	shared.BaseEvent
	GroupID    uuid.UUID
	StartAt    time.Time
	FromStatus Status
	ToStatus   Status
}

// NewUpdatedEvent builds the event for a status transition.
func NewUpdatedEvent(s *Session, from Status) UpdatedEvent {
	return UpdatedEvent{
		BaseEvent:  shared.NewBaseEvent(shared.EventSessionUpdated, s.ID.String()),
		GroupID:    s.GroupID,
		StartAt:    s.StartAt,
		FromStatus: from,
		ToStatus:   s.Status,
	}
}

// Payload implements shared.Event.
func (e UpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"group_id":    e.GroupID.String(),
		"start_at":    e.StartAt.Format(time.RFC3339),
		"from_status": string(e.FromStatus),
		"to_status":   string(e.ToStatus),
	}
}

// CanceledEvent - a session was canceled, including tombstone creation for a
// virtual slot.
type CanceledEvent struct {
	shared.BaseEvent
	GroupID     uuid.UUID
	StartAt     time.Time
	WasVirtual  bool
	IsTombstone bool
}

// NewCanceledEvent builds the cancellation event.
func NewCanceledEvent(s *Session, wasVirtual bool) CanceledEvent {
	return CanceledEvent{
		BaseEvent:   shared.NewBaseEvent(shared.EventSessionCanceled, s.ID.String()),
		GroupID:     s.GroupID,
		StartAt:     s.StartAt,
		WasVirtual:  wasVirtual,
		IsTombstone: wasVirtual,
	}
}

// Payload implements shared.Event.
func (e CanceledEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"group_id":     e.GroupID.String(),
		"start_at":     e.StartAt.Format(time.RFC3339),
		"was_virtual":  e.WasVirtual,
		"is_tombstone": e.IsTombstone,
	}
}

// BulkCreatedEvent - the backfill sweep materialized a batch of missed slots.
type BulkCreatedEvent struct {
	shared.BaseEvent
	GroupID uuid.UUID
	Count   int
	Status  Status
}

// NewBulkCreatedEvent builds the bulk materialization event for one group.
func NewBulkCreatedEvent(groupID uuid.UUID, count int, status Status) BulkCreatedEvent {
	return BulkCreatedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventSessionsBulkCreated, groupID.String()),
		GroupID:   groupID,
		Count:     count,
		Status:    status,
	}
}

// Payload implements shared.Event.
func (e BulkCreatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"group_id": e.GroupID.String(),
		"count":    e.Count,
		"status":   string(e.Status),
	}
}

// BulkDeletedEvent - a batch of un-started extra sessions was removed.
type BulkDeletedEvent struct {
	shared.BaseEvent
	GroupID    uuid.UUID
	SessionIDs []uuid.UUID
}

// NewBulkDeletedEvent builds the bulk deletion event.
func NewBulkDeletedEvent(groupID uuid.UUID, ids []uuid.UUID) BulkDeletedEvent {
	return BulkDeletedEvent{
		BaseEvent:  shared.NewBaseEvent(shared.EventSessionsBulkDeleted, groupID.String()),
		GroupID:    groupID,
		SessionIDs: ids,
	}
}

// Payload implements shared.Event.
func (e BulkDeletedEvent) Payload() map[string]interface{} {
	ids := make([]string, len(e.SessionIDs))
	for i, id := range e.SessionIDs {
		ids[i] = id.String()
	}
	return map[string]interface{}{
		"group_id":    e.GroupID.String(),
		"session_ids": ids,
	}
}

// ConflictDetectedEvent - a proposed window was rejected as a double-booking.
type ConflictDetectedEvent struct {
	shared.BaseEvent
	GroupID            uuid.UUID
	TeacherID          uuid.UUID
	StartAt            time.Time
	EndAt              time.Time
	ConflictingSession uuid.UUID
}

// NewConflictDetectedEvent builds the conflict event.
func NewConflictDetectedEvent(groupID, teacherID uuid.UUID, startAt, endAt time.Time, conflicting uuid.UUID) ConflictDetectedEvent {
	return ConflictDetectedEvent{
		BaseEvent:          shared.NewBaseEvent(shared.EventScheduleConflictDetected, groupID.String()),
		GroupID:            groupID,
		TeacherID:          teacherID,
		StartAt:            startAt,
		EndAt:              endAt,
		ConflictingSession: conflicting,
	}
}

// Payload implements shared.Event.
func (e ConflictDetectedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"group_id":            e.GroupID.String(),
		"teacher_id":          e.TeacherID.String(),
		"start_at":            e.StartAt.Format(time.RFC3339),
		"end_at":              e.EndAt.Format(time.RFC3339),
		"conflicting_session": e.ConflictingSession.String(),
	}
}
