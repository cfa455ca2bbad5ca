package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/classhub/classhub-sessions/internal/domain/shared"
)

// Conflict describes an existing materialized session that blocks a proposed
// time window.
type Conflict struct {
	SessionID uuid.UUID
	StartAt   time.Time
	EndAt     time.Time
}

// ConflictDetector probes for double-bookings against materialized sessions.
// Virtual occurrences of other groups and teachers are never pre-materialized,
// so conflicts against them cannot arise: projection never silently writes.
type ConflictDetector struct {
	store Store
}

// NewConflictDetector creates a ConflictDetector over the given store.
func NewConflictDetector(store Store) *ConflictDetector {
	return &ConflictDetector{store: store}
}

// TeacherConflict returns the first stored session of the teacher overlapping
// [startAt, endAt), or nil when the window is free.
func (d *ConflictDetector) TeacherConflict(ctx context.Context, teacherID uuid.UUID, startAt, endAt time.Time, excludeID *uuid.UUID) (*Conflict, error) {
	return d.probe(ctx, OverlapKey{TeacherID: teacherID}, startAt, endAt, excludeID)
}

// GroupConflict returns the first stored session of the group overlapping
// [startAt, endAt), or nil when the window is free.
func (d *ConflictDetector) GroupConflict(ctx context.Context, groupID uuid.UUID, startAt, endAt time.Time, excludeID *uuid.UUID) (*Conflict, error) {
	return d.probe(ctx, OverlapKey{GroupID: groupID}, startAt, endAt, excludeID)
}

func (d *ConflictDetector) probe(ctx context.Context, key OverlapKey, startAt, endAt time.Time, excludeID *uuid.UUID) (*Conflict, error) {
	found, err := d.store.FindOverlapping(ctx, key, startAt.UTC(), endAt.UTC(), excludeID)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &Conflict{SessionID: found.ID, StartAt: found.StartAt, EndAt: found.EndAt}, nil
}
