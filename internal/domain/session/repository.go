package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/classhub/classhub-sessions/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// STORE PORT
// The core depends only on this narrow interface, never on a storage engine.
// ═══════════════════════════════════════════════════════════════════════════

// OverlapKey selects which dimension a conflict probe runs against.
type OverlapKey struct {
	// Exactly one of the two must be set.
	TeacherID uuid.UUID
	GroupID   uuid.UUID
}

// Store is the persistence boundary for sessions.
//
// Concurrency contract: there are no in-process locks anywhere in the core.
// Mutual exclusion for materialization rests entirely on the storage-level
// uniqueness constraint on (group_id, start_at). Implementations must treat a
// uniqueness violation inside InsertIgnoringConflict as "someone else already
// materialized this slot" and resolve it by re-reading, never by returning an
// error.
type Store interface {
	// FindByID returns the session with the given stored id.
	// Returns shared.ErrNotFound if no such session exists.
	FindByID(ctx context.Context, id uuid.UUID) (*Session, error)

	// FindByGroupAndStartTime looks a session up by its slot key.
	// Returns shared.ErrNotFound if the slot has not been materialized.
	FindByGroupAndStartTime(ctx context.Context, groupID uuid.UUID, startAt time.Time) (*Session, error)

	// ListInWindow returns the materialized sessions of the given groups whose
	// start time falls inside the half-open window, ordered by start time.
	ListInWindow(ctx context.Context, groupIDs []uuid.UUID, window shared.Window) ([]*Session, error)

	// InsertIgnoringConflict inserts the session guarded by the slot
	// uniqueness constraint. When the insert loses a race the existing row is
	// re-read and returned with created=false; the given session is returned
	// with created=true otherwise.
	InsertIgnoringConflict(ctx context.Context, s *Session) (persisted *Session, created bool, err error)

	// CompareAndSetStatus atomically moves the session from the expected
	// status to next, stamping the optional actual times, in a single unit of
	// work. Returns applied=false without error when the row is no longer in
	// the expected status; the caller re-reads and re-evaluates.
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, expect, next Status, actualStartAt, actualFinishAt *time.Time) (applied bool, err error)

	// Delete removes the session. Permitted only for un-started extra
	// sessions; callers enforce that rule before calling.
	Delete(ctx context.Context, id uuid.UUID) error

	// FindOverlapping returns the first materialized session of the keyed
	// teacher or group whose interval overlaps [startAt, endAt), optionally
	// excluding one session id. Canceled and missed rows do not block a slot
	// and are not reported. Returns shared.ErrNotFound when the window is free.
	FindOverlapping(ctx context.Context, key OverlapKey, startAt, endAt time.Time, excludeID *uuid.UUID) (*Session, error)

	// BulkInsertMissed inserts the given sessions with "insert, ignore
	// conflicts" semantics so concurrent check-ins always win the race.
	// Returns the number of rows actually inserted.
	BulkInsertMissed(ctx context.Context, sessions []*Session) (int, error)

	// MarkStaleScheduledMissed forces every scheduled session whose start
	// time is older than cutoff into missed. Returns the ids it transitioned.
	MarkStaleScheduledMissed(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}
