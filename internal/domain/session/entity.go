// Package session contains the core session domain: the persisted Session
// entity, its virtual (projected, never persisted) counterpart, the status
// state machine, the virtual identifier codec, the merge and conflict rules,
// and the narrow store port everything is persisted through.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/classhub/classhub-sessions/internal/domain/schedule"
)

// ═══════════════════════════════════════════════════════════════════════════
// STATUS
// ═══════════════════════════════════════════════════════════════════════════

// Status is the lifecycle state of a session.
type Status string

const (
	// StatusScheduled - the session is booked but nothing has happened yet.
	// This is the implicit status of every virtual session.
	StatusScheduled Status = "scheduled"
	// StatusCheckingIn - attendance registration has begun.
	StatusCheckingIn Status = "checking_in"
	// StatusConducting - the session is being taught right now.
	StatusConducting Status = "conducting"
	// StatusFinished - the session was conducted to completion.
	StatusFinished Status = "finished"
	// StatusCanceled - the session was called off; also used as a tombstone
	// that suppresses the recurring projection for its slot.
	StatusCanceled Status = "canceled"
	// StatusMissed - the slot elapsed without any action. Reached only by the
	// backfill sweep, never by direct user action.
	StatusMissed Status = "missed"
)

// IsValid checks that the status is one of the known values.
func (s Status) IsValid() bool {
	switch s {
	case StatusScheduled, StatusCheckingIn, StatusConducting, StatusFinished, StatusCanceled, StatusMissed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the session can no longer move forward.
// Canceled is not terminal: reschedule is the one backward edge.
func (s Status) IsTerminal() bool {
	return s == StatusFinished || s == StatusMissed
}

// ═══════════════════════════════════════════════════════════════════════════
// SESSION
// ═══════════════════════════════════════════════════════════════════════════

// Session is a materialized (persisted) session record. The tenant, branch,
// class and teacher ids are denormalized at materialization time so later
// org changes never retroactively alter history.
//
// Invariant: for a given GroupID at most one persisted session exists per
// exact StartAt. The store's uniqueness constraint on (group_id, start_at)
// enforces this and doubles as the idempotency mechanism for materialization.
type Session struct {
	ID       uuid.UUID
	GroupID  uuid.UUID
	CenterID uuid.UUID
	BranchID uuid.UUID
	ClassID  uuid.UUID

	// TeacherID is the teacher assigned at materialization time.
	TeacherID uuid.UUID

	// ScheduleItemID is the recurring rule that produced the slot;
	// nil for manually created extra sessions.
	ScheduleItemID *uuid.UUID

	Title   string
	StartAt time.Time // UTC instant
	EndAt   time.Time // UTC instant
	Status  Status
	IsExtra bool

	// Set only on real transitions, never derived.
	ActualStartAt  *time.Time
	ActualFinishAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SlotKey returns the logical identity of the session's slot.
func (s *Session) SlotKey() SlotKey {
	return SlotKey{GroupID: s.GroupID, StartAt: s.StartAt.UTC()}
}

// Window returns the planned [StartAt, EndAt) interval.
func (s *Session) Window() (time.Time, time.Time) {
	return s.StartAt, s.EndAt
}

// ═══════════════════════════════════════════════════════════════════════════
// SLOT KEY
// ═══════════════════════════════════════════════════════════════════════════

// SlotKey is the pair (groupId, startTime) that identifies a session slot
// before and after materialization. StartAt must be UTC.
type SlotKey struct {
	GroupID uuid.UUID
	StartAt time.Time
}

// mapKey is a comparable form of SlotKey usable as a map key. Epoch millis
// are enough resolution: sessions start on whole minutes.
type mapKey struct {
	groupID     uuid.UUID
	startMillis int64
}

func (k SlotKey) mapKey() mapKey {
	return mapKey{groupID: k.GroupID, startMillis: k.StartAt.UTC().UnixMilli()}
}

// ═══════════════════════════════════════════════════════════════════════════
// VIRTUAL SESSION
// ═══════════════════════════════════════════════════════════════════════════

// VirtualSession is a computed, non-persisted projection of a recurring slot.
// It has the shape of a Session minus identity and audit fields; its status is
// always StatusScheduled. It exists only as the output of recurrence expansion
// and is either promoted to a real Session or discarded.
type VirtualSession struct {
	GroupID        uuid.UUID
	CenterID       uuid.UUID
	BranchID       uuid.UUID
	ClassID        uuid.UUID
	TeacherID      uuid.UUID
	ScheduleItemID uuid.UUID
	Title          string
	StartAt        time.Time // UTC instant
	EndAt          time.Time // UTC instant
}

// SlotKey returns the logical identity of the projected slot.
func (v *VirtualSession) SlotKey() SlotKey {
	return SlotKey{GroupID: v.GroupID, StartAt: v.StartAt.UTC()}
}

// VirtualID returns the derived identifier for this projection.
func (v *VirtualSession) VirtualID() string {
	return EncodeVirtualID(v.GroupID, v.StartAt, &v.ScheduleItemID)
}

// NewVirtualFromOccurrence builds a projection from an expanded occurrence,
// stamping the denormalized snapshot fields the caller read from the catalog.
func NewVirtualFromOccurrence(occ schedule.Occurrence, centerID, branchID, classID, teacherID uuid.UUID, title string) *VirtualSession {
	return &VirtualSession{
		GroupID:        occ.GroupID,
		CenterID:       centerID,
		BranchID:       branchID,
		ClassID:        classID,
		TeacherID:      teacherID,
		ScheduleItemID: occ.ScheduleItemID,
		Title:          title,
		StartAt:        occ.StartAt,
		EndAt:          occ.EndAt,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// MERGED SESSION
// ═══════════════════════════════════════════════════════════════════════════

// MergedSession is the read-view union of Session | VirtualSession. Real
// sessions always win over virtual ones sharing the same slot key.
type MergedSession struct {
	// ID is the stored uuid for real sessions and the derived virtual
	// identifier for projections.
	ID             string     `json:"id"`
	GroupID        uuid.UUID  `json:"group_id"`
	CenterID       uuid.UUID  `json:"center_id"`
	BranchID       uuid.UUID  `json:"branch_id"`
	ClassID        uuid.UUID  `json:"class_id"`
	TeacherID      uuid.UUID  `json:"teacher_id"`
	ScheduleItemID *uuid.UUID `json:"schedule_item_id,omitempty"`
	Title          string     `json:"title,omitempty"`
	StartAt        time.Time  `json:"start_at"`
	EndAt          time.Time  `json:"end_at"`
	Status         Status     `json:"status"`
	IsExtra        bool       `json:"is_extra"`
	IsVirtual      bool       `json:"is_virtual"`
	ActualStartAt  *time.Time `json:"actual_start_at,omitempty"`
	ActualFinishAt *time.Time `json:"actual_finish_at,omitempty"`
}

// MergedFromSession flattens a materialized session into the view union.
func MergedFromSession(s *Session) MergedSession {
	return MergedSession{
		ID:             s.ID.String(),
		GroupID:        s.GroupID,
		CenterID:       s.CenterID,
		BranchID:       s.BranchID,
		ClassID:        s.ClassID,
		TeacherID:      s.TeacherID,
		ScheduleItemID: s.ScheduleItemID,
		Title:          s.Title,
		StartAt:        s.StartAt,
		EndAt:          s.EndAt,
		Status:         s.Status,
		IsExtra:        s.IsExtra,
		IsVirtual:      false,
		ActualStartAt:  s.ActualStartAt,
		ActualFinishAt: s.ActualFinishAt,
	}
}

// MergedFromVirtual flattens a projection into the view union.
func MergedFromVirtual(v *VirtualSession) MergedSession {
	itemID := v.ScheduleItemID
	return MergedSession{
		ID:             v.VirtualID(),
		GroupID:        v.GroupID,
		CenterID:       v.CenterID,
		BranchID:       v.BranchID,
		ClassID:        v.ClassID,
		TeacherID:      v.TeacherID,
		ScheduleItemID: &itemID,
		Title:          v.Title,
		StartAt:        v.StartAt,
		EndAt:          v.EndAt,
		Status:         StatusScheduled,
		IsExtra:        false,
		IsVirtual:      true,
	}
}

// SlotKey returns the logical identity of the merged entry.
func (m MergedSession) SlotKey() SlotKey {
	return SlotKey{GroupID: m.GroupID, StartAt: m.StartAt.UTC()}
}
