// Package command contains the write operations of the session core
// (CQRS - Commands). Every mutating path goes: authorize, validate,
// race-safe write, emit event.
package command

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/classhub/classhub-sessions/internal/domain/catalog"
	"github.com/classhub/classhub-sessions/internal/domain/schedule"
	"github.com/classhub/classhub-sessions/internal/domain/session"
	"github.com/classhub/classhub-sessions/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MATERIALIZER
// Converts a virtual occurrence into a persisted session exactly once, and
// drives the compare-and-set transition loop for already persisted records.
// ══════════════════════════════════════════════════════════════════════════════

// casAttempts bounds the re-read loop on a lost compare-and-set. Losing twice
// in a row on the same session id is already pathological.
const casAttempts = 3

// Materializer wraps identity classification, recurrence re-derivation,
// authorization and the race-safe insert path shared by every command.
type Materializer struct {
	store    session.Store
	catalog  catalog.Catalog
	access   catalog.AccessControl
	expander *schedule.Expander
	now      func() time.Time
}

// NewMaterializer creates a Materializer. The clock defaults to time.Now and
// is injectable for tests.
func NewMaterializer(store session.Store, cat catalog.Catalog, access catalog.AccessControl) *Materializer {
	return &Materializer{
		store:    store,
		catalog:  cat,
		access:   access,
		expander: schedule.NewExpander(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the clock. For tests.
func (m *Materializer) WithClock(now func() time.Time) *Materializer {
	m.now = now
	return m
}

// Resolved is the outcome of classifying and looking up an identifier.
// Exactly one of Session (a persisted row, authorization already checked) or
// Slot (a virtual slot that has no row yet) is set.
type Resolved struct {
	Session *session.Session
	Slot    *VirtualSlot
}

// VirtualSlot carries everything needed to materialize a decoded virtual id.
type VirtualSlot struct {
	ID    session.VirtualID
	Group *catalog.GroupClass
}

// Resolve classifies the identifier, authorizes the caller and returns either
// the persisted session or the still-virtual slot. The decoded group id of a
// virtual identifier is never trusted without the access check.
func (m *Materializer) Resolve(ctx context.Context, userID uuid.UUID, identifier string) (Resolved, error) {
	if session.IsVirtualID(identifier) {
		return m.resolveVirtual(ctx, userID, identifier)
	}

	id, err := uuid.Parse(identifier)
	if err != nil {
		return Resolved{}, shared.WrapError("session", "Resolve", shared.ErrInvalidIdentifier,
			"identifier is neither virtual nor a stored id", err)
	}
	s, err := m.store.FindByID(ctx, id)
	if err != nil {
		return Resolved{}, err
	}
	if err := m.authorize(ctx, userID, s.GroupID, s.CenterID); err != nil {
		return Resolved{}, err
	}
	return Resolved{Session: s}, nil
}

func (m *Materializer) resolveVirtual(ctx context.Context, userID uuid.UUID, identifier string) (Resolved, error) {
	vid, err := session.DecodeVirtualID(identifier)
	if err != nil {
		return Resolved{}, err
	}

	gc, err := m.catalog.GroupClass(ctx, vid.GroupID)
	if err != nil {
		return Resolved{}, err
	}
	if err := m.authorize(ctx, userID, gc.GroupID, gc.CenterID); err != nil {
		return Resolved{}, err
	}

	existing, err := m.store.FindByGroupAndStartTime(ctx, vid.GroupID, vid.StartAt)
	if err == nil {
		return Resolved{Session: existing}, nil
	}
	if !shared.IsNotFound(err) {
		return Resolved{}, err
	}
	return Resolved{Slot: &VirtualSlot{ID: vid, Group: gc}}, nil
}

// authorize checks group membership, falling back to the center-wide bypass.
func (m *Materializer) authorize(ctx context.Context, userID, groupID, centerID uuid.UUID) error {
	ok, err := m.access.IsAuthorizedForGroup(ctx, userID, groupID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	bypass, err := m.access.CanBypassInternalAccess(ctx, userID, centerID)
	if err != nil {
		return err
	}
	if bypass {
		return nil
	}
	return shared.NewDomainError("session", "Authorize", shared.ErrAccessDenied,
		fmt.Sprintf("user %s is not authorized for group %s", userID, groupID))
}

// Materialize persists the virtual slot with the given initial status,
// guarded by the slot uniqueness constraint. A lost insert race is not an
// error: the existing row is returned with created=false and the caller
// continues against it.
func (m *Materializer) Materialize(ctx context.Context, slot *VirtualSlot, initial session.Status) (*session.Session, bool, error) {
	gc := slot.Group
	if !gc.ClassStatus.IsActive() {
		return nil, false, shared.NewDomainError("session", "Materialize", shared.ErrClassNotActive,
			fmt.Sprintf("class %s is %s", gc.ClassID, gc.ClassStatus))
	}

	item, err := m.matchScheduleItem(ctx, slot)
	if err != nil {
		return nil, false, err
	}

	now := m.now()
	itemID := item.ID
	s := &session.Session{
		ID:             uuid.New(),
		GroupID:        gc.GroupID,
		CenterID:       gc.CenterID,
		BranchID:       gc.BranchID,
		ClassID:        gc.ClassID,
		TeacherID:      gc.TeacherID,
		ScheduleItemID: &itemID,
		Title:          gc.ClassName,
		StartAt:        slot.ID.StartAt,
		EndAt:          slot.ID.StartAt.Add(gc.Duration),
		Status:         initial,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return m.store.InsertIgnoringConflict(ctx, s)
}

// matchScheduleItem re-derives the slot against the group's current rules.
// The identifier may predate a schedule change, in which case no rule
// produces its time anymore and materialization must be refused.
func (m *Materializer) matchScheduleItem(ctx context.Context, slot *VirtualSlot) (schedule.Item, error) {
	items, err := m.catalog.ScheduleItems(ctx, slot.Group.GroupID)
	if err != nil {
		return schedule.Item{}, err
	}

	for _, item := range items {
		if slot.ID.ScheduleItemID != nil && item.ID != *slot.ID.ScheduleItemID {
			continue
		}
		if m.expander.OccursAt(item, slot.ID.StartAt, slot.Group.Location, slot.Group.Validity) {
			return item, nil
		}
	}
	return schedule.Item{}, shared.NewDomainError("session", "Materialize", shared.ErrScheduleItemNotFound,
		fmt.Sprintf("no schedule rule produces slot %s for group %s",
			slot.ID.StartAt.Format(time.RFC3339), slot.Group.GroupID))
}

// Transition drives one state-machine action on a persisted session through
// the store's compare-and-set, re-reading and re-evaluating on a lost race.
// Returns the up-to-date session and whether this call performed the change.
// Partial application is impossible: all checks happen in Apply before the
// single CAS write.
func (m *Materializer) Transition(ctx context.Context, s *session.Session, action session.Action) (*session.Session, bool, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		next := *s
		changed, err := session.Apply(&next, action, m.now())
		if err != nil {
			return nil, false, err
		}
		if !changed {
			// Idempotent no-op: the current row is the answer.
			return s, false, nil
		}

		var startStamp, finishStamp *time.Time
		if s.ActualStartAt == nil && next.ActualStartAt != nil {
			startStamp = next.ActualStartAt
		}
		if s.ActualFinishAt == nil && next.ActualFinishAt != nil {
			finishStamp = next.ActualFinishAt
		}

		applied, err := m.store.CompareAndSetStatus(ctx, s.ID, s.Status, next.Status, startStamp, finishStamp)
		if err != nil {
			return nil, false, err
		}
		if applied {
			next.UpdatedAt = m.now()
			return &next, true, nil
		}

		// Someone else moved the row first; re-read and re-evaluate.
		s, err = m.store.FindByID(ctx, s.ID)
		if err != nil {
			return nil, false, err
		}
	}
	return nil, false, shared.NewDomainError("session", "Transition", shared.ErrConcurrentModification,
		fmt.Sprintf("session %s kept changing underneath %s", s.ID, action))
}
