package query

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/classhub/classhub-sessions/internal/domain/catalog"
	"github.com/classhub/classhub-sessions/internal/domain/schedule"
	"github.com/classhub/classhub-sessions/internal/domain/session"
	"github.com/classhub/classhub-sessions/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET SESSION QUERY
// Resolves a single identifier, stored or virtual, into the read-view union.
// A virtual identifier whose slot was materialized resolves to the stored row.
// ══════════════════════════════════════════════════════════════════════════════

// GetSessionQuery asks for one session by stored or virtual identifier.
type GetSessionQuery struct {
	UserID    uuid.UUID
	SessionID string
}

// Validate validates the query.
func (q GetSessionQuery) Validate() error {
	if q.UserID == uuid.Nil {
		return shared.NewDomainError("session", "GetSession", shared.ErrInvalidInput, "user id is required")
	}
	if q.SessionID == "" {
		return shared.NewDomainError("session", "GetSession", shared.ErrInvalidInput, "session id is required")
	}
	return nil
}

// GetSessionResult carries the resolved view.
type GetSessionResult struct {
	Session session.MergedSession
}

// GetSessionHandler handles GetSessionQuery.
type GetSessionHandler struct {
	store    session.Store
	catalog  catalog.Catalog
	access   catalog.AccessControl
	expander *schedule.Expander
}

// NewGetSessionHandler creates a GetSessionHandler.
func NewGetSessionHandler(store session.Store, cat catalog.Catalog, access catalog.AccessControl) *GetSessionHandler {
	return &GetSessionHandler{
		store:    store,
		catalog:  cat,
		access:   access,
		expander: schedule.NewExpander(),
	}
}

// Handle resolves the identifier.
func (h *GetSessionHandler) Handle(ctx context.Context, q GetSessionQuery) (*GetSessionResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	if session.IsVirtualID(q.SessionID) {
		return h.resolveVirtual(ctx, q)
	}

	id, err := uuid.Parse(q.SessionID)
	if err != nil {
		return nil, shared.WrapError("session", "GetSession", shared.ErrInvalidIdentifier,
			"identifier is neither virtual nor a stored id", err)
	}
	s, err := h.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	gc, err := h.catalog.GroupClass(ctx, s.GroupID)
	if err != nil {
		return nil, err
	}
	if err := h.authorize(ctx, q.UserID, gc); err != nil {
		return nil, err
	}
	return &GetSessionResult{Session: session.MergedFromSession(s)}, nil
}

func (h *GetSessionHandler) resolveVirtual(ctx context.Context, q GetSessionQuery) (*GetSessionResult, error) {
	vid, err := session.DecodeVirtualID(q.SessionID)
	if err != nil {
		return nil, err
	}
	gc, err := h.catalog.GroupClass(ctx, vid.GroupID)
	if err != nil {
		return nil, err
	}
	if err := h.authorize(ctx, q.UserID, gc); err != nil {
		return nil, err
	}

	if s, err := h.store.FindByGroupAndStartTime(ctx, vid.GroupID, vid.StartAt); err == nil {
		return &GetSessionResult{Session: session.MergedFromSession(s)}, nil
	} else if !shared.IsNotFound(err) {
		return nil, err
	}

	items, err := h.catalog.ScheduleItems(ctx, gc.GroupID)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if vid.ScheduleItemID != nil && item.ID != *vid.ScheduleItemID {
			continue
		}
		if h.expander.OccursAt(item, vid.StartAt, gc.Location, gc.Validity) {
			occ := schedule.Occurrence{
				GroupID:        gc.GroupID,
				ScheduleItemID: item.ID,
				StartAt:        vid.StartAt,
				EndAt:          vid.StartAt.Add(gc.Duration),
			}
			v := session.NewVirtualFromOccurrence(occ, gc.CenterID, gc.BranchID, gc.ClassID, gc.TeacherID, gc.ClassName)
			return &GetSessionResult{Session: session.MergedFromVirtual(v)}, nil
		}
	}
	return nil, shared.NewDomainError("session", "GetSession", shared.ErrNotFound,
		fmt.Sprintf("no schedule rule produces slot %s for group %s", q.SessionID, gc.GroupID))
}

func (h *GetSessionHandler) authorize(ctx context.Context, userID uuid.UUID, gc *catalog.GroupClass) error {
	ok, err := h.access.IsAuthorizedForGroup(ctx, userID, gc.GroupID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	bypass, err := h.access.CanBypassInternalAccess(ctx, userID, gc.CenterID)
	if err != nil {
		return err
	}
	if bypass {
		return nil
	}
	return shared.NewDomainError("session", "GetSession", shared.ErrAccessDenied,
		fmt.Sprintf("user %s is not authorized for group %s", userID, gc.GroupID))
}
