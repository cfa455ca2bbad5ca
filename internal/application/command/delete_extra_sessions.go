package command

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/classhub/classhub-sessions/internal/domain/session"
	"github.com/classhub/classhub-sessions/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DELETE EXTRA SESSIONS COMMAND
// Deletion is permitted only for un-started extra sessions; everything born
// from the recurring schedule moves through the state machine instead.
// ══════════════════════════════════════════════════════════════════════════════

// DeleteExtraSessionsCommand identifies the extra sessions to remove.
type DeleteExtraSessionsCommand struct {
	UserID     uuid.UUID
	SessionIDs []uuid.UUID
}

// Validate validates the command.
func (c DeleteExtraSessionsCommand) Validate() error {
	if c.UserID == uuid.Nil {
		return shared.NewDomainError("session", "DeleteExtra", shared.ErrInvalidInput, "user id is required")
	}
	if len(c.SessionIDs) == 0 {
		return shared.NewDomainError("session", "DeleteExtra", shared.ErrInvalidInput, "at least one session id is required")
	}
	return nil
}

// DeleteExtraSessionsResult reports what was removed.
type DeleteExtraSessionsResult struct {
	Deleted []uuid.UUID
}

// DeleteExtraSessionsHandler handles DeleteExtraSessionsCommand.
type DeleteExtraSessionsHandler struct {
	mat       *Materializer
	store     session.Store
	publisher shared.EventPublisher
	logger    *slog.Logger
}

// NewDeleteExtraSessionsHandler creates a DeleteExtraSessionsHandler.
func NewDeleteExtraSessionsHandler(mat *Materializer, store session.Store, publisher shared.EventPublisher, logger *slog.Logger) *DeleteExtraSessionsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeleteExtraSessionsHandler{mat: mat, store: store, publisher: publisher, logger: logger}
}

// Handle validates every target before deleting any of them.
func (h *DeleteExtraSessionsHandler) Handle(ctx context.Context, cmd DeleteExtraSessionsCommand) (*DeleteExtraSessionsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	targets := make([]*session.Session, 0, len(cmd.SessionIDs))
	for _, id := range cmd.SessionIDs {
		s, err := h.store.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := h.mat.authorize(ctx, cmd.UserID, s.GroupID, s.CenterID); err != nil {
			return nil, err
		}
		if !s.IsExtra {
			return nil, shared.NewDomainError("session", "DeleteExtra", shared.ErrInvalidState,
				"session "+id.String()+" is not an extra session")
		}
		if s.Status != session.StatusScheduled || s.ActualStartAt != nil {
			return nil, shared.NewDomainError("session", "DeleteExtra", shared.ErrInvalidState,
				"session "+id.String()+" has already been acted on")
		}
		targets = append(targets, s)
	}

	deletedByGroup := make(map[uuid.UUID][]uuid.UUID)
	deleted := make([]uuid.UUID, 0, len(targets))
	for _, s := range targets {
		if err := h.store.Delete(ctx, s.ID); err != nil {
			// Report what already went through alongside the failure.
			return &DeleteExtraSessionsResult{Deleted: deleted}, err
		}
		deleted = append(deleted, s.ID)
		deletedByGroup[s.GroupID] = append(deletedByGroup[s.GroupID], s.ID)
	}

	for groupID, ids := range deletedByGroup {
		publishEvent(h.logger, h.publisher, session.NewBulkDeletedEvent(groupID, ids))
	}
	return &DeleteExtraSessionsResult{Deleted: deleted}, nil
}
