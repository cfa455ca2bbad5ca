package command

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/classhub/classhub-sessions/internal/domain/session"
	"github.com/classhub/classhub-sessions/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// FINISH SESSION COMMAND
// Completes a conducted session, stamping the actual finish time. Downstream
// payment and payout finalization subscribe to the resulting event.
// ══════════════════════════════════════════════════════════════════════════════

// FinishSessionCommand identifies the session to finish.
type FinishSessionCommand struct {
	UserID    uuid.UUID
	SessionID string
}

// Validate validates the command.
func (c FinishSessionCommand) Validate() error {
	if c.UserID == uuid.Nil {
		return shared.NewDomainError("session", "Finish", shared.ErrInvalidInput, "user id is required")
	}
	if c.SessionID == "" {
		return shared.NewDomainError("session", "Finish", shared.ErrInvalidInput, "session id is required")
	}
	return nil
}

// FinishSessionResult reports the session after the call.
type FinishSessionResult struct {
	Session      *session.Session
	Transitioned bool
}

// FinishSessionHandler handles FinishSessionCommand.
type FinishSessionHandler struct {
	mat       *Materializer
	publisher shared.EventPublisher
	logger    *slog.Logger
}

// NewFinishSessionHandler creates a FinishSessionHandler.
func NewFinishSessionHandler(mat *Materializer, publisher shared.EventPublisher, logger *slog.Logger) *FinishSessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FinishSessionHandler{mat: mat, publisher: publisher, logger: logger}
}

// Handle executes the finish.
func (h *FinishSessionHandler) Handle(ctx context.Context, cmd FinishSessionCommand) (*FinishSessionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	res, err := h.mat.Resolve(ctx, cmd.UserID, cmd.SessionID)
	if err != nil {
		return nil, err
	}
	if res.Slot != nil {
		return nil, shared.NewDomainError("session", "Finish", shared.ErrInvalidTransition,
			"slot has no materialized record; nothing to finish")
	}

	before := res.Session.Status
	s, transitioned, err := h.mat.Transition(ctx, res.Session, session.ActionFinish)
	if err != nil {
		return nil, err
	}
	if transitioned {
		publishEvent(h.logger, h.publisher, session.NewUpdatedEvent(s, before))
	}
	return &FinishSessionResult{Session: s, Transitioned: transitioned}, nil
}
