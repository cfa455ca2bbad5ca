package command

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/classhub/classhub-sessions/internal/domain/session"
	"github.com/classhub/classhub-sessions/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// START SESSION COMMAND
// Begins conducting. Only legal from a materialized checking_in record: a
// virtual slot must be checked in first, it is never auto-promoted here.
// ══════════════════════════════════════════════════════════════════════════════

// StartSessionCommand identifies the session to start.
type StartSessionCommand struct {
	UserID    uuid.UUID
	SessionID string
}

// Validate validates the command.
func (c StartSessionCommand) Validate() error {
	if c.UserID == uuid.Nil {
		return shared.NewDomainError("session", "Start", shared.ErrInvalidInput, "user id is required")
	}
	if c.SessionID == "" {
		return shared.NewDomainError("session", "Start", shared.ErrInvalidInput, "session id is required")
	}
	return nil
}

// StartSessionResult reports the session after the call.
type StartSessionResult struct {
	Session      *session.Session
	Transitioned bool
}

// StartSessionHandler handles StartSessionCommand.
type StartSessionHandler struct {
	mat       *Materializer
	publisher shared.EventPublisher
	logger    *slog.Logger
}

// NewStartSessionHandler creates a StartSessionHandler.
func NewStartSessionHandler(mat *Materializer, publisher shared.EventPublisher, logger *slog.Logger) *StartSessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StartSessionHandler{mat: mat, publisher: publisher, logger: logger}
}

// Handle executes the start.
func (h *StartSessionHandler) Handle(ctx context.Context, cmd StartSessionCommand) (*StartSessionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	res, err := h.mat.Resolve(ctx, cmd.UserID, cmd.SessionID)
	if err != nil {
		return nil, err
	}
	if res.Slot != nil {
		return nil, shared.NewDomainError("session", "Start", shared.ErrInvalidTransition,
			"slot has no materialized record; check in first")
	}

	before := res.Session.Status
	s, transitioned, err := h.mat.Transition(ctx, res.Session, session.ActionStart)
	if err != nil {
		return nil, err
	}
	if transitioned {
		publishEvent(h.logger, h.publisher, session.NewUpdatedEvent(s, before))
	}
	return &StartSessionResult{Session: s, Transitioned: transitioned}, nil
}
