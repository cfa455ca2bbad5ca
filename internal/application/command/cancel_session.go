package command

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/classhub/classhub-sessions/internal/domain/session"
	"github.com/classhub/classhub-sessions/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CANCEL SESSION COMMAND
// Cancels a materialized session, or tombstones a virtual slot: the inserted
// canceled record permanently suppresses the recurring projection for that
// slot even though the schedule rule would keep regenerating it. Idempotent.
// ══════════════════════════════════════════════════════════════════════════════

// CancelSessionCommand identifies the slot or session to cancel.
type CancelSessionCommand struct {
	UserID    uuid.UUID
	SessionID string
}

// Validate validates the command.
func (c CancelSessionCommand) Validate() error {
	if c.UserID == uuid.Nil {
		return shared.NewDomainError("session", "Cancel", shared.ErrInvalidInput, "user id is required")
	}
	if c.SessionID == "" {
		return shared.NewDomainError("session", "Cancel", shared.ErrInvalidInput, "session id is required")
	}
	return nil
}

// CancelSessionResult reports the session after the call.
type CancelSessionResult struct {
	Session *session.Session

	// Tombstoned is true when this call materialized the slot straight into
	// the canceled state.
	Tombstoned bool

	// Transitioned is true when this call changed an existing row's status.
	Transitioned bool
}

// CancelSessionHandler handles CancelSessionCommand.
type CancelSessionHandler struct {
	mat       *Materializer
	publisher shared.EventPublisher
	logger    *slog.Logger
}

// NewCancelSessionHandler creates a CancelSessionHandler.
func NewCancelSessionHandler(mat *Materializer, publisher shared.EventPublisher, logger *slog.Logger) *CancelSessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CancelSessionHandler{mat: mat, publisher: publisher, logger: logger}
}

// Handle executes the cancellation.
func (h *CancelSessionHandler) Handle(ctx context.Context, cmd CancelSessionCommand) (*CancelSessionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	res, err := h.mat.Resolve(ctx, cmd.UserID, cmd.SessionID)
	if err != nil {
		return nil, err
	}

	if res.Slot != nil {
		s, created, err := h.mat.Materialize(ctx, res.Slot, session.StatusCanceled)
		if err != nil {
			return nil, err
		}
		if created {
			publishEvent(h.logger, h.publisher, session.NewCanceledEvent(s, true))
			return &CancelSessionResult{Session: s, Tombstoned: true}, nil
		}
		// Lost the insert race; cancel whatever row won it.
		res.Session = s
	}

	s, transitioned, err := h.mat.Transition(ctx, res.Session, session.ActionCancel)
	if err != nil {
		return nil, err
	}
	if transitioned {
		publishEvent(h.logger, h.publisher, session.NewCanceledEvent(s, false))
	}
	return &CancelSessionResult{Session: s, Transitioned: transitioned}, nil
}
