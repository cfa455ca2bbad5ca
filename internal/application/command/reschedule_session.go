package command

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/classhub/classhub-sessions/internal/domain/session"
	"github.com/classhub/classhub-sessions/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESCHEDULE SESSION COMMAND
// Restores a canceled session to scheduled - the only backward edge in the
// state machine. Removing a tombstone this way re-opens the slot.
// ══════════════════════════════════════════════════════════════════════════════

// RescheduleSessionCommand identifies the canceled session to restore.
type RescheduleSessionCommand struct {
	UserID    uuid.UUID
	SessionID string
}

// Validate validates the command.
func (c RescheduleSessionCommand) Validate() error {
	if c.UserID == uuid.Nil {
		return shared.NewDomainError("session", "Reschedule", shared.ErrInvalidInput, "user id is required")
	}
	if c.SessionID == "" {
		return shared.NewDomainError("session", "Reschedule", shared.ErrInvalidInput, "session id is required")
	}
	return nil
}

// RescheduleSessionResult reports the session after the call.
type RescheduleSessionResult struct {
	Session      *session.Session
	Transitioned bool
}

// RescheduleSessionHandler handles RescheduleSessionCommand.
type RescheduleSessionHandler struct {
	mat       *Materializer
	publisher shared.EventPublisher
	logger    *slog.Logger
}

// NewRescheduleSessionHandler creates a RescheduleSessionHandler.
func NewRescheduleSessionHandler(mat *Materializer, publisher shared.EventPublisher, logger *slog.Logger) *RescheduleSessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RescheduleSessionHandler{mat: mat, publisher: publisher, logger: logger}
}

// Handle executes the reschedule.
func (h *RescheduleSessionHandler) Handle(ctx context.Context, cmd RescheduleSessionCommand) (*RescheduleSessionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	res, err := h.mat.Resolve(ctx, cmd.UserID, cmd.SessionID)
	if err != nil {
		return nil, err
	}
	if res.Slot != nil {
		// A virtual slot was never canceled, so there is nothing to restore.
		return nil, shared.NewDomainError("session", "Reschedule", shared.ErrInvalidTransition,
			"slot has no materialized record; only canceled sessions can be rescheduled")
	}

	before := res.Session.Status
	s, transitioned, err := h.mat.Transition(ctx, res.Session, session.ActionReschedule)
	if err != nil {
		return nil, err
	}
	if transitioned {
		publishEvent(h.logger, h.publisher, session.NewUpdatedEvent(s, before))
	}
	return &RescheduleSessionResult{Session: s, Transitioned: transitioned}, nil
}
