package command

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/classhub/classhub-sessions/internal/domain/session"
	"github.com/classhub/classhub-sessions/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHECK IN COMMAND
// Opens attendance registration for a slot, materializing it first when the
// target is still virtual. Idempotent: repeating the call returns the same row.
// ══════════════════════════════════════════════════════════════════════════════

// CheckInCommand identifies the slot to check in.
type CheckInCommand struct {
	// UserID is the caller performing the check-in.
	UserID uuid.UUID

	// SessionID is either a stored session id or a virtual identifier.
	SessionID string
}

// Validate validates the command.
func (c CheckInCommand) Validate() error {
	if c.UserID == uuid.Nil {
		return shared.NewDomainError("session", "CheckIn", shared.ErrInvalidInput, "user id is required")
	}
	if c.SessionID == "" {
		return shared.NewDomainError("session", "CheckIn", shared.ErrInvalidInput, "session id is required")
	}
	return nil
}

// CheckInResult reports the persisted session after the call.
type CheckInResult struct {
	Session *session.Session

	// Materialized is true when this call created the row.
	Materialized bool

	// Transitioned is true when this call changed the status.
	Transitioned bool
}

// CheckInHandler handles CheckInCommand.
type CheckInHandler struct {
	mat       *Materializer
	publisher shared.EventPublisher
	logger    *slog.Logger
}

// NewCheckInHandler creates a CheckInHandler.
func NewCheckInHandler(mat *Materializer, publisher shared.EventPublisher, logger *slog.Logger) *CheckInHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckInHandler{mat: mat, publisher: publisher, logger: logger}
}

// Handle executes the check-in.
func (h *CheckInHandler) Handle(ctx context.Context, cmd CheckInCommand) (*CheckInResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	res, err := h.mat.Resolve(ctx, cmd.UserID, cmd.SessionID)
	if err != nil {
		return nil, err
	}

	if res.Slot != nil {
		// Virtual slot: insert directly as checking_in; the slot is already
		// scheduled by definition, so no conflict probe is needed here.
		s, created, err := h.mat.Materialize(ctx, res.Slot, session.StatusCheckingIn)
		if err != nil {
			return nil, err
		}
		if created {
			publishEvent(h.logger, h.publisher, session.NewCreatedEvent(s))
			return &CheckInResult{Session: s, Materialized: true, Transitioned: true}, nil
		}
		// Lost the insert race: whoever won owns the row; fall through and
		// treat it like any other materialized record.
		res.Session = s
	}

	before := res.Session.Status
	s, transitioned, err := h.mat.Transition(ctx, res.Session, session.ActionCheckIn)
	if err != nil {
		return nil, err
	}
	if transitioned {
		publishEvent(h.logger, h.publisher, session.NewUpdatedEvent(s, before))
	}
	return &CheckInResult{Session: s, Transitioned: transitioned}, nil
}
