package command

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/classhub/classhub-sessions/internal/domain/catalog"
	"github.com/classhub/classhub-sessions/internal/domain/session"
	"github.com/classhub/classhub-sessions/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CREATE EXTRA SESSION COMMAND
// Persists a manually created session outside the recurring schedule. The
// proposed window is probed for teacher and group double-bookings before
// anything is written; on conflict no row is created.
// ══════════════════════════════════════════════════════════════════════════════

// CreateExtraSessionCommand describes the manual session to create.
type CreateExtraSessionCommand struct {
	UserID  uuid.UUID
	GroupID uuid.UUID
	Title   string

	// StartAt/EndAt are UTC instants; EndAt defaults to StartAt plus the
	// class duration when zero.
	StartAt time.Time
	EndAt   time.Time
}

// Validate validates the command.
func (c CreateExtraSessionCommand) Validate() error {
	if c.UserID == uuid.Nil {
		return shared.NewDomainError("session", "CreateExtra", shared.ErrInvalidInput, "user id is required")
	}
	if c.GroupID == uuid.Nil {
		return shared.NewDomainError("session", "CreateExtra", shared.ErrInvalidInput, "group id is required")
	}
	if c.StartAt.IsZero() {
		return shared.NewDomainError("session", "CreateExtra", shared.ErrInvalidInput, "start time is required")
	}
	if !c.EndAt.IsZero() && !c.StartAt.Before(c.EndAt) {
		return shared.NewDomainError("session", "CreateExtra", shared.ErrInvalidInput, "end time must be after start time")
	}
	return nil
}

// CreateExtraSessionResult reports the created session.
type CreateExtraSessionResult struct {
	Session *session.Session
}

// CreateExtraSessionHandlerConfig configures the handler.
type CreateExtraSessionHandlerConfig struct {
	// ConflictCheck runs the teacher and group double-booking probes before
	// insert. The historical behavior of skipping them for manual sessions
	// remains selectable by turning this off.
	ConflictCheck bool
}

// DefaultCreateExtraSessionHandlerConfig returns the defaults.
func DefaultCreateExtraSessionHandlerConfig() CreateExtraSessionHandlerConfig {
	return CreateExtraSessionHandlerConfig{ConflictCheck: true}
}

// CreateExtraSessionHandler handles CreateExtraSessionCommand.
type CreateExtraSessionHandler struct {
	mat       *Materializer
	store     session.Store
	catalog   catalog.Catalog
	detector  *session.ConflictDetector
	publisher shared.EventPublisher
	logger    *slog.Logger
	config    CreateExtraSessionHandlerConfig
}

// NewCreateExtraSessionHandler creates a CreateExtraSessionHandler.
func NewCreateExtraSessionHandler(
	mat *Materializer,
	store session.Store,
	cat catalog.Catalog,
	publisher shared.EventPublisher,
	logger *slog.Logger,
	config CreateExtraSessionHandlerConfig,
) *CreateExtraSessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CreateExtraSessionHandler{
		mat:       mat,
		store:     store,
		catalog:   cat,
		detector:  session.NewConflictDetector(store),
		publisher: publisher,
		logger:    logger,
		config:    config,
	}
}

// Handle executes the creation.
func (h *CreateExtraSessionHandler) Handle(ctx context.Context, cmd CreateExtraSessionCommand) (*CreateExtraSessionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	gc, err := h.catalog.GroupClass(ctx, cmd.GroupID)
	if err != nil {
		return nil, err
	}
	if err := h.mat.authorize(ctx, cmd.UserID, gc.GroupID, gc.CenterID); err != nil {
		return nil, err
	}
	if !gc.ClassStatus.IsActive() {
		return nil, shared.NewDomainError("session", "CreateExtra", shared.ErrClassNotActive,
			"cannot add sessions to an inactive class")
	}

	startAt := cmd.StartAt.UTC()
	endAt := cmd.EndAt.UTC()
	if cmd.EndAt.IsZero() {
		endAt = startAt.Add(gc.Duration)
	}

	if h.config.ConflictCheck {
		if err := h.checkConflicts(ctx, gc, startAt, endAt); err != nil {
			return nil, err
		}
	}

	now := h.mat.now()
	s := &session.Session{
		ID:        uuid.New(),
		GroupID:   gc.GroupID,
		CenterID:  gc.CenterID,
		BranchID:  gc.BranchID,
		ClassID:   gc.ClassID,
		TeacherID: gc.TeacherID,
		Title:     cmd.Title,
		StartAt:   startAt,
		EndAt:     endAt,
		Status:    session.StatusScheduled,
		IsExtra:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	persisted, created, err := h.store.InsertIgnoringConflict(ctx, s)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, shared.NewDomainError("session", "CreateExtra", shared.ErrAlreadyExists,
			"a session already occupies this slot")
	}

	publishEvent(h.logger, h.publisher, session.NewCreatedEvent(persisted))
	return &CreateExtraSessionResult{Session: persisted}, nil
}

// checkConflicts probes teacher first, then group; the first hit is reported
// and emitted, and nothing is written.
func (h *CreateExtraSessionHandler) checkConflicts(ctx context.Context, gc *catalog.GroupClass, startAt, endAt time.Time) error {
	conflict, err := h.detector.TeacherConflict(ctx, gc.TeacherID, startAt, endAt, nil)
	if err != nil {
		return err
	}
	if conflict == nil {
		conflict, err = h.detector.GroupConflict(ctx, gc.GroupID, startAt, endAt, nil)
		if err != nil {
			return err
		}
	}
	if conflict == nil {
		return nil
	}

	publishEvent(h.logger, h.publisher,
		session.NewConflictDetectedEvent(gc.GroupID, gc.TeacherID, startAt, endAt, conflict.SessionID))
	return shared.NewDomainError("session", "CreateExtra", shared.ErrScheduleConflict,
		"window overlaps session "+conflict.SessionID.String())
}
