package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classhub/classhub-sessions/internal/domain/catalog"
	"github.com/classhub/classhub-sessions/internal/domain/schedule"
	"github.com/classhub/classhub-sessions/internal/domain/session"
	"github.com/classhub/classhub-sessions/internal/domain/shared"
)

type fixture struct {
	store  *memStore
	cat    *memCatalog
	access *memAccess
	pub    *capturingPublisher
	mat    *Materializer

	userID    uuid.UUID
	groupID   uuid.UUID
	centerID  uuid.UUID
	teacherID uuid.UUID
	itemID    uuid.UUID

	// slotStart is a Monday 09:00 UTC occurrence produced by the group's
	// single weekly rule.
	slotStart time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:     newMemStore(),
		cat:       newMemCatalog(),
		access:    newMemAccess(),
		pub:       &capturingPublisher{},
		userID:    uuid.New(),
		groupID:   uuid.New(),
		centerID:  uuid.New(),
		teacherID: uuid.New(),
		itemID:    uuid.New(),
		slotStart: time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC),
	}

	f.cat.groups[f.groupID] = &catalog.GroupClass{
		GroupID:     f.groupID,
		CenterID:    f.centerID,
		BranchID:    uuid.New(),
		ClassID:     uuid.New(),
		TeacherID:   f.teacherID,
		ClassName:   "Algebra II",
		ClassStatus: catalog.ClassActive,
		Duration:    time.Hour,
		Validity:    schedule.Validity{StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		Location:    time.UTC,
	}
	f.cat.items[f.groupID] = []schedule.Item{{
		ID:        f.itemID,
		GroupID:   f.groupID,
		Weekday:   time.Monday,
		StartTime: schedule.MustParseLocalTime("09:00"),
	}}
	f.access.allow(f.userID, f.groupID)

	f.mat = NewMaterializer(f.store, f.cat, f.access)
	return f
}

func (f *fixture) virtualID() string {
	return session.EncodeVirtualID(f.groupID, f.slotStart, &f.itemID)
}

func (f *fixture) checkIn() *CheckInHandler {
	return NewCheckInHandler(f.mat, f.pub, nil)
}

// ─────────────────────────────────────────────────────────────────────────────
// Check-in
// ─────────────────────────────────────────────────────────────────────────────

func TestCheckInMaterializesVirtualSlot(t *testing.T) {
	f := newFixture(t)

	res, err := f.checkIn().Handle(context.Background(), CheckInCommand{
		UserID:    f.userID,
		SessionID: f.virtualID(),
	})
	require.NoError(t, err)

	assert.True(t, res.Materialized)
	assert.True(t, res.Transitioned)
	assert.Equal(t, session.StatusCheckingIn, res.Session.Status)
	assert.Equal(t, f.groupID, res.Session.GroupID)
	assert.Equal(t, f.teacherID, res.Session.TeacherID)
	assert.Equal(t, "Algebra II", res.Session.Title)
	assert.True(t, res.Session.StartAt.Equal(f.slotStart))
	assert.True(t, res.Session.EndAt.Equal(f.slotStart.Add(time.Hour)))
	require.NotNil(t, res.Session.ScheduleItemID)
	assert.Equal(t, f.itemID, *res.Session.ScheduleItemID)
	assert.False(t, res.Session.IsExtra)

	assert.Equal(t, 1, f.store.count())
	assert.Len(t, f.pub.byType(shared.EventSessionCreated), 1)
}

func TestCheckInTwiceYieldsExactlyOneRow(t *testing.T) {
	f := newFixture(t)
	h := f.checkIn()
	cmd := CheckInCommand{UserID: f.userID, SessionID: f.virtualID()}

	first, err := h.Handle(context.Background(), cmd)
	require.NoError(t, err)
	second, err := h.Handle(context.Background(), cmd)
	require.NoError(t, err)

	assert.Equal(t, 1, f.store.count())
	assert.Equal(t, first.Session.ID, second.Session.ID)
	assert.False(t, second.Materialized)
	assert.False(t, second.Transitioned)
	assert.Equal(t, session.StatusCheckingIn, second.Session.Status)
}

func TestCheckInWorksOnStoredIDAfterMaterialization(t *testing.T) {
	f := newFixture(t)
	h := f.checkIn()

	first, err := h.Handle(context.Background(), CheckInCommand{UserID: f.userID, SessionID: f.virtualID()})
	require.NoError(t, err)

	// Repeating through the stored id is the same no-op.
	second, err := h.Handle(context.Background(), CheckInCommand{UserID: f.userID, SessionID: first.Session.ID.String()})
	require.NoError(t, err)
	assert.False(t, second.Transitioned)
	assert.Equal(t, 1, f.store.count())
}

func TestCheckInConcurrentCallsPersistOneRow(t *testing.T) {
	f := newFixture(t)
	h := f.checkIn()
	cmd := CheckInCommand{UserID: f.userID, SessionID: f.virtualID()}

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.Handle(context.Background(), cmd)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, f.store.inserted)
	assert.Equal(t, 1, f.store.count())
	assert.Len(t, f.pub.byType(shared.EventSessionCreated), 1)
}

func TestCheckInDeniedForUnauthorizedUser(t *testing.T) {
	f := newFixture(t)
	stranger := uuid.New()

	_, err := f.checkIn().Handle(context.Background(), CheckInCommand{
		UserID:    stranger,
		SessionID: f.virtualID(),
	})
	assert.ErrorIs(t, err, shared.ErrAccessDenied)
	assert.Equal(t, 0, f.store.count())
}

func TestCheckInCenterBypassGrantsAccess(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	f.access.bypasses[[2]uuid.UUID{owner, f.centerID}] = true

	res, err := f.checkIn().Handle(context.Background(), CheckInCommand{
		UserID:    owner,
		SessionID: f.virtualID(),
	})
	require.NoError(t, err)
	assert.True(t, res.Materialized)
}

func TestCheckInRefusedForInactiveClass(t *testing.T) {
	f := newFixture(t)
	f.cat.groups[f.groupID].ClassStatus = catalog.ClassPaused

	_, err := f.checkIn().Handle(context.Background(), CheckInCommand{
		UserID:    f.userID,
		SessionID: f.virtualID(),
	})
	assert.ErrorIs(t, err, shared.ErrClassNotActive)
	assert.Equal(t, 0, f.store.count())
}

func TestCheckInRefusedWhenNoRuleProducesSlot(t *testing.T) {
	f := newFixture(t)
	// Tuesday 10:15 never matches the Monday 09:00 rule.
	stale := session.EncodeVirtualID(f.groupID, time.Date(2024, 1, 9, 10, 15, 0, 0, time.UTC), nil)

	_, err := f.checkIn().Handle(context.Background(), CheckInCommand{
		UserID:    f.userID,
		SessionID: stale,
	})
	assert.ErrorIs(t, err, shared.ErrScheduleItemNotFound)
	assert.Equal(t, 0, f.store.count())
}

func TestCheckInRejectsMalformedIdentifiers(t *testing.T) {
	f := newFixture(t)

	for _, id := range []string{
		"virtual_not-a-uuid_2024-01-08T09:00:00Z",
		"virtual_" + f.groupID.String(),
		"virtual_" + f.groupID.String() + "_2024-01-08T09:00:00Z_extra_extra",
		"definitely-not-an-id",
	} {
		_, err := f.checkIn().Handle(context.Background(), CheckInCommand{
			UserID:    f.userID,
			SessionID: id,
		})
		assert.ErrorIs(t, err, shared.ErrInvalidIdentifier, "identifier %q", id)
	}
	assert.Equal(t, 0, f.store.count())
}

// ─────────────────────────────────────────────────────────────────────────────
// Lifecycle: start, finish
// ─────────────────────────────────────────────────────────────────────────────

func TestStartRequiresMaterializedRecord(t *testing.T) {
	f := newFixture(t)
	h := NewStartSessionHandler(f.mat, f.pub, nil)

	_, err := h.Handle(context.Background(), StartSessionCommand{
		UserID:    f.userID,
		SessionID: f.virtualID(),
	})
	assert.ErrorIs(t, err, shared.ErrInvalidTransition)
	assert.Equal(t, 0, f.store.count())
}

func TestFullLifecycleStampsActualTimes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	checkedIn, err := f.checkIn().Handle(ctx, CheckInCommand{UserID: f.userID, SessionID: f.virtualID()})
	require.NoError(t, err)
	id := checkedIn.Session.ID.String()

	started, err := NewStartSessionHandler(f.mat, f.pub, nil).Handle(ctx, StartSessionCommand{UserID: f.userID, SessionID: id})
	require.NoError(t, err)
	assert.Equal(t, session.StatusConducting, started.Session.Status)
	require.NotNil(t, started.Session.ActualStartAt)

	finished, err := NewFinishSessionHandler(f.mat, f.pub, nil).Handle(ctx, FinishSessionCommand{UserID: f.userID, SessionID: id})
	require.NoError(t, err)
	assert.Equal(t, session.StatusFinished, finished.Session.Status)
	require.NotNil(t, finished.Session.ActualFinishAt)
	assert.False(t, finished.Session.ActualFinishAt.Before(*started.Session.ActualStartAt))

	// Created + two transitions.
	assert.Len(t, f.pub.byType(shared.EventSessionUpdated), 2)
}

func TestFinishRejectedBeforeConducting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	checkedIn, err := f.checkIn().Handle(ctx, CheckInCommand{UserID: f.userID, SessionID: f.virtualID()})
	require.NoError(t, err)

	_, err = NewFinishSessionHandler(f.mat, f.pub, nil).Handle(ctx, FinishSessionCommand{
		UserID:    f.userID,
		SessionID: checkedIn.Session.ID.String(),
	})
	assert.ErrorIs(t, err, shared.ErrInvalidTransition)
}

// ─────────────────────────────────────────────────────────────────────────────
// Cancel and tombstones
// ─────────────────────────────────────────────────────────────────────────────

func TestCancelVirtualSlotWritesTombstone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := NewCancelSessionHandler(f.mat, f.pub, nil).Handle(ctx, CancelSessionCommand{
		UserID:    f.userID,
		SessionID: f.virtualID(),
	})
	require.NoError(t, err)
	assert.True(t, res.Tombstoned)
	assert.Equal(t, session.StatusCanceled, res.Session.Status)
	assert.Equal(t, 1, f.store.count())

	events := f.pub.byType(shared.EventSessionCanceled)
	require.Len(t, events, 1)
	assert.Equal(t, true, events[0].Payload()["is_tombstone"])

	// The tombstone blocks later activity on the same slot.
	_, err = f.checkIn().Handle(ctx, CheckInCommand{UserID: f.userID, SessionID: f.virtualID()})
	assert.ErrorIs(t, err, shared.ErrInvalidTransition)
	assert.Equal(t, 1, f.store.count())
}

func TestCancelIsIdempotentOnCanceledRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := NewCancelSessionHandler(f.mat, f.pub, nil)
	cmd := CancelSessionCommand{UserID: f.userID, SessionID: f.virtualID()}

	first, err := h.Handle(ctx, cmd)
	require.NoError(t, err)
	second, err := h.Handle(ctx, cmd)
	require.NoError(t, err)

	assert.True(t, first.Tombstoned)
	assert.False(t, second.Tombstoned)
	assert.False(t, second.Transitioned)
	assert.Equal(t, 1, f.store.count())
	assert.Len(t, f.pub.byType(shared.EventSessionCanceled), 1)
}

func TestCancelRejectedForFinishedSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	checkedIn, err := f.checkIn().Handle(ctx, CheckInCommand{UserID: f.userID, SessionID: f.virtualID()})
	require.NoError(t, err)
	id := checkedIn.Session.ID.String()
	_, err = NewStartSessionHandler(f.mat, f.pub, nil).Handle(ctx, StartSessionCommand{UserID: f.userID, SessionID: id})
	require.NoError(t, err)
	_, err = NewFinishSessionHandler(f.mat, f.pub, nil).Handle(ctx, FinishSessionCommand{UserID: f.userID, SessionID: id})
	require.NoError(t, err)

	_, err = NewCancelSessionHandler(f.mat, f.pub, nil).Handle(ctx, CancelSessionCommand{UserID: f.userID, SessionID: id})
	assert.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestRescheduleRevivesCanceledSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tomb, err := NewCancelSessionHandler(f.mat, f.pub, nil).Handle(ctx, CancelSessionCommand{
		UserID:    f.userID,
		SessionID: f.virtualID(),
	})
	require.NoError(t, err)

	res, err := NewRescheduleSessionHandler(f.mat, f.pub, nil).Handle(ctx, RescheduleSessionCommand{
		UserID:    f.userID,
		SessionID: tomb.Session.ID.String(),
	})
	require.NoError(t, err)
	assert.True(t, res.Transitioned)
	assert.Equal(t, session.StatusScheduled, res.Session.Status)

	// Revived slots accept check-in again.
	again, err := f.checkIn().Handle(ctx, CheckInCommand{UserID: f.userID, SessionID: f.virtualID()})
	require.NoError(t, err)
	assert.Equal(t, session.StatusCheckingIn, again.Session.Status)
	assert.Equal(t, 1, f.store.count())
}

func TestRescheduleRejectedForVirtualSlot(t *testing.T) {
	f := newFixture(t)

	_, err := NewRescheduleSessionHandler(f.mat, f.pub, nil).Handle(context.Background(), RescheduleSessionCommand{
		UserID:    f.userID,
		SessionID: f.virtualID(),
	})
	assert.ErrorIs(t, err, shared.ErrInvalidTransition)
}

// ─────────────────────────────────────────────────────────────────────────────
// Extra sessions
// ─────────────────────────────────────────────────────────────────────────────

func newExtraHandler(f *fixture, cfg CreateExtraSessionHandlerConfig) *CreateExtraSessionHandler {
	return NewCreateExtraSessionHandler(f.mat, f.store, f.cat, f.pub, nil, cfg)
}

func TestCreateExtraSessionDefaultsEndToClassDuration(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2024, 2, 3, 14, 0, 0, 0, time.UTC)

	res, err := newExtraHandler(f, DefaultCreateExtraSessionHandlerConfig()).Handle(context.Background(), CreateExtraSessionCommand{
		UserID:  f.userID,
		GroupID: f.groupID,
		Title:   "Make-up lesson",
		StartAt: start,
	})
	require.NoError(t, err)
	assert.True(t, res.Session.IsExtra)
	assert.Equal(t, session.StatusScheduled, res.Session.Status)
	assert.True(t, res.Session.EndAt.Equal(start.Add(time.Hour)))
	assert.Len(t, f.pub.byType(shared.EventSessionCreated), 1)
}

func TestCreateExtraSessionConflictWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Occupy the teacher's 14:00-15:00 window first.
	_, err := newExtraHandler(f, DefaultCreateExtraSessionHandlerConfig()).Handle(ctx, CreateExtraSessionCommand{
		UserID:  f.userID,
		GroupID: f.groupID,
		Title:   "First",
		StartAt: time.Date(2024, 2, 3, 14, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	_, err = newExtraHandler(f, DefaultCreateExtraSessionHandlerConfig()).Handle(ctx, CreateExtraSessionCommand{
		UserID:  f.userID,
		GroupID: f.groupID,
		Title:   "Overlapping",
		StartAt: time.Date(2024, 2, 3, 14, 30, 0, 0, time.UTC),
	})
	assert.ErrorIs(t, err, shared.ErrScheduleConflict)
	assert.Equal(t, 1, f.store.count())
	assert.Len(t, f.pub.byType(shared.EventScheduleConflictDetected), 1)
}

func TestCreateExtraSessionConflictCheckCanBeDisabled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := newExtraHandler(f, CreateExtraSessionHandlerConfig{ConflictCheck: false})

	_, err := h.Handle(ctx, CreateExtraSessionCommand{
		UserID:  f.userID,
		GroupID: f.groupID,
		Title:   "First",
		StartAt: time.Date(2024, 2, 3, 14, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	_, err = h.Handle(ctx, CreateExtraSessionCommand{
		UserID:  f.userID,
		GroupID: f.groupID,
		Title:   "Overlapping but allowed",
		StartAt: time.Date(2024, 2, 3, 14, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, f.store.count())
}

func TestCreateExtraSessionCanceledRowDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A tombstoned recurring slot must not count as a double-booking.
	_, err := NewCancelSessionHandler(f.mat, f.pub, nil).Handle(ctx, CancelSessionCommand{
		UserID:    f.userID,
		SessionID: f.virtualID(),
	})
	require.NoError(t, err)

	_, err = newExtraHandler(f, DefaultCreateExtraSessionHandlerConfig()).Handle(ctx, CreateExtraSessionCommand{
		UserID:  f.userID,
		GroupID: f.groupID,
		Title:   "Replacement",
		StartAt: f.slotStart.Add(15 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, f.store.count())
}

func TestDeleteExtraSessionsRemovesOnlyUnstartedExtras(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	extra, err := newExtraHandler(f, DefaultCreateExtraSessionHandlerConfig()).Handle(ctx, CreateExtraSessionCommand{
		UserID:  f.userID,
		GroupID: f.groupID,
		Title:   "Disposable",
		StartAt: time.Date(2024, 2, 3, 14, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	h := NewDeleteExtraSessionsHandler(f.mat, f.store, f.pub, nil)
	res, err := h.Handle(ctx, DeleteExtraSessionsCommand{
		UserID:     f.userID,
		SessionIDs: []uuid.UUID{extra.Session.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{extra.Session.ID}, res.Deleted)
	assert.Equal(t, 0, f.store.count())
	assert.Len(t, f.pub.byType(shared.EventSessionsBulkDeleted), 1)
}

func TestDeleteExtraSessionsRejectsRecurringRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	checkedIn, err := f.checkIn().Handle(ctx, CheckInCommand{UserID: f.userID, SessionID: f.virtualID()})
	require.NoError(t, err)

	_, err = NewDeleteExtraSessionsHandler(f.mat, f.store, f.pub, nil).Handle(ctx, DeleteExtraSessionsCommand{
		UserID:     f.userID,
		SessionIDs: []uuid.UUID{checkedIn.Session.ID},
	})
	assert.ErrorIs(t, err, shared.ErrInvalidState)
	assert.Equal(t, 1, f.store.count())
}

func TestDeleteExtraSessionsValidatesAllBeforeDeletingAny(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	extra, err := newExtraHandler(f, DefaultCreateExtraSessionHandlerConfig()).Handle(ctx, CreateExtraSessionCommand{
		UserID:  f.userID,
		GroupID: f.groupID,
		Title:   "Survivor",
		StartAt: time.Date(2024, 2, 3, 14, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	checkedIn, err := f.checkIn().Handle(ctx, CheckInCommand{UserID: f.userID, SessionID: f.virtualID()})
	require.NoError(t, err)

	_, err = NewDeleteExtraSessionsHandler(f.mat, f.store, f.pub, nil).Handle(ctx, DeleteExtraSessionsCommand{
		UserID:     f.userID,
		SessionIDs: []uuid.UUID{extra.Session.ID, checkedIn.Session.ID},
	})
	assert.ErrorIs(t, err, shared.ErrInvalidState)
	// Nothing was deleted because one target failed validation.
	assert.Equal(t, 2, f.store.count())
}
