package query

import (
	"context"
	"sort"
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

// ─────────────────────────────────────────────────────────────────────────────
// Fakes
// ─────────────────────────────────────────────────────────────────────────────

type stubStore struct {
	sessions []*session.Session
}

func (s *stubStore) FindByID(_ context.Context, id uuid.UUID) (*session.Session, error) {
	for _, row := range s.sessions {
		if row.ID == id {
			return row, nil
		}
	}
	return nil, shared.NewDomainError("session", "FindByID", shared.ErrNotFound, "no session")
}

func (s *stubStore) FindByGroupAndStartTime(_ context.Context, groupID uuid.UUID, startAt time.Time) (*session.Session, error) {
	for _, row := range s.sessions {
		if row.GroupID == groupID && row.StartAt.Equal(startAt) {
			return row, nil
		}
	}
	return nil, shared.NewDomainError("session", "FindByGroupAndStartTime", shared.ErrNotFound, "no session")
}

func (s *stubStore) ListInWindow(_ context.Context, groupIDs []uuid.UUID, window shared.Window) ([]*session.Session, error) {
	groups := make(map[uuid.UUID]bool, len(groupIDs))
	for _, id := range groupIDs {
		groups[id] = true
	}
	var out []*session.Session
	for _, row := range s.sessions {
		if groups[row.GroupID] && window.Contains(row.StartAt) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out, nil
}

func (s *stubStore) InsertIgnoringConflict(context.Context, *session.Session) (*session.Session, bool, error) {
	panic("not used in queries")
}

func (s *stubStore) CompareAndSetStatus(context.Context, uuid.UUID, session.Status, session.Status, *time.Time, *time.Time) (bool, error) {
	panic("not used in queries")
}

func (s *stubStore) Delete(context.Context, uuid.UUID) error { panic("not used in queries") }

func (s *stubStore) FindOverlapping(context.Context, session.OverlapKey, time.Time, time.Time, *uuid.UUID) (*session.Session, error) {
	panic("not used in queries")
}

func (s *stubStore) BulkInsertMissed(context.Context, []*session.Session) (int, error) {
	panic("not used in queries")
}

func (s *stubStore) MarkStaleScheduledMissed(context.Context, time.Time) ([]uuid.UUID, error) {
	panic("not used in queries")
}

type stubCatalog struct {
	groups map[uuid.UUID]*catalog.GroupClass
	items  map[uuid.UUID][]schedule.Item
}

func (c *stubCatalog) GroupClass(_ context.Context, groupID uuid.UUID) (*catalog.GroupClass, error) {
	gc, ok := c.groups[groupID]
	if !ok {
		return nil, shared.NewDomainError("catalog", "GroupClass", shared.ErrNotFound, "no group")
	}
	return gc, nil
}

func (c *stubCatalog) ScheduleItems(_ context.Context, groupID uuid.UUID) ([]schedule.Item, error) {
	return c.items[groupID], nil
}

func (c *stubCatalog) ActiveGroupIDs(context.Context) ([]uuid.UUID, error) {
	return nil, nil
}

type stubAccess struct {
	allowed map[[2]uuid.UUID]bool
}

func (a *stubAccess) IsAuthorizedForGroup(_ context.Context, userID, groupID uuid.UUID) (bool, error) {
	return a.allowed[[2]uuid.UUID{userID, groupID}], nil
}

func (a *stubAccess) CanBypassInternalAccess(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return false, nil
}

// versionedCache mirrors the versioned-key contract of the real cache.
type versionedCache struct {
	mu       sync.Mutex
	versions map[uuid.UUID]int64
	views    map[string][]session.MergedSession
	sets     int
}

func newVersionedCache() *versionedCache {
	return &versionedCache{
		versions: make(map[uuid.UUID]int64),
		views:    make(map[string][]session.MergedSession),
	}
}

func (c *versionedCache) GroupVersions(_ context.Context, groupIDs []uuid.UUID) (map[uuid.UUID]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[uuid.UUID]int64, len(groupIDs))
	for _, id := range groupIDs {
		out[id] = c.versions[id]
	}
	return out, nil
}

func (c *versionedCache) GetView(_ context.Context, key string) ([]session.MergedSession, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	view, ok := c.views[key]
	return view, ok, nil
}

func (c *versionedCache) SetView(_ context.Context, key string, view []session.MergedSession, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.views[key] = view
	c.sets++
	return nil
}

func (c *versionedCache) Invalidate(_ context.Context, groupID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.versions[groupID]++
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Fixture
// ─────────────────────────────────────────────────────────────────────────────

type queryFixture struct {
	store  *stubStore
	cat    *stubCatalog
	access *stubAccess

	userID  uuid.UUID
	groupID uuid.UUID
	itemID  uuid.UUID
}

// newQueryFixture builds one group with a Monday 09:00 UTC rule valid from
// 2024-01-01. January 2024 has five Mondays: the 1st, 8th, 15th, 22nd, 29th.
func newQueryFixture(t *testing.T) *queryFixture {
	t.Helper()

	f := &queryFixture{
		store:   &stubStore{},
		userID:  uuid.New(),
		groupID: uuid.New(),
		itemID:  uuid.New(),
	}
	f.cat = &stubCatalog{
		groups: map[uuid.UUID]*catalog.GroupClass{
			f.groupID: {
				GroupID:     f.groupID,
				CenterID:    uuid.New(),
				BranchID:    uuid.New(),
				ClassID:     uuid.New(),
				TeacherID:   uuid.New(),
				ClassName:   "Algebra II",
				ClassStatus: catalog.ClassActive,
				Duration:    time.Hour,
				Validity:    schedule.Validity{StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
				Location:    time.UTC,
			},
		},
		items: map[uuid.UUID][]schedule.Item{
			f.groupID: {{
				ID:        f.itemID,
				GroupID:   f.groupID,
				Weekday:   time.Monday,
				StartTime: schedule.MustParseLocalTime("09:00"),
			}},
		},
	}
	f.access = &stubAccess{allowed: map[[2]uuid.UUID]bool{{f.userID, f.groupID}: true}}
	return f
}

func (f *queryFixture) handler(cache ViewCache) *GetCalendarHandler {
	return NewGetCalendarHandler(f.store, f.cat, f.access, cache, nil, DefaultGetCalendarHandlerConfig())
}

func (f *queryFixture) januaryQuery() GetCalendarQuery {
	return GetCalendarQuery{
		UserID:   f.userID,
		GroupIDs: []uuid.UUID{f.groupID},
		From:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *queryFixture) storedSession(startAt time.Time, status session.Status, isExtra bool) *session.Session {
	gc := f.cat.groups[f.groupID]
	itemID := f.itemID
	s := &session.Session{
		ID:        uuid.New(),
		GroupID:   f.groupID,
		CenterID:  gc.CenterID,
		BranchID:  gc.BranchID,
		ClassID:   gc.ClassID,
		TeacherID: gc.TeacherID,
		Title:     gc.ClassName,
		StartAt:   startAt,
		EndAt:     startAt.Add(time.Hour),
		Status:    status,
		IsExtra:   isExtra,
	}
	if !isExtra {
		s.ScheduleItemID = &itemID
	}
	f.store.sessions = append(f.store.sessions, s)
	return s
}

// ─────────────────────────────────────────────────────────────────────────────
// Calendar
// ─────────────────────────────────────────────────────────────────────────────

func TestCalendarProjectsVirtualSlots(t *testing.T) {
	f := newQueryFixture(t)

	res, err := f.handler(nil).Handle(context.Background(), f.januaryQuery())
	require.NoError(t, err)

	require.Len(t, res.Sessions, 5)
	for i, ms := range res.Sessions {
		assert.True(t, ms.IsVirtual, "slot %d", i)
		assert.Equal(t, session.StatusScheduled, ms.Status)
		assert.Equal(t, time.Monday, ms.StartAt.UTC().Weekday())
		assert.Equal(t, 9, ms.StartAt.UTC().Hour())
		assert.True(t, session.IsVirtualID(ms.ID))
	}
	first := res.Sessions[0]
	assert.True(t, first.StartAt.Equal(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)))
}

func TestCalendarStoredRowSuppressesVirtualSlot(t *testing.T) {
	f := newQueryFixture(t)
	tombstone := f.storedSession(time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC), session.StatusCanceled, false)

	res, err := f.handler(nil).Handle(context.Background(), f.januaryQuery())
	require.NoError(t, err)

	require.Len(t, res.Sessions, 5)
	second := res.Sessions[1]
	assert.False(t, second.IsVirtual)
	assert.Equal(t, tombstone.ID.String(), second.ID)
	assert.Equal(t, session.StatusCanceled, second.Status)

	virtualCount := 0
	for _, ms := range res.Sessions {
		if ms.IsVirtual {
			virtualCount++
		}
	}
	assert.Equal(t, 4, virtualCount)
}

func TestCalendarIncludesExtraSessions(t *testing.T) {
	f := newQueryFixture(t)
	extra := f.storedSession(time.Date(2024, 1, 10, 14, 0, 0, 0, time.UTC), session.StatusScheduled, true)

	res, err := f.handler(nil).Handle(context.Background(), f.januaryQuery())
	require.NoError(t, err)

	require.Len(t, res.Sessions, 6)
	// Sorted ascending, the extra lands between the Jan 8 and Jan 15 Mondays.
	assert.Equal(t, extra.ID.String(), res.Sessions[2].ID)
	assert.True(t, res.Sessions[2].IsExtra)
}

func TestCalendarInactiveClassShowsOnlyHistory(t *testing.T) {
	f := newQueryFixture(t)
	f.cat.groups[f.groupID].ClassStatus = catalog.ClassEnded
	finished := f.storedSession(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), session.StatusFinished, false)

	res, err := f.handler(nil).Handle(context.Background(), f.januaryQuery())
	require.NoError(t, err)

	require.Len(t, res.Sessions, 1)
	assert.Equal(t, finished.ID.String(), res.Sessions[0].ID)
	assert.False(t, res.Sessions[0].IsVirtual)
}

func TestCalendarDeniedWhenAnyGroupIsUnauthorized(t *testing.T) {
	f := newQueryFixture(t)
	other := uuid.New()
	f.cat.groups[other] = f.cat.groups[f.groupID]

	q := f.januaryQuery()
	q.GroupIDs = append(q.GroupIDs, other)

	_, err := f.handler(nil).Handle(context.Background(), q)
	assert.ErrorIs(t, err, shared.ErrAccessDenied)
}

func TestCalendarRejectsOversizedWindow(t *testing.T) {
	f := newQueryFixture(t)
	q := f.januaryQuery()
	q.To = q.From.AddDate(3, 0, 0)

	_, err := f.handler(nil).Handle(context.Background(), q)
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestCalendarCacheRoundTripAndInvalidation(t *testing.T) {
	f := newQueryFixture(t)
	cache := newVersionedCache()
	h := f.handler(cache)
	ctx := context.Background()

	first, err := h.Handle(ctx, f.januaryQuery())
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, 1, cache.sets)

	second, err := h.Handle(ctx, f.januaryQuery())
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, second.Sessions, first.Sessions)
	assert.Equal(t, 1, cache.sets)

	// A version bump orphans the old key and forces recomputation.
	require.NoError(t, cache.Invalidate(ctx, f.groupID))
	third, err := h.Handle(ctx, f.januaryQuery())
	require.NoError(t, err)
	assert.False(t, third.FromCache)
	assert.Equal(t, 2, cache.sets)
}

// ─────────────────────────────────────────────────────────────────────────────
// Single session
// ─────────────────────────────────────────────────────────────────────────────

func TestGetSessionResolvesVirtualIdentifier(t *testing.T) {
	f := newQueryFixture(t)
	h := NewGetSessionHandler(f.store, f.cat, f.access)
	slot := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)

	res, err := h.Handle(context.Background(), GetSessionQuery{
		UserID:    f.userID,
		SessionID: session.EncodeVirtualID(f.groupID, slot, &f.itemID),
	})
	require.NoError(t, err)
	assert.True(t, res.Session.IsVirtual)
	assert.Equal(t, session.StatusScheduled, res.Session.Status)
	assert.True(t, res.Session.StartAt.Equal(slot))
}

func TestGetSessionPrefersMaterializedRow(t *testing.T) {
	f := newQueryFixture(t)
	slot := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	stored := f.storedSession(slot, session.StatusFinished, false)
	h := NewGetSessionHandler(f.store, f.cat, f.access)

	res, err := h.Handle(context.Background(), GetSessionQuery{
		UserID:    f.userID,
		SessionID: session.EncodeVirtualID(f.groupID, slot, &f.itemID),
	})
	require.NoError(t, err)
	assert.False(t, res.Session.IsVirtual)
	assert.Equal(t, stored.ID.String(), res.Session.ID)
	assert.Equal(t, session.StatusFinished, res.Session.Status)
}

func TestGetSessionUnknownSlotIsNotFound(t *testing.T) {
	f := newQueryFixture(t)
	h := NewGetSessionHandler(f.store, f.cat, f.access)
	// Tuesday does not match the Monday rule.
	tuesday := time.Date(2024, 1, 9, 9, 0, 0, 0, time.UTC)

	_, err := h.Handle(context.Background(), GetSessionQuery{
		UserID:    f.userID,
		SessionID: session.EncodeVirtualID(f.groupID, tuesday, nil),
	})
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGetSessionDeniedForStranger(t *testing.T) {
	f := newQueryFixture(t)
	h := NewGetSessionHandler(f.store, f.cat, f.access)

	_, err := h.Handle(context.Background(), GetSessionQuery{
		UserID:    uuid.New(),
		SessionID: session.EncodeVirtualID(f.groupID, time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC), &f.itemID),
	})
	assert.ErrorIs(t, err, shared.ErrAccessDenied)
}
