package command

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/classhub/classhub-sessions/internal/domain/catalog"
	"github.com/classhub/classhub-sessions/internal/domain/schedule"
	"github.com/classhub/classhub-sessions/internal/domain/session"
	"github.com/classhub/classhub-sessions/internal/domain/shared"
)

// memStore is an in-memory session.Store that enforces the slot uniqueness
// constraint under a mutex, so race semantics are observable in tests.
type memStore struct {
	mu       sync.Mutex
	byID     map[uuid.UUID]*session.Session
	inserted int
}

func newMemStore() *memStore {
	return &memStore{byID: make(map[uuid.UUID]*session.Session)}
}

func (m *memStore) clone(s *session.Session) *session.Session {
	cpy := *s
	return &cpy
}

func (m *memStore) FindByID(_ context.Context, id uuid.UUID) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, shared.NewDomainError("session", "FindByID", shared.ErrNotFound, "no session")
	}
	return m.clone(s), nil
}

func (m *memStore) FindByGroupAndStartTime(_ context.Context, groupID uuid.UUID, startAt time.Time) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.findSlotLocked(groupID, startAt); s != nil {
		return m.clone(s), nil
	}
	return nil, shared.NewDomainError("session", "FindByGroupAndStartTime", shared.ErrNotFound, "no session")
}

func (m *memStore) findSlotLocked(groupID uuid.UUID, startAt time.Time) *session.Session {
	for _, s := range m.byID {
		if s.GroupID == groupID && s.StartAt.Equal(startAt) {
			return s
		}
	}
	return nil
}

func (m *memStore) ListInWindow(_ context.Context, groupIDs []uuid.UUID, window shared.Window) ([]*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	groups := make(map[uuid.UUID]bool, len(groupIDs))
	for _, id := range groupIDs {
		groups[id] = true
	}
	var out []*session.Session
	for _, s := range m.byID {
		if groups[s.GroupID] && window.Contains(s.StartAt) {
			out = append(out, m.clone(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out, nil
}

func (m *memStore) InsertIgnoringConflict(_ context.Context, s *session.Session) (*session.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing := m.findSlotLocked(s.GroupID, s.StartAt); existing != nil {
		return m.clone(existing), false, nil
	}
	m.byID[s.ID] = m.clone(s)
	m.inserted++
	return m.clone(s), true, nil
}

func (m *memStore) CompareAndSetStatus(_ context.Context, id uuid.UUID, expect, next session.Status, actualStartAt, actualFinishAt *time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return false, shared.NewDomainError("session", "CompareAndSetStatus", shared.ErrNotFound, "no session")
	}
	if s.Status != expect {
		return false, nil
	}
	s.Status = next
	if actualStartAt != nil {
		s.ActualStartAt = actualStartAt
	}
	if actualFinishAt != nil {
		s.ActualFinishAt = actualFinishAt
	}
	s.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *memStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return shared.NewDomainError("session", "Delete", shared.ErrNotFound, "no session")
	}
	delete(m.byID, id)
	return nil
}

func (m *memStore) FindOverlapping(_ context.Context, key session.OverlapKey, startAt, endAt time.Time, excludeID *uuid.UUID) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	window := shared.Window{From: startAt, To: endAt}
	for _, s := range m.byID {
		if excludeID != nil && s.ID == *excludeID {
			continue
		}
		if s.Status == session.StatusCanceled || s.Status == session.StatusMissed {
			continue
		}
		if key.TeacherID != uuid.Nil && s.TeacherID != key.TeacherID {
			continue
		}
		if key.GroupID != uuid.Nil && s.GroupID != key.GroupID {
			continue
		}
		if window.Overlaps(shared.Window{From: s.StartAt, To: s.EndAt}) {
			return m.clone(s), nil
		}
	}
	return nil, shared.NewDomainError("session", "FindOverlapping", shared.ErrNotFound, "window is free")
}

func (m *memStore) BulkInsertMissed(_ context.Context, sessions []*session.Session) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, s := range sessions {
		if m.findSlotLocked(s.GroupID, s.StartAt) != nil {
			continue
		}
		m.byID[s.ID] = m.clone(s)
		m.inserted++
		count++
	}
	return count, nil
}

func (m *memStore) MarkStaleScheduledMissed(_ context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for _, s := range m.byID {
		if s.Status == session.StatusScheduled && s.StartAt.Before(cutoff) {
			s.Status = session.StatusMissed
			ids = append(ids, s.ID)
		}
	}
	return ids, nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// memCatalog serves a fixed set of groups and rules.
type memCatalog struct {
	groups map[uuid.UUID]*catalog.GroupClass
	items  map[uuid.UUID][]schedule.Item
}

func newMemCatalog() *memCatalog {
	return &memCatalog{
		groups: make(map[uuid.UUID]*catalog.GroupClass),
		items:  make(map[uuid.UUID][]schedule.Item),
	}
}

func (c *memCatalog) GroupClass(_ context.Context, groupID uuid.UUID) (*catalog.GroupClass, error) {
	gc, ok := c.groups[groupID]
	if !ok {
		return nil, shared.NewDomainError("catalog", "GroupClass", shared.ErrNotFound, "no group")
	}
	return gc, nil
}

func (c *memCatalog) ScheduleItems(_ context.Context, groupID uuid.UUID) ([]schedule.Item, error) {
	return c.items[groupID], nil
}

func (c *memCatalog) ActiveGroupIDs(_ context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for id, gc := range c.groups {
		if gc.ClassStatus.IsActive() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

// memAccess authorizes explicit (user, group) pairs plus optional bypasses.
type memAccess struct {
	allowed  map[[2]uuid.UUID]bool
	bypasses map[[2]uuid.UUID]bool
}

func newMemAccess() *memAccess {
	return &memAccess{
		allowed:  make(map[[2]uuid.UUID]bool),
		bypasses: make(map[[2]uuid.UUID]bool),
	}
}

func (a *memAccess) allow(userID, groupID uuid.UUID) {
	a.allowed[[2]uuid.UUID{userID, groupID}] = true
}

func (a *memAccess) IsAuthorizedForGroup(_ context.Context, userID, groupID uuid.UUID) (bool, error) {
	return a.allowed[[2]uuid.UUID{userID, groupID}], nil
}

func (a *memAccess) CanBypassInternalAccess(_ context.Context, userID, centerID uuid.UUID) (bool, error) {
	return a.bypasses[[2]uuid.UUID{userID, centerID}], nil
}

// capturingPublisher records every published event.
type capturingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *capturingPublisher) Publish(event shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturingPublisher) byType(t shared.EventType) []shared.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []shared.Event
	for _, e := range p.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}
