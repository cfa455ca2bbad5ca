// Package query contains the read operations of the session core
// (CQRS - Queries). Reads never mutate sessions: the calendar is computed by
// merging stored rows over a freshly expanded recurring projection.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/classhub/classhub-sessions/internal/domain/catalog"
	"github.com/classhub/classhub-sessions/internal/domain/schedule"
	"github.com/classhub/classhub-sessions/internal/domain/session"
	"github.com/classhub/classhub-sessions/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET CALENDAR QUERY
// Expands every requested group's weekly rules over the window, lists the
// materialized rows and merges them, stored rows winning per slot.
// ══════════════════════════════════════════════════════════════════════════════

// maxCalendarWindow caps how far a single query may expand.
const maxCalendarWindow = 370 * 24 * time.Hour

// ViewCache is the versioned read-view cache port. A per-group version
// counter is baked into every key, so invalidation is a counter bump and
// never requires key scans or deletes; stale entries simply age out.
type ViewCache interface {
	// GroupVersions returns the current version counter for each group.
	GroupVersions(ctx context.Context, groupIDs []uuid.UUID) (map[uuid.UUID]int64, error)

	// GetView returns the cached view for the key, with found=false on a miss.
	GetView(ctx context.Context, key string) ([]session.MergedSession, bool, error)

	// SetView stores the view under the key with a TTL.
	SetView(ctx context.Context, key string, view []session.MergedSession, ttl time.Duration) error

	// Invalidate bumps the group's version counter, orphaning every cached
	// view that includes the group.
	Invalidate(ctx context.Context, groupID uuid.UUID) error
}

// NopViewCache is the cache used when caching is disabled: always a miss.
type NopViewCache struct{}

// GroupVersions implements ViewCache.
func (NopViewCache) GroupVersions(context.Context, []uuid.UUID) (map[uuid.UUID]int64, error) {
	return nil, nil
}

// GetView implements ViewCache.
func (NopViewCache) GetView(context.Context, string) ([]session.MergedSession, bool, error) {
	return nil, false, nil
}

// SetView implements ViewCache.
func (NopViewCache) SetView(context.Context, string, []session.MergedSession, time.Duration) error {
	return nil
}

// Invalidate implements ViewCache.
func (NopViewCache) Invalidate(context.Context, uuid.UUID) error { return nil }

// GetCalendarQuery asks for the merged calendar of one or more groups.
type GetCalendarQuery struct {
	// UserID is the caller; every requested group is authorized separately.
	UserID uuid.UUID

	// GroupIDs are the groups whose calendars are merged into one view.
	GroupIDs []uuid.UUID

	// From/To bound the half-open query window.
	From time.Time
	To   time.Time
}

// Validate validates the query.
func (q GetCalendarQuery) Validate() error {
	if q.UserID == uuid.Nil {
		return shared.NewDomainError("session", "GetCalendar", shared.ErrInvalidInput, "user id is required")
	}
	if len(q.GroupIDs) == 0 {
		return shared.NewDomainError("session", "GetCalendar", shared.ErrInvalidInput, "at least one group id is required")
	}
	if !q.From.Before(q.To) {
		return shared.NewDomainError("session", "GetCalendar", shared.ErrInvalidInput, "window end must be after start")
	}
	if q.To.Sub(q.From) > maxCalendarWindow {
		return shared.NewDomainError("session", "GetCalendar", shared.ErrInvalidInput,
			fmt.Sprintf("window exceeds %s", maxCalendarWindow))
	}
	return nil
}

// GetCalendarResult carries the merged view.
type GetCalendarResult struct {
	Sessions []session.MergedSession

	// FromCache is true when the view was served without recomputation.
	FromCache bool
}

// GetCalendarHandlerConfig configures the handler.
type GetCalendarHandlerConfig struct {
	// CacheTTL bounds how long a computed view may be served. Versioned keys
	// already orphan entries on writes; the TTL only caps clock drift for
	// views whose window slides past "now".
	CacheTTL time.Duration
}

// DefaultGetCalendarHandlerConfig returns the defaults.
func DefaultGetCalendarHandlerConfig() GetCalendarHandlerConfig {
	return GetCalendarHandlerConfig{CacheTTL: 5 * time.Minute}
}

// GetCalendarHandler handles GetCalendarQuery.
type GetCalendarHandler struct {
	store    session.Store
	catalog  catalog.Catalog
	access   catalog.AccessControl
	expander *schedule.Expander
	merger   *session.Merger
	cache    ViewCache
	logger   *slog.Logger
	config   GetCalendarHandlerConfig
}

// NewGetCalendarHandler creates a GetCalendarHandler. A nil cache disables
// caching.
func NewGetCalendarHandler(
	store session.Store,
	cat catalog.Catalog,
	access catalog.AccessControl,
	cache ViewCache,
	logger *slog.Logger,
	config GetCalendarHandlerConfig,
) *GetCalendarHandler {
	if cache == nil {
		cache = NopViewCache{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GetCalendarHandler{
		store:    store,
		catalog:  cat,
		access:   access,
		expander: schedule.NewExpander(),
		merger:   session.NewMerger(),
		cache:    cache,
		logger:   logger,
		config:   config,
	}
}

// Handle computes or serves the merged calendar.
func (h *GetCalendarHandler) Handle(ctx context.Context, q GetCalendarQuery) (*GetCalendarResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	window := shared.NewWindow(q.From.UTC(), q.To.UTC())

	groups := make([]*catalog.GroupClass, 0, len(q.GroupIDs))
	for _, groupID := range q.GroupIDs {
		gc, err := h.catalog.GroupClass(ctx, groupID)
		if err != nil {
			return nil, err
		}
		if err := h.authorize(ctx, q.UserID, gc); err != nil {
			return nil, err
		}
		groups = append(groups, gc)
	}

	key, cacheable := h.cacheKey(ctx, q.GroupIDs, window)
	if cacheable {
		view, found, err := h.cache.GetView(ctx, key)
		if err != nil {
			// A broken cache degrades to recomputation, never to failure.
			h.logger.Warn("calendar cache read failed", "error", err)
		} else if found {
			return &GetCalendarResult{Sessions: view, FromCache: true}, nil
		}
	}

	virtual, err := h.expand(ctx, groups, window)
	if err != nil {
		return nil, err
	}
	stored, err := h.store.ListInWindow(ctx, q.GroupIDs, window)
	if err != nil {
		return nil, err
	}

	merged := h.merger.Merge(stored, virtual)

	if cacheable {
		if err := h.cache.SetView(ctx, key, merged, h.config.CacheTTL); err != nil {
			h.logger.Warn("calendar cache write failed", "error", err)
		}
	}
	return &GetCalendarResult{Sessions: merged}, nil
}

// expand projects every group's rules over the window. A group whose class is
// not active gets no synthetic slots; its materialized history still shows.
func (h *GetCalendarHandler) expand(ctx context.Context, groups []*catalog.GroupClass, window shared.Window) ([]*session.VirtualSession, error) {
	var virtual []*session.VirtualSession
	for _, gc := range groups {
		if !gc.ClassStatus.IsActive() {
			continue
		}
		items, err := h.catalog.ScheduleItems(ctx, gc.GroupID)
		if err != nil {
			return nil, err
		}
		for _, occ := range h.expander.Expand(items, window, gc.Location, gc.Validity, gc.Duration) {
			virtual = append(virtual, session.NewVirtualFromOccurrence(
				occ, gc.CenterID, gc.BranchID, gc.ClassID, gc.TeacherID, gc.ClassName))
		}
	}
	return virtual, nil
}

func (h *GetCalendarHandler) authorize(ctx context.Context, userID uuid.UUID, gc *catalog.GroupClass) error {
	ok, err := h.access.IsAuthorizedForGroup(ctx, userID, gc.GroupID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	bypass, err := h.access.CanBypassInternalAccess(ctx, userID, gc.CenterID)
	if err != nil {
		return err
	}
	if bypass {
		return nil
	}
	return shared.NewDomainError("session", "GetCalendar", shared.ErrAccessDenied,
		fmt.Sprintf("user %s is not authorized for group %s", userID, gc.GroupID))
}

// cacheKey builds a deterministic key embedding each group's version counter.
// Group order must not matter, so ids are sorted before hashing into the key.
func (h *GetCalendarHandler) cacheKey(ctx context.Context, groupIDs []uuid.UUID, window shared.Window) (string, bool) {
	versions, err := h.cache.GroupVersions(ctx, groupIDs)
	if err != nil {
		h.logger.Warn("calendar cache version lookup failed", "error", err)
		return "", false
	}
	if versions == nil {
		return "", false
	}

	sorted := make([]uuid.UUID, len(groupIDs))
	copy(sorted, groupIDs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })

	var b strings.Builder
	b.WriteString("calendar")
	for _, id := range sorted {
		fmt.Fprintf(&b, ":%s.v%d", id, versions[id])
	}
	fmt.Fprintf(&b, ":%d-%d", window.From.Unix(), window.To.Unix())
	return b.String(), true
}
