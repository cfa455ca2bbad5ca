// Package eventhandler contains the subscribers wired to the domain event bus.
package eventhandler

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/classhub/classhub-sessions/internal/application/query"
	"github.com/classhub/classhub-sessions/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON SESSION CHANGED HANDLER
// Every session lifecycle event makes previously computed calendar views
// stale. The handler bumps the owning group's cache version so the next read
// recomputes; it never touches session state itself.
// ═══════════════════════════════════════════════════════════════════════════

// OnSessionChangedHandler invalidates cached calendar views.
type OnSessionChangedHandler struct {
	cache  query.ViewCache
	logger *slog.Logger
}

// NewOnSessionChangedHandler creates an OnSessionChangedHandler.
func NewOnSessionChangedHandler(cache query.ViewCache, logger *slog.Logger) *OnSessionChangedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnSessionChangedHandler{cache: cache, logger: logger}
}

// EventTypes returns the event types this handler subscribes to.
func (h *OnSessionChangedHandler) EventTypes() []shared.EventType {
	return []shared.EventType{
		shared.EventSessionCreated,
		shared.EventSessionUpdated,
		shared.EventSessionCanceled,
		shared.EventSessionsBulkCreated,
		shared.EventSessionsBulkDeleted,
	}
}

// Handle extracts the group and bumps its version counter. An event without a
// usable group id is logged and dropped; invalidation is best effort and a
// stale view ages out by TTL anyway.
func (h *OnSessionChangedHandler) Handle(ctx context.Context, event shared.Event) error {
	raw, ok := event.Payload()["group_id"].(string)
	if !ok {
		h.logger.Warn("event carries no group id, skipping invalidation",
			"event_type", event.EventType(), "aggregate_id", event.AggregateID())
		return nil
	}
	groupID, err := uuid.Parse(raw)
	if err != nil {
		h.logger.Warn("event carries malformed group id, skipping invalidation",
			"event_type", event.EventType(), "group_id", raw)
		return nil
	}

	if err := h.cache.Invalidate(ctx, groupID); err != nil {
		h.logger.Error("calendar cache invalidation failed",
			"event_type", event.EventType(), "group_id", groupID, "error", err)
		return err
	}

	h.logger.Debug("calendar cache invalidated",
		"event_type", event.EventType(), "group_id", groupID)
	return nil
}
