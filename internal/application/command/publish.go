package command

import (
	"log/slog"

	"github.com/classhub/classhub-sessions/internal/domain/shared"
)

// publishEvent emits a lifecycle event, logging instead of failing: a
// subscriber problem must never roll back the transition that produced it.
func publishEvent(logger *slog.Logger, publisher shared.EventPublisher, event shared.Event) {
	if err := publisher.Publish(event); err != nil {
		logger.Warn("event publish failed",
			slog.String("event", string(event.EventType())),
			slog.String("aggregate", event.AggregateID()),
			slog.Any("error", err))
	}
}
