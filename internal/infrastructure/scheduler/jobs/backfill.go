// Package jobs contains the scheduled jobs of the session service.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/classhub/classhub-sessions/internal/domain/catalog"
	"github.com/classhub/classhub-sessions/internal/domain/schedule"
	"github.com/classhub/classhub-sessions/internal/domain/session"
	"github.com/classhub/classhub-sessions/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// BACKFILL JOB
// Settles the past. Step one materializes every recurring slot of the sweep
// window that nobody ever touched, directly as missed; step two sweeps stale
// scheduled rows (extras or revived sessions that never started) into missed.
// Both steps race safely against live check-ins: inserts ignore conflicts and
// the sweep only touches rows still in scheduled.
// ══════════════════════════════════════════════════════════════════════════════

// BackfillConfig configures the sweep.
type BackfillConfig struct {
	// Lookback bounds how far into the past the sweep reaches. Slots older
	// than this are left alone, whatever their state.
	Lookback time.Duration

	// Grace keeps slots near "now" out of the sweep, leaving room for late
	// check-ins on a session that ran long.
	Grace time.Duration

	// Concurrency bounds how many groups are expanded at once.
	Concurrency int
}

// DefaultBackfillConfig returns the defaults.
func DefaultBackfillConfig() BackfillConfig {
	return BackfillConfig{
		Lookback:    14 * 24 * time.Hour,
		Grace:       6 * time.Hour,
		Concurrency: 8,
	}
}

// BackfillJob implements scheduler.Job.
type BackfillJob struct {
	store     session.Store
	catalog   catalog.Catalog
	expander  *schedule.Expander
	publisher shared.EventPublisher
	logger    *slog.Logger
	config    BackfillConfig
	now       func() time.Time
}

// NewBackfillJob creates a BackfillJob.
func NewBackfillJob(
	store session.Store,
	cat catalog.Catalog,
	publisher shared.EventPublisher,
	logger *slog.Logger,
	config BackfillConfig,
) *BackfillJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 8
	}
	return &BackfillJob{
		store:     store,
		catalog:   cat,
		expander:  schedule.NewExpander(),
		publisher: publisher,
		logger:    logger,
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the clock. For tests.
func (j *BackfillJob) WithClock(now func() time.Time) *BackfillJob {
	j.now = now
	return j
}

// Name implements scheduler.Job.
func (j *BackfillJob) Name() string {
	return "session_backfill"
}

// Description implements scheduler.Job.
func (j *BackfillJob) Description() string {
	return "Materializes untouched past slots as missed and sweeps stale scheduled sessions"
}

// Run executes both sweep steps. A failing group is logged and skipped so one
// bad catalog entry cannot starve every other group of settlement.
func (j *BackfillJob) Run(ctx context.Context) error {
	now := j.now()
	window := shared.NewWindow(now.Add(-j.config.Lookback), now.Add(-j.config.Grace))
	if !window.IsValid() {
		return fmt.Errorf("backfill window is empty: lookback %s, grace %s", j.config.Lookback, j.config.Grace)
	}

	groupIDs, err := j.catalog.ActiveGroupIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active groups: %w", err)
	}

	var inserted, failed int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.config.Concurrency)
	for _, groupID := range groupIDs {
		groupID := groupID
		g.Go(func() error {
			n, err := j.backfillGroup(gctx, groupID, window, now)
			if err != nil {
				atomic.AddInt64(&failed, 1)
				j.logger.Error("group backfill failed", "group_id", groupID, "error", err)
				return nil
			}
			atomic.AddInt64(&inserted, int64(n))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	sweptIDs, err := j.store.MarkStaleScheduledMissed(ctx, window.To)
	if err != nil {
		return fmt.Errorf("stale sweep failed: %w", err)
	}

	j.logger.Info("backfill completed",
		"groups", len(groupIDs),
		"groups_failed", atomic.LoadInt64(&failed),
		"missed_inserted", atomic.LoadInt64(&inserted),
		"stale_swept", len(sweptIDs),
		"window", window.String(),
	)
	return nil
}

// backfillGroup expands one group over the sweep window and inserts whatever
// is not already materialized, as missed.
func (j *BackfillJob) backfillGroup(ctx context.Context, groupID uuid.UUID, window shared.Window, now time.Time) (int, error) {
	gc, err := j.catalog.GroupClass(ctx, groupID)
	if err != nil {
		return 0, err
	}
	items, err := j.catalog.ScheduleItems(ctx, groupID)
	if err != nil {
		return 0, err
	}

	occurrences := j.expander.Expand(items, window, gc.Location, gc.Validity, gc.Duration)
	if len(occurrences) == 0 {
		return 0, nil
	}

	sessions := make([]*session.Session, 0, len(occurrences))
	for _, occ := range occurrences {
		itemID := occ.ScheduleItemID
		sessions = append(sessions, &session.Session{
			ID:             uuid.New(),
			GroupID:        gc.GroupID,
			CenterID:       gc.CenterID,
			BranchID:       gc.BranchID,
			ClassID:        gc.ClassID,
			TeacherID:      gc.TeacherID,
			ScheduleItemID: &itemID,
			Title:          gc.ClassName,
			StartAt:        occ.StartAt,
			EndAt:          occ.EndAt,
			Status:         session.StatusMissed,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}

	inserted, err := j.store.BulkInsertMissed(ctx, sessions)
	if err != nil {
		return 0, err
	}
	if inserted > 0 {
		event := session.NewBulkCreatedEvent(gc.GroupID, inserted, session.StatusMissed)
		if err := j.publisher.Publish(event); err != nil {
			j.logger.Warn("failed to publish backfill event", "group_id", gc.GroupID, "error", err)
		}
	}
	return inserted, nil
}
