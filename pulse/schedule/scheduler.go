package schedule

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/gbvm/logger"
)

// Scheduler applies SET SCHEDULE directives found by the loader to the store.
type Scheduler struct {
	store *Store
	now   func() time.Time
	log   *zap.SugaredLogger
}

// NewScheduler creates a scheduler backed by store
func NewScheduler(store *Store, log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		store: store,
		now:   time.Now,
		log:   logger.OrNop(log).Named("schedule"),
	}
}

// CreateOrUpdate registers or replaces the schedule of a script. A malformed
// expression removes any schedule the script had and returns the parse error.
func (s *Scheduler) CreateOrUpdate(ctx context.Context, botID, script, expr string) error {
	job, err := s.store.Upsert(ctx, botID, script, expr, s.now())
	if err != nil {
		if _, delErr := s.store.Delete(ctx, botID, script); delErr != nil {
			s.log.Warnw("Failed to drop schedule after bad directive", logger.FieldBot, botID, logger.FieldScript, script, "error", delErr)
		}
		return err
	}
	s.log.Infow("Script scheduled", logger.FieldBot, botID, logger.FieldScript, script, logger.FieldCron, expr, "next_run_at", job.NextRunAt)
	return nil
}

// DeleteIfAny removes the schedule of a script that no longer declares one
func (s *Scheduler) DeleteIfAny(ctx context.Context, botID, script string) error {
	deleted, err := s.store.Delete(ctx, botID, script)
	if err != nil {
		return err
	}
	if deleted {
		s.log.Infow("Script schedule removed", logger.FieldBot, botID, logger.FieldScript, script)
	}
	return nil
}
