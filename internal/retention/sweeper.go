// Package retention erases visitors whose retention deadline has passed.
// Only visitors stored without GDPR consent carry a deadline; everything
// about them, including their activity history, is deleted in one sweep.
package retention

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"visitor-tracker/internal/common/logging"
	"visitor-tracker/internal/storage"
	"visitor-tracker/internal/visitors"
)

// sweepBatch bounds how many expired visitors one sweep processes.
const sweepBatch = 500

// Sweeper runs a scheduled erasure pass over expired visitors.
type Sweeper struct {
	store    storage.Storage
	cache    visitors.Cache
	schedule string
	cron     *cron.Cron
	logger   logging.Logger
}

func NewSweeper(store storage.Storage, cache visitors.Cache, schedule string, logger logging.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		cache:    cache,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger,
	}
}

// Start registers the sweep on its cron schedule and begins running.
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.SweepOnce(context.Background()); err != nil {
			s.logger.Error("retention sweep failed", err)
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("retention sweeper started", logging.String("schedule", s.schedule))
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// SweepOnce erases all visitors whose retention date has passed and
// returns how many were removed. Per-visitor failures are logged and
// skipped; the next sweep retries them.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	expired, err := s.store.ListExpired(ctx, time.Now().UTC(), sweepBatch)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, visitor := range expired {
		if err := s.store.DeleteActivities(ctx, visitor.ID); err != nil {
			s.logger.Warn("failed to delete expired visitor activities",
				logging.String("visitor_id", visitor.ID),
				logging.Err(err))
			continue
		}
		if err := s.store.DeleteVisitor(ctx, visitor.ID); err != nil {
			s.logger.Warn("failed to delete expired visitor",
				logging.String("visitor_id", visitor.ID),
				logging.Err(err))
			continue
		}
		s.cache.DeleteVisitor(ctx, visitor.ID)
		removed++
	}

	if removed > 0 {
		s.logger.Info("retention sweep completed",
			logging.Int("removed", removed),
			logging.Int("expired", len(expired)))
	}

	return removed, nil
}
