// Package maintenance runs periodic housekeeping jobs.
package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ChallengeStore defines the store operations the cleanup job needs.
type ChallengeStore interface {
	DeleteExpiredChallenges(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupScheduler periodically purges expired payment challenges. Expired
// challenges are dead weight: verification re-checks expiry from the request
// anyway, so the rows only need to go away eventually.
type CleanupScheduler struct {
	store    ChallengeStore
	schedule string
	cron     *cron.Cron
	logger   zerolog.Logger
}

// NewCleanupScheduler creates a scheduler with the given cron schedule.
// An empty schedule defaults to every 10 minutes.
func NewCleanupScheduler(store ChallengeStore, schedule string, logger zerolog.Logger) *CleanupScheduler {
	if schedule == "" {
		schedule = "*/10 * * * *"
	}
	return &CleanupScheduler{
		store:    store,
		schedule: schedule,
		logger:   logger.With().Str("component", "challenge_cleanup").Logger(),
	}
}

// Start begins the periodic cleanup.
func (s *CleanupScheduler) Start(ctx context.Context) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.schedule, func() {
		s.run(ctx)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info().Str("schedule", s.schedule).Msg("challenge cleanup scheduler started")
	return nil
}

// Stop halts the scheduler, waiting for a running job to finish.
func (s *CleanupScheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.logger.Info().Msg("challenge cleanup scheduler stopped")
	}
}

func (s *CleanupScheduler) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	deleted, err := s.store.DeleteExpiredChallenges(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to purge expired challenges")
		return
	}
	if deleted > 0 {
		s.logger.Info().Int64("deleted", deleted).Msg("purged expired challenges")
	}
}
