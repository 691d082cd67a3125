package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lsst-sqre/vo-cutouts-sub000/internal/platform/logger"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/repos"
)

// ExpirationSweeper deletes jobs whose destruction time has passed. It runs
// on a cron schedule, every minute by default.
type ExpirationSweeper struct {
	log      *logger.Logger
	store    repos.JobStore
	schedule string
	cron     *cron.Cron
}

func NewExpirationSweeper(baseLog *logger.Logger, store repos.JobStore, schedule string) *ExpirationSweeper {
	if schedule == "" {
		schedule = "@every 1m"
	}
	return &ExpirationSweeper{
		log:      baseLog.With("component", "ExpirationSweeper"),
		store:    store,
		schedule: schedule,
	}
}

func (s *ExpirationSweeper) Start(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(s.schedule, func() { s.Sweep(ctx) })
	if err != nil {
		return err
	}
	s.cron = c
	c.Start()
	s.log.Info("Expiration sweeper started", "schedule", s.schedule)
	return nil
}

func (s *ExpirationSweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep runs one expiration pass.
func (s *ExpirationSweeper) Sweep(ctx context.Context) {
	deleted, err := s.store.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		s.log.Error("Expiration sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		s.log.Info("Expired jobs deleted", "count", deleted)
	}
}
