package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lsst-sqre/vo-cutouts-sub000/internal/platform/logger"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/uws"
)

func TestSweepDeletesExpiredJobs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	expired, err := store.Add(ctx, "someone", "", nil, 600, time.Hour)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	fresh, err := store.Add(ctx, "someone", "", nil, 600, time.Hour)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := store.UpdateDestruction(ctx, expired.ID, time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("UpdateDestruction failed: %v", err)
	}

	sweeper := NewExpirationSweeper(logger.NewNop(), store, "")
	sweeper.Sweep(ctx)

	if _, err := store.Get(ctx, expired.ID); !errors.Is(err, uws.ErrUnknownJob) {
		t.Errorf("expired job survived the sweep: %v", err)
	}
	if _, err := store.Get(ctx, fresh.ID); err != nil {
		t.Errorf("fresh job deleted: %v", err)
	}
}

func TestSweeperRejectsBadSchedule(t *testing.T) {
	sweeper := NewExpirationSweeper(logger.NewNop(), newTestStore(t), "not a schedule")
	if err := sweeper.Start(context.Background()); err == nil {
		sweeper.Stop()
		t.Error("Start accepted an invalid cron schedule")
	}
}
