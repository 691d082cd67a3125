package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/lsst-sqre/vo-cutouts-sub000/internal/config"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/db"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/platform/logger"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/queue"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/repos"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/worker"
)

func main() {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load(log)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	postgresService, err := db.NewPostgresService(log, cfg.DatabaseURL, cfg.DatabasePassword)
	if err != nil {
		log.Fatal("Postgres init failed", "error", err)
	}
	if err := postgresService.AutoMigrateAll(); err != nil {
		log.Fatal("Postgres auto migration failed", "error", err)
	}

	jobQueue, err := queue.NewRedisQueue(log, cfg.QueueURL, cfg.QueuePassword, 0)
	if err != nil {
		log.Fatal("Redis init failed", "error", err)
	}
	defer jobQueue.Close()

	jobStore := repos.NewJobStore(postgresService.DB(), log)
	tracker := worker.NewTracker(log, jobStore, jobQueue, worker.TrackerConfig{
		UWSQueueName: cfg.UWSQueueName,
		PollInterval: cfg.TrackerPollInterval(),
		PollTimeout:  cfg.TrackerPollTimeoutDuration(),
	})
	sweeper := worker.NewExpirationSweeper(log, jobStore, cfg.ExpireSchedule)
	if err := sweeper.Start(ctx); err != nil {
		log.Fatal("Expiration sweeper init failed", "error", err)
	}
	defer sweeper.Stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return tracker.Run(groupCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("Tracker exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("Tracker stopped")
}
