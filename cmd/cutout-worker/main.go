package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"

	"github.com/lsst-sqre/vo-cutouts-sub000/internal/config"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/cutout"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/platform/logger"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/queue"
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
	if cfg.StorageURL == "" {
		log.Fatal("CUTOUT_STORAGE_URL must be set for the cutout worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobQueue, err := queue.NewRedisQueue(log, cfg.QueueURL, cfg.QueuePassword, 0)
	if err != nil {
		log.Fatal("Redis init failed", "error", err)
	}
	defer jobQueue.Close()

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		log.Fatal("Storage client init failed", "error", err)
	}
	defer storageClient.Close()

	writer, err := cutout.NewGCSObjectWriter(storageClient, cfg.StorageURL)
	if err != nil {
		log.Fatal("Object writer init failed", "error", err)
	}

	adapter := worker.NewAdapter(log, jobQueue, cutout.NewComputeFunc(writer), cfg.WorkQueueName, cfg.UWSQueueName)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return adapter.Run(groupCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("Worker exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("Worker stopped")
}
