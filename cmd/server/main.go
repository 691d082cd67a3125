package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"

	"github.com/lsst-sqre/vo-cutouts-sub000/internal/config"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/cutout"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/db"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/http/handlers"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/http/middleware"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/platform/logger"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/queue"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/repos"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/server"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/services"
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

	// Postgres
	postgresService, err := db.NewPostgresService(log, cfg.DatabaseURL, cfg.DatabasePassword)
	if err != nil {
		log.Fatal("Postgres init failed", "error", err)
	}
	if err := postgresService.AutoMigrateAll(); err != nil {
		log.Fatal("Postgres auto migration failed", "error", err)
	}

	// Queue
	jobQueue, err := queue.NewRedisQueue(log, cfg.QueueURL, cfg.QueuePassword, 0)
	if err != nil {
		log.Fatal("Redis init failed", "error", err)
	}
	defer jobQueue.Close()

	// GCS
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		log.Fatal("Storage client init failed", "error", err)
	}
	defer storageClient.Close()

	// Repos and services
	jobStore := repos.NewJobStore(postgresService.DB(), log)
	policy := cutout.NewPolicy(log, jobQueue, cutout.PolicyConfig{
		WorkQueueName:        cfg.WorkQueueName,
		MaxLifetime:          cfg.LifetimeDuration(),
		MaxExecutionDuration: cfg.ExecutionDuration,
	})
	jobService := services.NewJobService(jobStore, policy, log, services.JobServiceConfig{
		ExecutionDuration: cfg.ExecutionDuration,
		Lifetime:          cfg.LifetimeDuration(),
		WaitTimeout:       cfg.WaitTimeoutDuration(),
	})
	signer := services.NewGCSResultSigner(log, storageClient, cfg.SigningServiceAccount, cfg.URLLifetimeDuration())

	// Handlers and router
	uwsHandler := handlers.NewUWSHandler(log, jobService, signer, cfg.PathPrefix)
	syncHandler := handlers.NewSyncHandler(uwsHandler, cfg.SyncTimeoutDuration())
	authMiddleware := middleware.NewAuthMiddleware(log)
	router := server.NewRouter(server.RouterConfig{
		UWSHandler:     uwsHandler,
		SyncHandler:    syncHandler,
		AuthMiddleware: authMiddleware,
		PathPrefix:     cfg.PathPrefix,
	})

	// The expiration sweep runs alongside the API so expired jobs vanish even
	// when no tracker is deployed.
	sweeper := worker.NewExpirationSweeper(log, jobStore, cfg.ExpireSchedule)
	if err := sweeper.Start(ctx); err != nil {
		log.Fatal("Expiration sweeper init failed", "error", err)
	}
	defer sweeper.Stop()

	port := config.GetEnv("PORT", "8080", log)
	srv := &http.Server{Addr: ":" + port, Handler: router}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("Server listening", "port", port, "path_prefix", cfg.PathPrefix)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("Server stopped")
}
