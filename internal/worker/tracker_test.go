package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/lsst-sqre/vo-cutouts-sub000/internal/platform/logger"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/queue"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/repos"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/uws"
)

func newTestStore(t *testing.T) repos.JobStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&repos.JobRecord{}, &repos.JobParameterRecord{}, &repos.JobResultRecord{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return repos.NewJobStore(db, logger.NewNop())
}

func newTestTracker(store repos.JobStore, q queue.JobQueue) *Tracker {
	return NewTracker(logger.NewNop(), store, q, TrackerConfig{
		UWSQueueName: "uws",
		PollInterval: 10 * time.Millisecond,
		PollTimeout:  300 * time.Millisecond,
	})
}

func queueJob(t *testing.T, store repos.JobStore, messageID string) *uws.Job {
	t.Helper()
	ctx := context.Background()
	job, err := store.Add(ctx, "someone", "", []uws.JobParameter{{ID: "id", Value: "x"}}, 600, time.Hour)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := store.MarkQueued(ctx, job.ID, messageID); err != nil {
		t.Fatalf("MarkQueued failed: %v", err)
	}
	return job
}

func TestHandleStartedRecordsStartTime(t *testing.T) {
	store := newTestStore(t)
	q := queue.NewMock()
	tracker := newTestTracker(store, q)
	ctx := context.Background()

	job := queueJob(t, store, "m1")
	start := time.Date(2026, 8, 1, 9, 30, 0, 0, time.UTC)
	tracker.HandleStarted(ctx, job.ID, map[string]any{
		"job_id":     job.ID,
		"start_time": uws.FormatTimestamp(start),
	})

	got, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Phase != uws.PhaseExecuting {
		t.Errorf("phase = %s, want EXECUTING", got.Phase)
	}
	if got.StartTime == nil || !got.StartTime.Equal(start) {
		t.Errorf("start_time = %v, want %v", got.StartTime, start)
	}
}

func TestHandleStartedUnknownJobIsIgnored(t *testing.T) {
	store := newTestStore(t)
	tracker := newTestTracker(store, queue.NewMock())
	// Reports about a deleted job must not error or recreate it.
	tracker.HandleStarted(context.Background(), "999", map[string]any{"job_id": "999"})
}

func TestHandleCompletedSuccess(t *testing.T) {
	store := newTestStore(t)
	q := queue.NewMock()
	tracker := newTestTracker(store, q)
	ctx := context.Background()

	job := queueJob(t, store, "m1")
	size := int64(2880)
	payload, _ := json.Marshal([]uws.JobResult{
		{ResultID: "cutout", URL: "gs://bucket/1/cutout.fits", Size: &size, MimeType: "application/fits"},
	})
	q.SetComplete("m1", &queue.TaskResult{Success: true, Payload: payload})

	tracker.HandleCompleted(ctx, job.ID)

	got, _ := store.Get(ctx, job.ID)
	if got.Phase != uws.PhaseCompleted {
		t.Errorf("phase = %s, want COMPLETED", got.Phase)
	}
	if len(got.Results) != 1 || got.Results[0].ResultID != "cutout" {
		t.Errorf("results = %+v", got.Results)
	}
}

func TestHandleCompletedFailurePersistsError(t *testing.T) {
	store := newTestStore(t)
	q := queue.NewMock()
	tracker := newTestTracker(store, q)
	ctx := context.Background()

	job := queueJob(t, store, "m1")
	q.SetComplete("m1", &queue.TaskResult{Success: false, Error: &queue.TaskError{
		Type:    string(uws.ErrorTypeFatal),
		Code:    string(uws.CodeUsageError),
		Message: "unknown dataset",
		Detail:  "dataset band-9 does not exist",
	}})

	tracker.HandleCompleted(ctx, job.ID)

	got, _ := store.Get(ctx, job.ID)
	if got.Phase != uws.PhaseError {
		t.Fatalf("phase = %s, want ERROR", got.Phase)
	}
	if got.Error == nil {
		t.Fatal("error not persisted")
	}
	if got.Error.Type != uws.ErrorTypeFatal || got.Error.Code != uws.CodeUsageError {
		t.Errorf("error = %+v", got.Error)
	}
	if got.Error.Detail != "dataset band-9 does not exist" {
		t.Errorf("detail = %q", got.Error.Detail)
	}
}

func TestHandleCompletedResultNeverMaterializes(t *testing.T) {
	store := newTestStore(t)
	q := queue.NewMock()
	tracker := newTestTracker(store, q)
	ctx := context.Background()

	job := queueJob(t, store, "m1")
	// The message stays in progress past the poll window.
	q.SetInProgress("m1")

	tracker.HandleCompleted(ctx, job.ID)

	got, _ := store.Get(ctx, job.ID)
	if got.Phase != uws.PhaseError {
		t.Fatalf("phase = %s, want ERROR", got.Phase)
	}
	if got.Error == nil || got.Error.Type != uws.ErrorTypeTransient {
		t.Errorf("error = %+v, want transient", got.Error)
	}
	if got.Error.Code != uws.CodeServiceUnavailable {
		t.Errorf("code = %s, want ServiceUnavailable", got.Error.Code)
	}
}

func TestOutOfOrderDelivery(t *testing.T) {
	store := newTestStore(t)
	q := queue.NewMock()
	tracker := newTestTracker(store, q)
	ctx := context.Background()

	job := queueJob(t, store, "m1")
	payload, _ := json.Marshal([]uws.JobResult{{ResultID: "cutout", URL: "gs://b/1/c.fits"}})
	q.SetComplete("m1", &queue.TaskResult{Success: true, Payload: payload})

	// job_completed arrives first.
	tracker.HandleCompleted(ctx, job.ID)

	// The late job_started must not regress the terminal phase, but its start
	// time still lands.
	start := time.Date(2026, 8, 1, 9, 30, 0, 0, time.UTC)
	tracker.HandleStarted(ctx, job.ID, map[string]any{
		"job_id":     job.ID,
		"start_time": uws.FormatTimestamp(start),
	})

	got, _ := store.Get(ctx, job.ID)
	if got.Phase != uws.PhaseCompleted {
		t.Errorf("phase = %s, want COMPLETED", got.Phase)
	}
	if got.StartTime == nil || !got.StartTime.Equal(start) {
		t.Errorf("start_time = %v, want %v", got.StartTime, start)
	}
}

func TestHandleCompletedDeletedJob(t *testing.T) {
	store := newTestStore(t)
	q := queue.NewMock()
	tracker := newTestTracker(store, q)
	ctx := context.Background()

	job := queueJob(t, store, "m1")
	if err := store.Delete(ctx, job.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	// Must be a no-op, not an error or a resurrection.
	tracker.HandleCompleted(ctx, job.ID)
	if _, err := store.Get(ctx, job.ID); err == nil {
		t.Error("deleted job reappeared")
	}
}
