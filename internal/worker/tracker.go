package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/lsst-sqre/vo-cutouts-sub000/internal/platform/logger"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/queue"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/repos"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/uws"
)

// Tracker consumes the uws queue and reconciles backend-reported lifecycle
// events into the job store. Both handlers are idempotent: the store's phase
// guards drop stale transitions, and UnknownJob is swallowed so reports about
// deleted jobs do not resurrect them.
type Tracker struct {
	log          *logger.Logger
	store        repos.JobStore
	queue        queue.JobQueue
	uwsQueue     string
	dequeueBlock time.Duration
	pollInterval time.Duration
	pollTimeout  time.Duration
}

type TrackerConfig struct {
	UWSQueueName string
	PollInterval time.Duration
	PollTimeout  time.Duration
}

func NewTracker(baseLog *logger.Logger, store repos.JobStore, q queue.JobQueue, cfg TrackerConfig) *Tracker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	return &Tracker{
		log:          baseLog.With("component", "TrackerWorker"),
		store:        store,
		queue:        q,
		uwsQueue:     cfg.UWSQueueName,
		dequeueBlock: 2 * time.Second,
		pollInterval: cfg.PollInterval,
		pollTimeout:  cfg.PollTimeout,
	}
}

// Run consumes the uws queue until ctx is canceled.
func (t *Tracker) Run(ctx context.Context) error {
	t.log.Info("Tracker started", "uws_queue", t.uwsQueue)
	for {
		select {
		case <-ctx.Done():
			t.log.Info("Tracker stopped")
			return nil
		default:
		}
		msg, err := t.queue.Dequeue(ctx, t.uwsQueue, t.dequeueBlock)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			t.log.Warn("Dequeue failed", "error", err)
			continue
		}
		if msg == nil {
			continue
		}
		t.Handle(ctx, msg)
	}
}

// Handle dispatches one uws message to its handler.
func (t *Tracker) Handle(ctx context.Context, msg *queue.Message) {
	jobID, _ := msg.Args["job_id"].(string)
	switch msg.Task {
	case queue.TaskJobStarted:
		t.HandleStarted(ctx, jobID, msg.Args)
	case queue.TaskJobCompleted:
		t.HandleCompleted(ctx, jobID)
	default:
		t.log.Warn("Unknown uws task", "task", msg.Task, "job_id", jobID)
	}
}

// HandleStarted records the backend-reported start time.
func (t *Tracker) HandleStarted(ctx context.Context, jobID string, args map[string]any) {
	startTime := time.Now().UTC()
	if raw, ok := args["start_time"].(string); ok {
		if parsed, err := uws.ParseTimestamp(raw); err == nil {
			startTime = parsed
		}
	}
	err := t.store.MarkExecuting(ctx, jobID, startTime)
	if errors.Is(err, uws.ErrUnknownJob) {
		// Job was deleted after dispatch; nothing to record.
		return
	}
	if err != nil {
		t.log.Error("MarkExecuting failed", "job_id", jobID, "error", err)
	}
}

// HandleCompleted fetches the backend's final result and writes the terminal
// phase. job_completed may be enqueued before the result store materializes
// the outcome, so the result is polled for a bounded window; exceeding it is
// a transient failure, not a fatal one.
func (t *Tracker) HandleCompleted(ctx context.Context, jobID string) {
	job, err := t.store.Get(ctx, jobID)
	if errors.Is(err, uws.ErrUnknownJob) {
		return
	}
	if err != nil {
		t.log.Error("Failed to load job for completion", "job_id", jobID, "error", err)
		return
	}

	result, err := t.awaitResult(ctx, job.MessageID)
	if err != nil {
		t.failTransient(ctx, jobID, "backend result did not materialize in time")
		return
	}

	if result.Success {
		var results []uws.JobResult
		if err := json.Unmarshal(result.Payload, &results); err != nil {
			t.log.Error("Undecodable success payload", "job_id", jobID, "error", err)
			t.failTransient(ctx, jobID, "backend returned an undecodable result")
			return
		}
		if err := t.markCompleted(ctx, jobID, results); err != nil {
			t.log.Error("MarkCompleted failed", "job_id", jobID, "error", err)
		}
		return
	}

	jobErr := &uws.JobError{
		Type:    uws.ErrorTypeTransient,
		Code:    uws.CodeError,
		Message: "backend task failed",
	}
	if result.Error != nil {
		jobErr = &uws.JobError{
			Type:    uws.ErrorType(result.Error.Type),
			Code:    uws.ErrorCode(result.Error.Code),
			Message: result.Error.Message,
			Detail:  result.Error.Detail,
		}
	}
	if err := t.markFailed(ctx, jobID, jobErr); err != nil {
		t.log.Error("MarkFailed failed", "job_id", jobID, "error", err)
	}
}

func (t *Tracker) awaitResult(ctx context.Context, messageID string) (*queue.TaskResult, error) {
	deadline := time.Now().Add(t.pollTimeout)
	for {
		result, err := t.queue.GetResult(ctx, messageID)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, queue.ErrResultUnavailable) && !errors.Is(err, queue.ErrJobNotFound) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, err
		}
		timer := time.NewTimer(t.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (t *Tracker) markCompleted(ctx context.Context, jobID string, results []uws.JobResult) error {
	err := t.store.MarkCompleted(ctx, jobID, results)
	if errors.Is(err, uws.ErrUnknownJob) {
		return nil
	}
	return err
}

func (t *Tracker) markFailed(ctx context.Context, jobID string, jobErr *uws.JobError) error {
	err := t.store.MarkFailed(ctx, jobID, jobErr)
	if errors.Is(err, uws.ErrUnknownJob) {
		return nil
	}
	return err
}

func (t *Tracker) failTransient(ctx context.Context, jobID, message string) {
	jobErr := &uws.JobError{
		Type:    uws.ErrorTypeTransient,
		Code:    uws.CodeServiceUnavailable,
		Message: message,
	}
	if err := t.markFailed(ctx, jobID, jobErr); err != nil {
		t.log.Error("MarkFailed failed", "job_id", jobID, "error", err)
	}
}
