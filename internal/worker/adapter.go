package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/lsst-sqre/vo-cutouts-sub000/internal/platform/logger"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/queue"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/uws"
)

// WorkerInfo describes the execution environment handed to a compute
// function.
type WorkerInfo struct {
	JobID     string
	MessageID string
}

// ComputeFunc is the application-supplied backend computation. It receives
// the decoded dispatch args and returns the job's results. Failures should be
// *WorkerError values; anything else is classified transient.
type ComputeFunc func(ctx context.Context, args map[string]any, info WorkerInfo, log *logger.Logger) ([]uws.JobResult, error)

// Adapter wraps a compute function for execution by a backend worker. Around
// each work message it emits job_started before computing and job_completed
// after, so the tracker can reconcile phases regardless of how the compute
// ends. Compute runs on a single-slot executor: scientific code is often
// CPU-bound and not thread-safe, so one computation runs at a time per worker
// instance.
type Adapter struct {
	log          *logger.Logger
	queue        queue.JobQueue
	compute      ComputeFunc
	workQueue    string
	uwsQueue     string
	dequeueBlock time.Duration
	executor     *semaphore.Weighted
}

func NewAdapter(baseLog *logger.Logger, q queue.JobQueue, compute ComputeFunc, workQueue, uwsQueue string) *Adapter {
	return &Adapter{
		log:          baseLog.With("component", "BackendAdapter"),
		queue:        q,
		compute:      compute,
		workQueue:    workQueue,
		uwsQueue:     uwsQueue,
		dequeueBlock: 2 * time.Second,
		executor:     semaphore.NewWeighted(1),
	}
}

// Run consumes the work queue until ctx is canceled.
func (a *Adapter) Run(ctx context.Context) error {
	a.log.Info("Backend adapter started", "work_queue", a.workQueue)
	for {
		select {
		case <-ctx.Done():
			a.log.Info("Backend adapter stopped")
			return nil
		default:
		}
		msg, err := a.queue.Dequeue(ctx, a.workQueue, a.dequeueBlock)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.log.Warn("Dequeue failed", "error", err)
			continue
		}
		if msg == nil {
			continue
		}
		a.Handle(ctx, msg)
	}
}

// Handle processes one work message end to end.
func (a *Adapter) Handle(ctx context.Context, msg *queue.Message) {
	jobID, _ := msg.Args["job_id"].(string)
	log := a.log.With("job_id", jobID, "message_id", msg.ID)

	if err := a.queue.MarkInProgress(ctx, msg.ID); err != nil {
		log.Warn("MarkInProgress failed", "error", err)
	}

	startArgs := map[string]any{
		"job_id":     jobID,
		"start_time": uws.FormatTimestamp(time.Now()),
	}
	if _, err := a.queue.Enqueue(ctx, a.uwsQueue, queue.TaskJobStarted, startArgs, 0); err != nil {
		log.Error("Failed to enqueue job_started", "error", err)
	}
	// job_completed goes out even when the compute panics or times out; the
	// tracker's result poll then decides the terminal phase.
	defer func() {
		doneArgs := map[string]any{"job_id": jobID}
		if _, err := a.queue.Enqueue(ctx, a.uwsQueue, queue.TaskJobCompleted, doneArgs, 0); err != nil {
			log.Error("Failed to enqueue job_completed", "error", err)
		}
	}()

	result := a.runCompute(ctx, msg, WorkerInfo{JobID: jobID, MessageID: msg.ID}, log)
	if err := a.queue.StoreResult(ctx, msg.ID, result); err != nil {
		log.Error("Failed to store task result", "error", err)
	}
}

func (a *Adapter) runCompute(ctx context.Context, msg *queue.Message, info WorkerInfo, log *logger.Logger) *queue.TaskResult {
	computeCtx := ctx
	cancel := context.CancelFunc(func() {})
	if msg.TimeoutSeconds > 0 {
		computeCtx, cancel = context.WithTimeout(ctx, time.Duration(msg.TimeoutSeconds)*time.Second)
	}
	defer cancel()

	if err := a.executor.Acquire(computeCtx, 1); err != nil {
		return &queue.TaskResult{Success: false, Error: &queue.TaskError{
			Type:    string(uws.ErrorTypeTransient),
			Code:    string(uws.CodeServiceUnavailable),
			Message: "worker busy past job timeout",
		}}
	}

	type outcome struct {
		results []uws.JobResult
		err     error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer a.executor.Release(1)
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("panic in compute function: %v", r)}
			}
		}()
		results, err := a.compute(computeCtx, msg.Args, info, log)
		ch <- outcome{results: results, err: err}
	}()

	select {
	case <-computeCtx.Done():
		log.Warn("Compute exceeded job timeout", "timeout_seconds", msg.TimeoutSeconds)
		return &queue.TaskResult{Success: false, Error: &queue.TaskError{
			Type:    string(uws.ErrorTypeTransient),
			Code:    string(uws.CodeServiceUnavailable),
			Message: fmt.Sprintf("job exceeded execution duration of %d seconds", msg.TimeoutSeconds),
		}}
	case out := <-ch:
		if out.err != nil {
			log.Warn("Compute failed", "error", out.err)
			return &queue.TaskResult{Success: false, Error: classifyError(out.err)}
		}
		payload, err := json.Marshal(out.results)
		if err != nil {
			return &queue.TaskResult{Success: false, Error: classifyError(err)}
		}
		return &queue.TaskResult{Success: true, Payload: payload}
	}
}
