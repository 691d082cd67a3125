package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lsst-sqre/vo-cutouts-sub000/internal/platform/logger"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/queue"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/uws"
)

func workMessage(id, jobID string, timeoutSeconds int) *queue.Message {
	return &queue.Message{
		ID:             id,
		Task:           "cutout",
		Args:           map[string]any{"job_id": jobID},
		EnqueueTime:    time.Now().UTC(),
		TimeoutSeconds: timeoutSeconds,
	}
}

func drainUWS(t *testing.T, q *queue.Mock, n int) []*queue.Message {
	t.Helper()
	ctx := context.Background()
	out := make([]*queue.Message, 0, n)
	for i := 0; i < n; i++ {
		msg, err := q.Dequeue(ctx, "uws", time.Second)
		if err != nil {
			t.Fatalf("Dequeue failed: %v", err)
		}
		if msg == nil {
			t.Fatalf("expected %d uws messages, got %d", n, i)
		}
		out = append(out, msg)
	}
	return out
}

func TestAdapterHandleSuccess(t *testing.T) {
	q := queue.NewMock()
	compute := func(_ context.Context, _ map[string]any, _ WorkerInfo, _ *logger.Logger) ([]uws.JobResult, error) {
		return []uws.JobResult{{ResultID: "cutout", URL: "gs://b/42/c.fits"}}, nil
	}
	adapter := NewAdapter(logger.NewNop(), q, compute, "work", "uws")

	adapter.Handle(context.Background(), workMessage("m1", "42", 0))

	// Lifecycle notifications bracket the compute.
	msgs := drainUWS(t, q, 2)
	if msgs[0].Task != queue.TaskJobStarted || msgs[0].Args["job_id"] != "42" {
		t.Errorf("first message = %+v, want job_started", msgs[0])
	}
	if _, ok := msgs[0].Args["start_time"].(string); !ok {
		t.Errorf("job_started missing start_time: %+v", msgs[0].Args)
	}
	if msgs[1].Task != queue.TaskJobCompleted || msgs[1].Args["job_id"] != "42" {
		t.Errorf("second message = %+v, want job_completed", msgs[1])
	}

	result, err := q.GetResult(context.Background(), "m1")
	if err != nil {
		t.Fatalf("GetResult failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v, want success", result)
	}
	var results []uws.JobResult
	if err := json.Unmarshal(result.Payload, &results); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if len(results) != 1 || results[0].URL != "gs://b/42/c.fits" {
		t.Errorf("results = %+v", results)
	}
}

func TestAdapterClassifiesWorkerError(t *testing.T) {
	q := queue.NewMock()
	compute := func(_ context.Context, _ map[string]any, _ WorkerInfo, _ *logger.Logger) ([]uws.JobResult, error) {
		return nil, Usage("exactly one stencil required", "got 2")
	}
	adapter := NewAdapter(logger.NewNop(), q, compute, "work", "uws")

	adapter.Handle(context.Background(), workMessage("m1", "42", 0))
	drainUWS(t, q, 2)

	result, err := q.GetResult(context.Background(), "m1")
	if err != nil {
		t.Fatalf("GetResult failed: %v", err)
	}
	if result.Success || result.Error == nil {
		t.Fatalf("result = %+v, want error", result)
	}
	if result.Error.Type != string(uws.ErrorTypeFatal) {
		t.Errorf("usage errors are permanent, got type %q", result.Error.Type)
	}
	if result.Error.Code != string(uws.CodeUsageError) {
		t.Errorf("code = %q", result.Error.Code)
	}
}

func TestAdapterRecoversPanic(t *testing.T) {
	q := queue.NewMock()
	compute := func(_ context.Context, _ map[string]any, _ WorkerInfo, _ *logger.Logger) ([]uws.JobResult, error) {
		panic("pixel buffer overrun")
	}
	adapter := NewAdapter(logger.NewNop(), q, compute, "work", "uws")

	adapter.Handle(context.Background(), workMessage("m1", "42", 0))

	// job_completed still goes out after a panic.
	msgs := drainUWS(t, q, 2)
	if msgs[1].Task != queue.TaskJobCompleted {
		t.Errorf("second message = %+v, want job_completed", msgs[1])
	}

	result, err := q.GetResult(context.Background(), "m1")
	if err != nil {
		t.Fatalf("GetResult failed: %v", err)
	}
	if result.Success || result.Error == nil {
		t.Fatalf("result = %+v, want error", result)
	}
	if !strings.Contains(result.Error.Detail+result.Error.Message, "panic") {
		t.Errorf("panic not reported: %+v", result.Error)
	}
}

func TestAdapterEnforcesTimeout(t *testing.T) {
	q := queue.NewMock()
	compute := func(ctx context.Context, _ map[string]any, _ WorkerInfo, _ *logger.Logger) ([]uws.JobResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	adapter := NewAdapter(logger.NewNop(), q, compute, "work", "uws")

	start := time.Now()
	adapter.Handle(context.Background(), workMessage("m1", "42", 1))
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("timeout not enforced, took %v", elapsed)
	}
	drainUWS(t, q, 2)

	result, err := q.GetResult(context.Background(), "m1")
	if err != nil {
		t.Fatalf("GetResult failed: %v", err)
	}
	if result.Success || result.Error == nil {
		t.Fatalf("result = %+v, want error", result)
	}
	if result.Error.Type != string(uws.ErrorTypeTransient) {
		t.Errorf("timeout should be transient, got %q", result.Error.Type)
	}
	if result.Error.Code != string(uws.CodeServiceUnavailable) {
		t.Errorf("code = %q", result.Error.Code)
	}
}

func TestClassifyUnknownError(t *testing.T) {
	taskErr := classifyError(errors.New("disk full"))
	if taskErr.Type != string(uws.ErrorTypeTransient) {
		t.Errorf("type = %q, want transient", taskErr.Type)
	}
	if taskErr.Code != string(uws.CodeError) {
		t.Errorf("code = %q", taskErr.Code)
	}
	if !strings.Contains(taskErr.Detail, "disk full") {
		t.Errorf("detail = %q", taskErr.Detail)
	}
}
