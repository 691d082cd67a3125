package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Task names carried on the two logical queues. The work queue carries
// backend invocations; the uws queue carries lifecycle notifications the
// tracker reconciles into the job store.
const (
	TaskJobStarted   = "job_started"
	TaskJobCompleted = "job_completed"
)

var (
	// ErrResultUnavailable means the message is known but its result has not
	// materialized yet. Callers poll.
	ErrResultUnavailable = errors.New("task result not yet available")

	// ErrJobNotFound means the message id is unknown or its record expired.
	ErrJobNotFound = errors.New("task not found in queue")
)

// Message is one queued task invocation. Args are JSON-serializable; field
// ordering inside args is irrelevant.
type Message struct {
	ID             string         `json:"id"`
	Task           string         `json:"task"`
	Args           map[string]any `json:"args"`
	EnqueueTime    time.Time      `json:"enqueue_time"`
	TimeoutSeconds int            `json:"timeout_seconds"`
}

// TaskError is the serialized failure of a backend task. It survives transit
// through the queue's result store.
type TaskError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// TaskResult is the terminal outcome of a message: either a success payload
// or a classified error.
type TaskResult struct {
	Success bool            `json:"success"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *TaskError      `json:"error,omitempty"`
}

// JobQueue abstracts the external queue system. Delivery is at-least-once;
// consumers must be idempotent.
type JobQueue interface {
	// Enqueue places a task on the named queue and returns its message id.
	// timeoutSeconds bounds the task's execution; 0 means unlimited.
	Enqueue(ctx context.Context, queueName, taskName string, args map[string]any, timeoutSeconds int) (string, error)

	// Dequeue blocks up to the given duration for the next message on the
	// named queue. Returns (nil, nil) when the wait elapses empty.
	Dequeue(ctx context.Context, queueName string, block time.Duration) (*Message, error)

	// GetResult fetches the stored outcome of a message. Returns
	// ErrResultUnavailable while the task is still pending or running and
	// ErrJobNotFound once the record has expired or never existed.
	GetResult(ctx context.Context, messageID string) (*TaskResult, error)

	// MarkInProgress flags a dequeued message as running so GetResult keeps
	// reporting ErrResultUnavailable rather than ErrJobNotFound.
	MarkInProgress(ctx context.Context, messageID string) error

	// StoreResult records the terminal outcome of a message.
	StoreResult(ctx context.Context, messageID string, result *TaskResult) error

	Close() error
}
