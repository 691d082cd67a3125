package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Mock is an in-memory JobQueue for tests. SetInProgress and SetComplete let
// tests stage message state directly without a running worker.
type Mock struct {
	mu      sync.Mutex
	queues  map[string]chan *Message
	status  map[string]string
	results map[string]*TaskResult
}

func NewMock() *Mock {
	return &Mock{
		queues:  make(map[string]chan *Message),
		status:  make(map[string]string),
		results: make(map[string]*TaskResult),
	}
}

func (m *Mock) channel(name string) chan *Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.queues[name]
	if !ok {
		ch = make(chan *Message, 1024)
		m.queues[name] = ch
	}
	return ch
}

func (m *Mock) Enqueue(_ context.Context, queueName, taskName string, args map[string]any, timeoutSeconds int) (string, error) {
	msg := &Message{
		ID:             uuid.NewString(),
		Task:           taskName,
		Args:           args,
		EnqueueTime:    time.Now().UTC(),
		TimeoutSeconds: timeoutSeconds,
	}
	m.mu.Lock()
	m.status[msg.ID] = statusQueued
	m.mu.Unlock()
	m.channel(queueName) <- msg
	return msg.ID, nil
}

func (m *Mock) Dequeue(ctx context.Context, queueName string, block time.Duration) (*Message, error) {
	timer := time.NewTimer(block)
	defer timer.Stop()
	select {
	case msg := <-m.channel(queueName):
		return msg, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Mock) GetResult(_ context.Context, messageID string) (*TaskResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if res, ok := m.results[messageID]; ok {
		return res, nil
	}
	if _, ok := m.status[messageID]; ok {
		return nil, ErrResultUnavailable
	}
	return nil, ErrJobNotFound
}

func (m *Mock) MarkInProgress(_ context.Context, messageID string) error {
	m.SetInProgress(messageID)
	return nil
}

func (m *Mock) StoreResult(_ context.Context, messageID string, result *TaskResult) error {
	m.SetComplete(messageID, result)
	return nil
}

func (m *Mock) Close() error { return nil }

// SetInProgress flags a message as running.
func (m *Mock) SetInProgress(messageID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[messageID] = statusInProgress
}

// SetComplete stores a terminal result for a message.
func (m *Mock) SetComplete(messageID string, result *TaskResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[messageID] = result
	delete(m.status, messageID)
}

// Expire drops all record of a message, simulating TTL expiry.
func (m *Mock) Expire(messageID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.status, messageID)
	delete(m.results, messageID)
}
