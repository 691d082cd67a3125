package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/lsst-sqre/vo-cutouts-sub000/internal/platform/logger"
)

const (
	statusQueued     = "queued"
	statusInProgress = "in-progress"
)

// redisQueue implements JobQueue over Redis lists plus per-message status and
// result keys. Keys carry a TTL so abandoned records expire on their own.
type redisQueue struct {
	log       *logger.Logger
	rdb       *goredis.Client
	resultTTL time.Duration
}

func NewRedisQueue(log *logger.Logger, queueURL, password string, resultTTL time.Duration) (JobQueue, error) {
	opts, err := goredis.ParseURL(queueURL)
	if err != nil {
		return nil, fmt.Errorf("invalid queue URL: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	opts.DialTimeout = 5 * time.Second
	rdb := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if resultTTL <= 0 {
		resultTTL = time.Hour
	}
	return &redisQueue{
		log:       log.With("service", "RedisQueue"),
		rdb:       rdb,
		resultTTL: resultTTL,
	}, nil
}

func queueKey(name string) string { return "uwsq:queue:" + name }
func statusKey(id string) string  { return "uwsq:status:" + id }
func resultKey(id string) string  { return "uwsq:result:" + id }

func (q *redisQueue) Enqueue(ctx context.Context, queueName, taskName string, args map[string]any, timeoutSeconds int) (string, error) {
	msg := &Message{
		ID:             uuid.NewString(),
		Task:           taskName,
		Args:           args,
		EnqueueTime:    time.Now().UTC(),
		TimeoutSeconds: timeoutSeconds,
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}
	if err := q.rdb.Set(ctx, statusKey(msg.ID), statusQueued, q.resultTTL).Err(); err != nil {
		return "", fmt.Errorf("set message status: %w", err)
	}
	if err := q.rdb.LPush(ctx, queueKey(queueName), raw).Err(); err != nil {
		return "", fmt.Errorf("enqueue on %s: %w", queueName, err)
	}
	return msg.ID, nil
}

func (q *redisQueue) Dequeue(ctx context.Context, queueName string, block time.Duration) (*Message, error) {
	res, err := q.rdb.BRPop(ctx, block, queueKey(queueName)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue from %s: %w", queueName, err)
	}
	// BRPop returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply of length %d", len(res))
	}
	var msg Message
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		return nil, fmt.Errorf("decode message from %s: %w", queueName, err)
	}
	return &msg, nil
}

func (q *redisQueue) GetResult(ctx context.Context, messageID string) (*TaskResult, error) {
	raw, err := q.rdb.Get(ctx, resultKey(messageID)).Result()
	if err == nil {
		var result TaskResult
		if err := json.Unmarshal([]byte(raw), &result); err != nil {
			return nil, fmt.Errorf("decode task result: %w", err)
		}
		return &result, nil
	}
	if !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("get task result: %w", err)
	}
	exists, err := q.rdb.Exists(ctx, statusKey(messageID)).Result()
	if err != nil {
		return nil, fmt.Errorf("check message status: %w", err)
	}
	if exists > 0 {
		return nil, ErrResultUnavailable
	}
	return nil, ErrJobNotFound
}

func (q *redisQueue) MarkInProgress(ctx context.Context, messageID string) error {
	return q.rdb.Set(ctx, statusKey(messageID), statusInProgress, q.resultTTL).Err()
}

func (q *redisQueue) StoreResult(ctx context.Context, messageID string, result *TaskResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal task result: %w", err)
	}
	if err := q.rdb.Set(ctx, resultKey(messageID), raw, q.resultTTL).Err(); err != nil {
		return fmt.Errorf("store task result: %w", err)
	}
	return q.rdb.Del(ctx, statusKey(messageID)).Err()
}

func (q *redisQueue) Close() error {
	return q.rdb.Close()
}
