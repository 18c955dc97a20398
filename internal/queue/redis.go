package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisQueue implements the durable task dispatcher on Redis lists
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue creates a new Redis-based task queue
func NewRedisQueue(addr, password string, db int) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	log.Info().
		Str("addr", addr).
		Int("db", db).
		Msg("Redis task queue connected")

	return &RedisQueue{client: client}, nil
}

// Enqueue appends a task to its kind's FIFO list. Acceptance here is the
// dispatcher's whole contract: ordering across deployments is not
// guaranteed, and per-deployment exclusion is enforced by the state machine
// before enqueueing, not by the queue.
func (q *RedisQueue) Enqueue(ctx context.Context, task *Task) error {
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now()
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	queueKey := fmt.Sprintf("tasks:%s", task.Kind)

	if err := q.client.RPush(ctx, queueKey, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	log.Info().
		Str("jobID", task.JobID).
		Str("kind", string(task.Kind)).
		Msg("Task enqueued")

	return nil
}

// Dequeue blocks up to timeout for the next task of the given kind.
// Returns nil, nil when no task arrived within the timeout.
func (q *RedisQueue) Dequeue(ctx context.Context, kind TaskKind, timeout time.Duration) (*Task, error) {
	queueKey := fmt.Sprintf("tasks:%s", kind)

	result, err := q.client.BLPop(ctx, timeout, queueKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue task: %w", err)
	}

	// BLPOP returns [key, value]
	if len(result) < 2 {
		return nil, fmt.Errorf("unexpected redis response: %v", result)
	}

	var task Task
	if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}

	log.Debug().
		Str("jobID", task.JobID).
		Str("kind", string(task.Kind)).
		Msg("Task dequeued")

	return &task, nil
}

// MarkProcessing records an in-flight marker for a job with a TTL so a
// crashed worker's marker eventually expires.
func (q *RedisQueue) MarkProcessing(ctx context.Context, jobID string) error {
	key := fmt.Sprintf("task:processing:%s", jobID)

	if err := q.client.Set(ctx, key, time.Now().Unix(), 1*time.Hour).Err(); err != nil {
		return fmt.Errorf("failed to mark task as processing: %w", err)
	}

	return nil
}

// MarkComplete removes the in-flight marker for a job
func (q *RedisQueue) MarkComplete(ctx context.Context, jobID string) error {
	key := fmt.Sprintf("task:processing:%s", jobID)

	if err := q.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to mark task as complete: %w", err)
	}

	return nil
}

// QueueLength returns the number of pending tasks of a kind
func (q *RedisQueue) QueueLength(ctx context.Context, kind TaskKind) (int64, error) {
	queueKey := fmt.Sprintf("tasks:%s", kind)

	length, err := q.client.LLen(ctx, queueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}

	return length, nil
}

// Ping checks if the Redis connection is alive
func (q *RedisQueue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	return nil
}

// Close closes the Redis connection
func (q *RedisQueue) Close() error {
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis connection: %w", err)
	}

	log.Info().Msg("Redis task queue connection closed")
	return nil
}
