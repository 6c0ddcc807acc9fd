package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	taskListKey    = "tensorfleet:tasks"
	revokedSetKey  = "tensorfleet:revoked"
	controlChannel = "tensorfleet:control"

	// Task status hashes expire with the job retention window.
	taskTTL = 7 * 24 * time.Hour
)

// RedisQueue delivers tasks through a Redis list and tracks per-task status
// in hashes keyed task:<id>, updated by workers as they execute.
type RedisQueue struct {
	client *redis.Client
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func taskKey(taskID string) string {
	return "task:" + taskID
}

func (q *RedisQueue) Enqueue(ctx context.Context, payload TaskPayload) (string, error) {
	taskID := uuid.New().String()
	payload.TaskID = taskID

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task payload: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, taskKey(taskID), "state", StatePending)
	pipe.Expire(ctx, taskKey(taskID), taskTTL)
	pipe.RPush(ctx, taskListKey, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}

	return taskID, nil
}

func (q *RedisQueue) Status(ctx context.Context, taskID string) (TaskStatus, error) {
	fields, err := q.client.HGetAll(ctx, taskKey(taskID)).Result()
	if err != nil {
		return TaskStatus{}, fmt.Errorf("failed to read task status: %w", err)
	}
	if len(fields) == 0 {
		return TaskStatus{State: StatePending}, nil
	}

	st := TaskStatus{
		State:  fields["state"],
		Result: fields["result"],
		Error:  fields["error"],
	}
	if st.State == "" {
		st.State = StatePending
	}
	return st, nil
}

// Revoke marks the task revoked and broadcasts a terminate signal. A worker
// already past the checkpoint may still run the task to completion.
func (q *RedisQueue) Revoke(ctx context.Context, taskID string) error {
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, taskKey(taskID), "state", StateRevoked)
	pipe.SAdd(ctx, revokedSetKey, taskID)
	pipe.Publish(ctx, controlChannel, "revoke:"+taskID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to revoke task %s: %w", taskID, err)
	}
	return nil
}
