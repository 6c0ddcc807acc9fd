package queue

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process Queue used by tests and single-node setups.
// The worker-side transitions (Start/Complete/Fail) are exposed so a test
// or an embedded executor can drive task state.
type MemoryQueue struct {
	mu      sync.Mutex
	pending []TaskPayload
	status  map[string]TaskStatus
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{status: make(map[string]TaskStatus)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, payload TaskPayload) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	taskID := uuid.New().String()
	payload.TaskID = taskID
	q.pending = append(q.pending, payload)
	q.status[taskID] = TaskStatus{State: StatePending}
	return taskID, nil
}

func (q *MemoryQueue) Status(ctx context.Context, taskID string) (TaskStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.status[taskID]
	if !ok {
		return TaskStatus{State: StatePending}, nil
	}
	return st, nil
}

func (q *MemoryQueue) Revoke(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.status[taskID] = TaskStatus{State: StateRevoked}
	return nil
}

// Dequeue pops the next pending task, or returns false when none is queued.
func (q *MemoryQueue) Dequeue() (TaskPayload, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return TaskPayload{}, false
	}
	task := q.pending[0]
	q.pending = q.pending[1:]
	q.status[task.TaskID] = TaskStatus{State: StateRunning}
	return task, true
}

// Start marks a task as picked up by a worker.
func (q *MemoryQueue) Start(taskID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.status[taskID] = TaskStatus{State: StateRunning}
}

// Complete records a successful task result.
func (q *MemoryQueue) Complete(taskID, result string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.status[taskID] = TaskStatus{State: StateSuccess, Result: result}
}

// Fail records a task failure with its error detail.
func (q *MemoryQueue) Fail(taskID, errMsg string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.status[taskID] = TaskStatus{State: StateFailure, Error: errMsg}
}

// Len reports the number of tasks still waiting for a worker.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
