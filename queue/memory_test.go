package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueDequeue(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	taskID, err := q.Enqueue(ctx, TaskPayload{JobID: "job-1", JobName: "train"})
	require.NoError(t, err)
	require.NotEmpty(t, taskID)
	assert.Equal(t, 1, q.Len())

	st, err := q.Status(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatePending, st.State)

	task, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, taskID, task.TaskID)
	assert.Equal(t, "job-1", task.JobID)
	assert.Zero(t, q.Len())

	st, err = q.Status(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, st.State)
}

func TestDequeueOrder(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	first, err := q.Enqueue(ctx, TaskPayload{JobID: "job-1"})
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, TaskPayload{JobID: "job-2"})
	require.NoError(t, err)

	task, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, first, task.TaskID)

	task, ok = q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, second, task.TaskID)

	_, ok = q.Dequeue()
	assert.False(t, ok)
}

func TestUnknownTaskIsPending(t *testing.T) {
	q := NewMemoryQueue()
	st, err := q.Status(context.Background(), "never-enqueued")
	require.NoError(t, err)
	assert.Equal(t, StatePending, st.State)
}

func TestTaskResults(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	taskID, err := q.Enqueue(ctx, TaskPayload{JobID: "job-1"})
	require.NoError(t, err)

	q.Complete(taskID, "accuracy 0.97")
	st, err := q.Status(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, st.State)
	assert.Equal(t, "accuracy 0.97", st.Result)

	failedID, err := q.Enqueue(ctx, TaskPayload{JobID: "job-2"})
	require.NoError(t, err)
	q.Fail(failedID, "OOM")
	st, err = q.Status(ctx, failedID)
	require.NoError(t, err)
	assert.Equal(t, StateFailure, st.State)
	assert.Equal(t, "OOM", st.Error)
}

func TestRevoke(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	taskID, err := q.Enqueue(ctx, TaskPayload{JobID: "job-1"})
	require.NoError(t, err)
	require.NoError(t, q.Revoke(ctx, taskID))

	st, err := q.Status(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StateRevoked, st.State)
}
