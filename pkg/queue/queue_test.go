package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/media-toolkit/pkg/logger"
)

func TestTaskPayloadRoundTrip(t *testing.T) {
	in := MergePayload{
		SessionID:  "s1",
		Scope:      "s1",
		Tool:       "pdf-merge",
		Inputs:     []MergeInput{{Key: "inputs/t/000-a.pdf", Name: "a.pdf"}, {Key: "inputs/t/001-b.pdf", Name: "b.pdf"}},
		OutputName: "merged",
	}
	task, err := NewTask("t1", TaskTypePDFMerge, in, map[string]string{"files": "2"})
	require.NoError(t, err)
	assert.Equal(t, TaskTypePDFMerge, task.Type)

	var out MergePayload
	require.NoError(t, task.Decode(&out))
	assert.Equal(t, in, out)

	assert.Error(t, (&Task{ID: "empty"}).Decode(&out))
}

func TestQueueForPriority(t *testing.T) {
	assert.Equal(t, "critical", queueFor(1))
	assert.Equal(t, "default", queueFor(2))
	assert.Equal(t, "low", queueFor(0))
	for _, name := range queueNames {
		assert.Contains(t, Queues, name)
	}
}

func TestStatusStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := NewStatusStore(client, time.Hour)
	ctx := context.Background()

	_, err := store.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	require.NoError(t, store.Save(ctx, &TaskStatus{TaskID: "t1", Status: StatusCompleted, Progress: 1, Result: "/api/v1/download/s1/pdf-merge"}))
	st, err := store.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, "/api/v1/download/s1/pdf-merge", st.Result)
	assert.True(t, st.Terminal())

	assert.True(t, mr.Exists("task_status:t1"))
	assert.Equal(t, time.Hour, mr.TTL("task_status:t1"))

	assert.Error(t, store.Save(ctx, &TaskStatus{}))
}

func TestConvertAsynqStatus(t *testing.T) {
	done := time.Now()
	cases := []struct {
		state asynq.TaskState
		want  string
	}{
		{asynq.TaskStatePending, StatusPending},
		{asynq.TaskStateScheduled, StatusPending},
		{asynq.TaskStateActive, StatusRunning},
		{asynq.TaskStateRetry, StatusPending},
		{asynq.TaskStateCompleted, StatusCompleted},
		{asynq.TaskStateArchived, StatusFailed},
	}
	for _, tc := range cases {
		st := convertAsynqStatus(&asynq.TaskInfo{ID: "t", Type: TaskTypePDFMerge, State: tc.state, CompletedAt: done, LastErr: "boom"})
		assert.Equal(t, tc.want, st.Status, tc.state.String())
	}
}

func TestMemoryQueueRunsHandler(t *testing.T) {
	q := NewMemoryQueue(time.Second, logger.NewNop())
	ctx := context.Background()

	q.Handle(TaskTypePDFMerge, func(ctx context.Context, task *Task) error {
		return q.SaveFinalStatus(ctx, &TaskStatus{TaskID: task.ID, Status: StatusCompleted, Progress: 1})
	})

	task, err := NewTask("", TaskTypePDFMerge, MergePayload{}, nil)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, task))
	require.NotEmpty(t, task.ID)
	q.Wait()

	st, err := q.GetTaskStatus(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, st.Status)

	assert.ErrorIs(t, q.Enqueue(ctx, task), ErrDuplicateTask)
	require.NoError(t, q.Close())
}

func TestMemoryQueueMarksFailure(t *testing.T) {
	q := NewMemoryQueue(time.Second, logger.NewNop())
	ctx := context.Background()
	q.Handle(TaskTypePDFMerge, func(context.Context, *Task) error {
		return errors.New("merge exploded")
	})

	task, err := NewTask("t-fail", TaskTypePDFMerge, MergePayload{}, nil)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, task))
	q.Wait()

	st, err := q.GetTaskStatus(ctx, "t-fail")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, st.Status)
	assert.Equal(t, "merge exploded", st.Error)

	_, err = q.GetTaskStatus(ctx, "nope")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestMemoryQueueCancel(t *testing.T) {
	q := NewMemoryQueue(time.Second, logger.NewNop())
	ctx := context.Background()
	release := make(chan struct{})
	q.Handle(TaskTypePDFMerge, func(ctx context.Context, task *Task) error {
		<-release
		return q.SaveFinalStatus(ctx, &TaskStatus{TaskID: task.ID, Status: StatusCompleted})
	})

	task, err := NewTask("t-cancel", TaskTypePDFMerge, MergePayload{}, nil)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, task))
	require.NoError(t, q.CancelTask(ctx, "t-cancel"))
	close(release)
	q.Wait()

	st, err := q.GetTaskStatus(ctx, "t-cancel")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, st.Status)
	assert.Error(t, q.CancelTask(ctx, "t-cancel"))
}
