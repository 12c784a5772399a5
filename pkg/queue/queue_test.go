package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/document-ingestor/internal/models"
	"github.com/feichai0017/document-ingestor/pkg/logger"
)

func newStatusStore(t *testing.T) (*StatusStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewStatusStore(client, time.Hour)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestStatusStore_SaveAndGet(t *testing.T) {
	store, mr := newStatusStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "task-1")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	require.NoError(t, store.Save(ctx, &models.TaskStatus{
		TaskID: "task-1",
		Status: models.StatusSuccess,
		Stage:  models.StageDone,
		Result: &models.IngestionSummary{ChunksCreated: 3, Verified: true},
	}))

	assert.True(t, mr.Exists("task_status:task-1"))
	assert.Equal(t, time.Hour, mr.TTL("task_status:task-1"))

	got, err := store.Get(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, 3, got.Result.ChunksCreated)

	mr.FastForward(2 * time.Hour)
	_, err = store.Get(ctx, "task-1")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestStatusStore_Update(t *testing.T) {
	store, _ := newStatusStore(t)
	ctx := context.Background()

	require.NoError(t, store.Update(ctx, "task-2", func(s *models.TaskStatus) {
		s.Status = models.StatusRunning
		s.Stage = models.StageFetching
	}))
	require.NoError(t, store.Update(ctx, "task-2", func(s *models.TaskStatus) {
		s.Stage = models.StageEmbedding
	}))

	got, err := store.Get(ctx, "task-2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, got.Status)
	assert.Equal(t, models.StageEmbedding, got.Stage)
}

func TestStatusStore_Init(t *testing.T) {
	store, mr := newStatusStore(t)
	ctx := context.Background()

	// the worker finished the run before the pending status was written
	require.NoError(t, store.Save(ctx, &models.TaskStatus{
		TaskID: "task-4",
		RunID:  "run-2",
		Status: models.StatusFailure,
		Error:  "download failed",
	}))
	require.NoError(t, store.Init(ctx, &models.TaskStatus{TaskID: "task-4", RunID: "run-2", Status: models.StatusPending}))

	got, err := store.Get(ctx, "task-4")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailure, got.Status)
	assert.Equal(t, "download failed", got.Error)

	// a status left by an earlier run is replaced
	require.NoError(t, store.Init(ctx, &models.TaskStatus{TaskID: "task-4", RunID: "run-3", Status: models.StatusPending}))
	got, err = store.Get(ctx, "task-4")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, "run-3", got.RunID)
	assert.Empty(t, got.Error)

	require.NoError(t, store.Init(ctx, &models.TaskStatus{TaskID: "task-5", RunID: "run-1", Status: models.StatusPending}))
	assert.Equal(t, time.Hour, mr.TTL("task_status:task-5"))
}

func TestAsynqQueue_Enqueue(t *testing.T) {
	mr := miniredis.RunT(t)
	q := NewAsynqQueue(QueueConfig{RedisAddr: mr.Addr(), Retention: time.Hour}, logger.NewTestLogger())
	t.Cleanup(func() { _ = q.Close() })
	ctx := context.Background()

	task := models.IngestionTask{ProcessTaskID: "task-1", FileURL: "https://example.com/a.pdf", DBName: "default"}
	require.NoError(t, q.Enqueue(ctx, task))

	status, err := q.GetTaskStatus(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, status.Status)
	require.NotEmpty(t, status.RunID)
	runID := status.RunID

	// the worker picks the task up
	require.NoError(t, q.Statuses().Update(ctx, "task-1", func(s *models.TaskStatus) {
		s.Status = models.StatusRunning
	}))

	err = q.Enqueue(ctx, task)
	assert.ErrorIs(t, err, ErrTaskExists)

	status, err = q.GetTaskStatus(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, status.Status)
	assert.Equal(t, runID, status.RunID)
}

func TestStatusStore_CorruptValue(t *testing.T) {
	store, mr := newStatusStore(t)
	require.NoError(t, mr.Set("task_status:task-3", "not json"))

	_, err := store.Get(context.Background(), "task-3")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrTaskNotFound)
}

func TestConvertAsynqStatus(t *testing.T) {
	completedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		info *asynq.TaskInfo
		want models.ProcessingStatus
	}{
		{"Pending", &asynq.TaskInfo{ID: "a", State: asynq.TaskStatePending}, models.StatusPending},
		{"Scheduled", &asynq.TaskInfo{ID: "a", State: asynq.TaskStateScheduled}, models.StatusPending},
		{"Active", &asynq.TaskInfo{ID: "a", State: asynq.TaskStateActive}, models.StatusRunning},
		{"Completed", &asynq.TaskInfo{ID: "a", State: asynq.TaskStateCompleted, CompletedAt: completedAt}, models.StatusSuccess},
		{"Archived", &asynq.TaskInfo{ID: "a", State: asynq.TaskStateArchived, LastErr: "boom"}, models.StatusFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := convertAsynqStatus(tt.info)
			assert.Equal(t, "a", got.TaskID)
			assert.Equal(t, tt.want, got.Status)
		})
	}

	withResult := convertAsynqStatus(&asynq.TaskInfo{
		ID:     "b",
		State:  asynq.TaskStateCompleted,
		Result: []byte(`{"chunks_created":4,"verified":true}`),
	})
	require.NotNil(t, withResult.Result)
	assert.Equal(t, 4, withResult.Result.ChunksCreated)

	failed := convertAsynqStatus(&asynq.TaskInfo{ID: "c", State: asynq.TaskStateArchived, LastErr: "download failed"})
	assert.Equal(t, "download failed", failed.Error)
}
