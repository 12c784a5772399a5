package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	cfg "github.com/feichai0017/document-ingestor/config"
	"github.com/feichai0017/document-ingestor/internal/models"
	"github.com/feichai0017/document-ingestor/pkg/logger"
)

const TaskTypeDocumentProcess = "document:process"

var (
	ErrTaskExists   = errors.New("task already exists")
	ErrTaskNotFound = errors.New("task not found")
)

// Queue hands ingestion tasks to workers and tracks their status.
type Queue interface {
	Enqueue(ctx context.Context, task models.IngestionTask) error
	GetTaskStatus(ctx context.Context, taskID string) (*models.TaskStatus, error)
	SaveStatus(ctx context.Context, status *models.TaskStatus) error
	Close() error
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	QueueName     string
	MaxRetry      int
	Timeout       time.Duration
	Retention     time.Duration
	StatusTTL     time.Duration
}

// AsynqQueue keeps tasks in asynq and their status under task_status:<id> in Redis.
type AsynqQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	statuses  *StatusStore
	config    QueueConfig
	logger    logger.Logger
}

func NewFromConfig(c *cfg.Config, log logger.Logger) *AsynqQueue {
	return NewAsynqQueue(QueueConfig{
		RedisAddr:     c.Redis.Addr,
		RedisPassword: c.Redis.Password,
		RedisDB:       c.Redis.DB,
		QueueName:     c.Queue.Name,
		MaxRetry:      c.Queue.MaxRetry,
		Timeout:       c.Queue.Timeout,
		Retention:     c.Queue.Retention,
		StatusTTL:     c.Queue.StatusTTL,
	}, log)
}

func NewAsynqQueue(config QueueConfig, log logger.Logger) *AsynqQueue {
	if config.QueueName == "" {
		config.QueueName = "process_document"
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	}
	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	return &AsynqQueue{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		statuses:  NewStatusStore(redisClient, config.StatusTTL),
		config:    config,
		logger:    log,
	}
}

// Enqueue submits task under its process task id with a fresh run id. A
// second submission of the same id while the first is retained returns
// ErrTaskExists.
func (q *AsynqQueue) Enqueue(ctx context.Context, task models.IngestionTask) error {
	if task.SubmittedAt.IsZero() {
		task.SubmittedAt = time.Now()
	}
	if task.RunID == "" {
		task.RunID = uuid.NewString()
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	opts := []asynq.Option{
		asynq.Queue(q.config.QueueName),
		asynq.MaxRetry(q.config.MaxRetry),
		asynq.TaskID(task.ProcessTaskID),
	}
	if q.config.Timeout > 0 {
		opts = append(opts, asynq.Timeout(q.config.Timeout))
	}
	if q.config.Retention > 0 {
		opts = append(opts, asynq.Retention(q.config.Retention))
	}

	t := asynq.NewTask(TaskTypeDocumentProcess, payload, opts...)
	if _, err := q.client.EnqueueContext(ctx, t); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return fmt.Errorf("%w: %s", ErrTaskExists, task.ProcessTaskID)
		}
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	// the worker may already have picked the task up
	status := &models.TaskStatus{
		TaskID: task.ProcessTaskID,
		RunID:  task.RunID,
		Status: models.StatusPending,
	}
	if err := q.statuses.Init(ctx, status); err != nil {
		q.logger.Error("Failed to save initial status",
			logger.String("taskId", task.ProcessTaskID),
			logger.Error(err),
		)
	}

	q.logger.Info("Task enqueued",
		logger.String("taskId", task.ProcessTaskID),
		logger.String("queue", q.config.QueueName),
	)
	return nil
}

// GetTaskStatus prefers the status saved by the worker and falls back to asynq.
func (q *AsynqQueue) GetTaskStatus(ctx context.Context, taskID string) (*models.TaskStatus, error) {
	status, err := q.statuses.Get(ctx, taskID)
	if err == nil {
		return status, nil
	}
	if !errors.Is(err, ErrTaskNotFound) {
		return nil, err
	}

	info, err := q.inspector.GetTaskInfo(q.config.QueueName, taskID)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		return nil, fmt.Errorf("failed to inspect task: %w", err)
	}
	return convertAsynqStatus(info), nil
}

func (q *AsynqQueue) SaveStatus(ctx context.Context, status *models.TaskStatus) error {
	return q.statuses.Save(ctx, status)
}

func (q *AsynqQueue) Close() error {
	return errors.Join(q.client.Close(), q.inspector.Close(), q.statuses.Close())
}

// convertAsynqStatus maps an asynq task state to a task status.
func convertAsynqStatus(info *asynq.TaskInfo) *models.TaskStatus {
	status := &models.TaskStatus{TaskID: info.ID}

	switch info.State {
	case asynq.TaskStateActive:
		status.Status = models.StatusRunning
	case asynq.TaskStateCompleted:
		status.Status = models.StatusSuccess
		status.FinishedAt = info.CompletedAt
	case asynq.TaskStateArchived, asynq.TaskStateRetry:
		status.Status = models.StatusFailure
		status.Error = info.LastErr
		status.FinishedAt = info.LastFailedAt
	default:
		status.Status = models.StatusPending
	}

	if len(info.Result) > 0 {
		var summary models.IngestionSummary
		if err := json.Unmarshal(info.Result, &summary); err == nil {
			status.Result = &summary
		}
	}
	return status
}

// Statuses exposes the status store shared with workers.
func (q *AsynqQueue) Statuses() *StatusStore {
	return q.statuses
}
