package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/document-ingestor/internal/models"
)

const defaultStatusTTL = 24 * time.Hour

func statusKey(taskID string) string {
	return fmt.Sprintf("task_status:%s", taskID)
}

// StatusStore keeps task statuses in Redis.
type StatusStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewStatusStore(client *redis.Client, ttl time.Duration) *StatusStore {
	if ttl <= 0 {
		ttl = defaultStatusTTL
	}
	return &StatusStore{redis: client, ttl: ttl}
}

func (s *StatusStore) Save(ctx context.Context, status *models.TaskStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	if err := s.redis.Set(ctx, statusKey(status.TaskID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save status: %w", err)
	}
	return nil
}

// Init saves the initial status of a run unless the worker has already
// written a status for the same run.
func (s *StatusStore) Init(ctx context.Context, status *models.TaskStatus) error {
	key := statusKey(status.TaskID)
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var existing models.TaskStatus
			if json.Unmarshal(current, &existing) == nil && existing.RunID == status.RunID {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}, key)
	// only the worker of this run writes the key concurrently
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to init status: %w", err)
	}
	return nil
}

// Get returns ErrTaskNotFound when no status was saved for taskID.
func (s *StatusStore) Get(ctx context.Context, taskID string) (*models.TaskStatus, error) {
	data, err := s.redis.Get(ctx, statusKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get status from redis: %w", err)
	}

	var status models.TaskStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status: %w", err)
	}
	return &status, nil
}

// Update applies fn to the saved status of taskID, starting from an empty
// status when none exists.
func (s *StatusStore) Update(ctx context.Context, taskID string, fn func(*models.TaskStatus)) error {
	status, err := s.Get(ctx, taskID)
	if errors.Is(err, ErrTaskNotFound) {
		status = &models.TaskStatus{TaskID: taskID, Status: models.StatusPending}
	} else if err != nil {
		return err
	}
	fn(status)
	return s.Save(ctx, status)
}

func (s *StatusStore) Close() error {
	return s.redis.Close()
}
