package document

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/feichai0017/document-ingestor/internal/models"
	"github.com/feichai0017/document-ingestor/pkg/logger"
	"github.com/feichai0017/document-ingestor/pkg/queue"
)

type Mode string

const (
	ModeAsync Mode = "async"
	ModeSync  Mode = "sync"
)

// TenantChecker reports whether a tenant is configured.
type TenantChecker interface {
	HasTenant(tenant string) bool
}

type DocumentService struct {
	mode     Mode
	queue    queue.Queue
	ingestor *Ingestor
	tenants  TenantChecker
	logger   logger.Logger

	// sync mode keeps statuses in process for retention after they finish
	mu        sync.Mutex
	statuses  map[string]*models.TaskStatus
	retention time.Duration
	now       func() time.Time
}

const defaultStatusRetention = 24 * time.Hour

// NewAsyncService enqueues tasks for workers.
func NewAsyncService(q queue.Queue, tenants TenantChecker, log logger.Logger) *DocumentService {
	return &DocumentService{
		mode:    ModeAsync,
		queue:   q,
		tenants: tenants,
		logger:  log,
	}
}

// NewSyncService runs tasks inside the calling request. Finished statuses
// are dropped after retention (24h when zero).
func NewSyncService(ingestor *Ingestor, tenants TenantChecker, log logger.Logger, retention time.Duration) *DocumentService {
	if retention <= 0 {
		retention = defaultStatusRetention
	}
	return &DocumentService{
		mode:      ModeSync,
		ingestor:  ingestor,
		tenants:   tenants,
		logger:    log,
		statuses:  make(map[string]*models.TaskStatus),
		retention: retention,
		now:       time.Now,
	}
}

func (s *DocumentService) Submit(ctx context.Context, task models.IngestionTask) (*SubmitResult, error) {
	task.ProcessTaskID = strings.TrimSpace(task.ProcessTaskID)
	task.FileURL = strings.TrimSpace(task.FileURL)
	if task.DBName == "" {
		task.DBName = models.DefaultTenant
	}

	if task.ProcessTaskID == "" {
		return nil, fmt.Errorf("%w: process_task_id is required", models.ErrInvalidOptions)
	}
	if task.FileURL == "" {
		return nil, fmt.Errorf("%w: file_url is required", models.ErrInvalidOptions)
	}
	if !s.tenants.HasTenant(task.DBName) {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownTenant, task.DBName)
	}
	task.SubmittedAt = time.Now()

	if s.mode == ModeSync {
		return s.runSync(ctx, task)
	}

	if err := s.queue.Enqueue(ctx, task); err != nil {
		s.logger.Error("Failed to enqueue task",
			logger.String("taskId", task.ProcessTaskID),
			logger.Error(err),
		)
		return nil, err
	}

	return &SubmitResult{Status: models.StatusPending, TaskID: task.ProcessTaskID}, nil
}

func (s *DocumentService) runSync(ctx context.Context, task models.IngestionTask) (*SubmitResult, error) {
	s.mu.Lock()
	s.evictLocked()
	if existing, ok := s.statuses[task.ProcessTaskID]; ok && existing.Status == models.StatusRunning {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", queue.ErrTaskExists, task.ProcessTaskID)
	}
	status := &models.TaskStatus{
		TaskID:    task.ProcessTaskID,
		Status:    models.StatusRunning,
		StartedAt: s.now(),
	}
	s.statuses[task.ProcessTaskID] = status
	s.mu.Unlock()

	summary, err := s.ingestor.Ingest(ctx, task, s)

	s.mu.Lock()
	defer s.mu.Unlock()
	status.FinishedAt = s.now()
	if err != nil {
		status.Status = models.StatusFailure
		status.Error = err.Error()
		return nil, err
	}
	status.Status = models.StatusSuccess
	status.Result = summary

	return &SubmitResult{Status: models.StatusSuccess, TaskID: task.ProcessTaskID, Result: summary}, nil
}

// ReportStage records the stage of a task running in sync mode.
func (s *DocumentService) ReportStage(_ context.Context, taskID string, stage models.Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status, ok := s.statuses[taskID]; ok {
		status.Stage = stage
	}
}

func (s *DocumentService) GetProcessingStatus(ctx context.Context, taskID string) (*models.TaskStatus, error) {
	if s.mode == ModeSync {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.evictLocked()
		status, ok := s.statuses[taskID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", queue.ErrTaskNotFound, taskID)
		}
		cp := *status
		return &cp, nil
	}

	return s.queue.GetTaskStatus(ctx, taskID)
}

// evictLocked drops finished statuses older than the retention. Callers hold s.mu.
func (s *DocumentService) evictLocked() {
	cutoff := s.now().Add(-s.retention)
	for id, status := range s.statuses {
		if status.Status != models.StatusRunning && status.FinishedAt.Before(cutoff) {
			delete(s.statuses, id)
		}
	}
}
