package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/document-ingestor/internal/models"
	"github.com/feichai0017/document-ingestor/internal/service/document"
	"github.com/feichai0017/document-ingestor/pkg/logger"
	"github.com/feichai0017/document-ingestor/pkg/queue"
)

// Ingester runs one ingestion task.
type Ingester interface {
	Ingest(ctx context.Context, task models.IngestionTask, reporter document.StageReporter) (*models.IngestionSummary, error)
}

// StatusUpdater applies a change to the saved status of a task.
type StatusUpdater interface {
	Update(ctx context.Context, taskID string, fn func(*models.TaskStatus)) error
}

// ConnectionCloser releases tenant connections after each task.
type ConnectionCloser interface {
	CloseAll() error
}

type DocumentWorker struct {
	BaseWorker
	ingester Ingester
	statuses StatusUpdater
	conns    ConnectionCloser

	mu     sync.Mutex
	active int
}

func NewDocumentWorker(cfg *Config, ingester Ingester, statuses StatusUpdater, conns ConnectionCloser, log logger.Logger) *DocumentWorker {
	w := &DocumentWorker{
		BaseWorker: BaseWorker{
			server: newServer(cfg, log),
			mux:    asynq.NewServeMux(),
			logger: log,
		},
		ingester: ingester,
		statuses: statuses,
		conns:    conns,
	}

	w.registerHandlers()
	return w
}

func (w *DocumentWorker) registerHandlers() {
	w.mux.HandleFunc(queue.TaskTypeDocumentProcess, w.handleDocumentProcess)
}

func (w *DocumentWorker) handleDocumentProcess(ctx context.Context, t *asynq.Task) error {
	var task models.IngestionTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		w.logger.Error("Failed to unmarshal task",
			logger.Error(err),
			logger.String("payload", string(t.Payload())),
		)
		return fmt.Errorf("failed to unmarshal task: %v: %w", err, asynq.SkipRetry)
	}
	if task.ProcessTaskID == "" {
		return fmt.Errorf("invalid task data: missing process task id: %w", asynq.SkipRetry)
	}

	log := w.logger.With(logger.String("taskId", task.ProcessTaskID))
	log.Info("Processing document task",
		logger.String("fileUrl", task.FileURL),
		logger.String("tenant", task.DBName),
	)

	w.begin()
	defer w.end(log)

	w.update(ctx, task.ProcessTaskID, func(s *models.TaskStatus) {
		s.RunID = task.RunID
		s.Status = models.StatusRunning
		s.Stage = ""
		s.StartedAt = time.Now()
		s.FinishedAt = time.Time{}
		s.Error = ""
		s.Result = nil
	})

	summary, err := w.ingester.Ingest(ctx, task, stageReporter{w})
	if err != nil {
		w.update(context.WithoutCancel(ctx), task.ProcessTaskID, func(s *models.TaskStatus) {
			s.Status = models.StatusFailure
			s.Error = err.Error()
			s.FinishedAt = time.Now()
		})
		if models.IsConfigurationError(err) || errors.Is(err, models.ErrInvalidDocument) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}

	if rw := t.ResultWriter(); rw != nil {
		if data, err := json.Marshal(summary); err == nil {
			if _, err := rw.Write(data); err != nil {
				log.Error("Failed to write task result", logger.Error(err))
			}
		}
	}

	w.update(ctx, task.ProcessTaskID, func(s *models.TaskStatus) {
		s.Status = models.StatusSuccess
		s.Result = summary
		s.FinishedAt = time.Now()
	})
	return nil
}

func (w *DocumentWorker) begin() {
	w.mu.Lock()
	w.active++
	w.mu.Unlock()
}

// end releases tenant connections once no task is running.
func (w *DocumentWorker) end(log logger.Logger) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.active--
	if w.active > 0 {
		return
	}
	if err := w.conns.CloseAll(); err != nil {
		log.Warn("Failed to close tenant connections", logger.Error(err))
	}
}

func (w *DocumentWorker) update(ctx context.Context, taskID string, fn func(*models.TaskStatus)) {
	if err := w.statuses.Update(ctx, taskID, fn); err != nil {
		w.logger.Error("Failed to save task status",
			logger.String("taskId", taskID),
			logger.Error(err),
		)
	}
}

// stageReporter records the current stage in the task status.
type stageReporter struct {
	w *DocumentWorker
}

func (r stageReporter) ReportStage(ctx context.Context, taskID string, stage models.Stage) {
	r.w.update(ctx, taskID, func(s *models.TaskStatus) {
		s.Stage = stage
	})
}
