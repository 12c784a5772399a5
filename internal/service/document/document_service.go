package document

import (
	"context"

	"github.com/feichai0017/document-ingestor/internal/models"
)

// SubmitResult is returned when a task is accepted (async) or finished (sync).
type SubmitResult struct {
	Status models.ProcessingStatus  `json:"status"`
	TaskID string                   `json:"task_id"`
	Result *models.IngestionSummary `json:"result,omitempty"`
}

type DocumentProcessor interface {
	Submit(ctx context.Context, task models.IngestionTask) (*SubmitResult, error)
	GetProcessingStatus(ctx context.Context, taskID string) (*models.TaskStatus, error)
}
