package models

import (
	"fmt"
	"time"
)

const (
	// EmbeddingDimension is the fixed vector length of every stored embedding.
	EmbeddingDimension = 768

	// DefaultTenant is used when a request does not name a database.
	DefaultTenant = "default"

	// SummaryTextLimit bounds the extracted text echoed back in a summary.
	SummaryTextLimit = 2000
)

// IngestionTask is one document-ingestion request.
type IngestionTask struct {
	ProcessTaskID string    `json:"process_task_id"`
	FileURL       string    `json:"file_url"`
	DBName        string    `json:"db_name"`
	SubmittedAt   time.Time `json:"submitted_at"`
	// RunID distinguishes submissions that reuse a ProcessTaskID.
	RunID         string    `json:"run_id,omitempty"`
}

// PageRange is a half-open [Start, End) span of 0-based page indices.
type PageRange struct {
	Start int `json:"page_start"`
	End   int `json:"page_end"`
}

// Len returns the number of pages in the range.
func (r PageRange) Len() int {
	return r.End - r.Start
}

func (r PageRange) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

// IngestionSummary is the outcome reported for a successful task.
type IngestionSummary struct {
	Text              string `json:"text"`
	ChunksCreated     int    `json:"chunks_created"`
	EmbeddingsCreated int    `json:"embeddings_created"`
	Pages             int    `json:"pages"`
	Ranges            int    `json:"ranges"`
	StoredRecords     int    `json:"stored_records"`
	Verified          bool   `json:"verified"`
}

// Stage names a step of the ingestion state machine.
type Stage string

const (
	StageFetching       Stage = "fetching"
	StageSplitting      Stage = "splitting"
	StageExtracting     Stage = "extracting"
	StageChunking       Stage = "chunking"
	StageEmbedding      Stage = "embedding"
	StageSchemaEnsuring Stage = "schema_ensuring"
	StageInserting      Stage = "inserting"
	StageVerifying      Stage = "verifying"
	StageDone           Stage = "done"
	StageFailed         Stage = "failed"
)

type ProcessingStatus string

const (
	StatusPending ProcessingStatus = "pending"
	StatusRunning ProcessingStatus = "running"
	StatusSuccess ProcessingStatus = "success"
	StatusFailure ProcessingStatus = "failure"
)

// TaskStatus is what callers see when polling a submitted task.
type TaskStatus struct {
	TaskID     string            `json:"task_id"`
	RunID      string            `json:"run_id,omitempty"`
	Status     ProcessingStatus  `json:"status"`
	Stage      Stage             `json:"stage,omitempty"`
	Result     *IngestionSummary `json:"result,omitempty"`
	Error      string            `json:"error,omitempty"`
	StartedAt  time.Time         `json:"started_at,omitempty"`
	FinishedAt time.Time         `json:"finished_at,omitempty"`
}
