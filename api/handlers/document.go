package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/document-ingestor/internal/models"
	"github.com/feichai0017/document-ingestor/internal/service/document"
	"github.com/feichai0017/document-ingestor/pkg/logger"
)

type DocumentHandler struct {
	service document.DocumentProcessor
	logger  logger.Logger
}

type ProcessDocumentRequest struct {
	ProcessTaskID string `json:"process_task_id"`
	FileURL       string `json:"file_url"`
	DBName        string `json:"db_name"`
}

func NewDocumentHandler(service document.DocumentProcessor, logger logger.Logger) *DocumentHandler {
	return &DocumentHandler{
		service: service,
		logger:  logger,
	}
}

// ProcessDocument accepts an ingestion task. Async mode answers 202 with
// the task id; sync mode answers 200 with the summary.
func (h *DocumentHandler) ProcessDocument(c *gin.Context) {
	var req ProcessDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, h.logger, http.StatusBadRequest, "Invalid JSON or missing request body", err)
		return
	}

	result, err := h.service.Submit(c.Request.Context(), models.IngestionTask{
		ProcessTaskID: req.ProcessTaskID,
		FileURL:       req.FileURL,
		DBName:        req.DBName,
	})
	if err != nil {
		handleError(c, h.logger, statusFor(err), "Failed to process document", err)
		return
	}

	status := http.StatusAccepted
	if result.Status == models.StatusSuccess {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

func (h *DocumentHandler) GetStatus(c *gin.Context) {
	taskID := c.Param("task_id")
	if taskID == "" {
		handleError(c, h.logger, http.StatusBadRequest, "Task ID is required", nil)
		return
	}

	status, err := h.service.GetProcessingStatus(c.Request.Context(), taskID)
	if err != nil {
		handleError(c, h.logger, statusFor(err), "Failed to get status", err)
		return
	}

	c.JSON(http.StatusOK, status)
}
