package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/document-ingestor/internal/models"
	"github.com/feichai0017/document-ingestor/internal/service/document"
	"github.com/feichai0017/document-ingestor/internal/service/query"
	"github.com/feichai0017/document-ingestor/pkg/logger"
	"github.com/feichai0017/document-ingestor/pkg/queue"
)

// QueryAnswerer answers a question from a tenant's documents.
type QueryAnswerer interface {
	Answer(ctx context.Context, question, tenant string) (string, error)
}

type Handlers struct {
	Document *DocumentHandler
	Query    *QueryHandler
}

func NewHandlers(
	documentService document.DocumentProcessor,
	queryService QueryAnswerer,
	logger logger.Logger,
) *Handlers {
	return &Handlers{
		Document: NewDocumentHandler(documentService, logger),
		Query:    NewQueryHandler(queryService, logger),
	}
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case models.IsConfigurationError(err), errors.Is(err, query.ErrEmptyQuery):
		return http.StatusBadRequest
	case errors.Is(err, queue.ErrTaskExists):
		return http.StatusConflict
	case errors.Is(err, queue.ErrTaskNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func handleError(c *gin.Context, log logger.Logger, status int, message string, err error) {
	fields := []logger.Field{
		logger.String("path", c.Request.URL.Path),
		logger.Int("status", status),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	if status >= http.StatusInternalServerError {
		log.Error(message, fields...)
	} else {
		log.Warn(message, fields...)
	}

	response := ErrorResponse{
		Message: message,
	}
	if err != nil {
		response.Error = err.Error()
	}

	c.JSON(status, response)
}
