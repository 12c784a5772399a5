package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/document-ingestor/pkg/logger"
)

type QueryHandler struct {
	service QueryAnswerer
	logger  logger.Logger
}

type QueryRequest struct {
	Query  string `json:"query"`
	DBName string `json:"db_name"`
}

func NewQueryHandler(service QueryAnswerer, logger logger.Logger) *QueryHandler {
	return &QueryHandler{
		service: service,
		logger:  logger,
	}
}

func (h *QueryHandler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, h.logger, http.StatusBadRequest, "Invalid JSON or missing request body", err)
		return
	}

	answer, err := h.service.Answer(c.Request.Context(), req.Query, req.DBName)
	if err != nil {
		handleError(c, h.logger, statusFor(err), "Failed to answer query", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": answer})
}
