package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/feichai0017/document-ingestor/api/handlers"
	"github.com/feichai0017/document-ingestor/api/middleware"
)

// SetupRoutes registers every endpoint on r.
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, corsOrigins []string) {
	r.Use(middleware.CORS(corsOrigins))

	r.GET("/health", handlers.Health)

	r.POST("/process-document", h.Document.ProcessDocument)
	r.GET("/task-status/:task_id", h.Document.GetStatus)
	r.POST("/query", h.Query.Query)
}
