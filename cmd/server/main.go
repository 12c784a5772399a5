package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/document-ingestor/api/handlers"
	"github.com/feichai0017/document-ingestor/api/routes"
	"github.com/feichai0017/document-ingestor/config"
	"github.com/feichai0017/document-ingestor/internal/app"
	"github.com/feichai0017/document-ingestor/internal/service/document"
	"github.com/feichai0017/document-ingestor/pkg/logger"
	"github.com/feichai0017/document-ingestor/pkg/queue"
)

func main() {
	cfg, err := config.Get()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := app.NewLogger(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log = log.Named("server")

	ctx := context.Background()
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialise application", logger.Error(err))
	}
	defer a.Close()

	// sync mode never touches Redis
	var docService *document.DocumentService
	switch cfg.Ingest.Mode {
	case config.ModeSync:
		docService = document.NewSyncService(a.Ingestor, a.Store, log.Named("document"), cfg.Queue.StatusTTL)
	default:
		q := queue.NewFromConfig(cfg, log.Named("queue"))
		defer q.Close()
		docService = document.NewAsyncService(q, a.Store, log.Named("document"))
	}

	h := handlers.NewHandlers(docService, a.Query, log)
	gin.SetMode(cfg.Server.GinMode)
	r := gin.New()
	r.Use(gin.Recovery())
	routes.SetupRoutes(r, h, cfg.Server.CORSOrigins)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("Server starting",
			logger.Int("port", cfg.Server.Port),
			logger.String("mode", cfg.Ingest.Mode),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}
}
