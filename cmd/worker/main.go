package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/feichai0017/document-ingestor/config"
	"github.com/feichai0017/document-ingestor/internal/app"
	"github.com/feichai0017/document-ingestor/pkg/logger"
	"github.com/feichai0017/document-ingestor/pkg/queue"
	"github.com/feichai0017/document-ingestor/pkg/storage"
	"github.com/feichai0017/document-ingestor/pkg/worker"
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
	log = log.Named("worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialise application", logger.Error(err))
		os.Exit(1)
	}
	defer a.Close()

	q := queue.NewFromConfig(cfg, log.Named("queue"))
	defer q.Close()

	documentWorker := worker.NewDocumentWorker(&worker.Config{
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		Concurrency:   cfg.Worker.Concurrency,
		QueueName:     cfg.Queue.Name,
	}, a.Ingestor, q.Statuses(), a.Store, log)

	if err := documentWorker.Start(ctx); err != nil {
		log.Error("Failed to start worker", logger.Error(err))
		os.Exit(1)
	}

	if a.Archive != nil && cfg.Ingest.ArchiveRetention > 0 {
		go storage.RunCleanup(ctx, a.Archive, cfg.Ingest.ArchiveRetention, time.Hour, log.Named("cleanup"))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down worker...")
	cancel()
	if err := documentWorker.Stop(); err != nil {
		log.Error("Worker stop failed", logger.Error(err))
	}
	log.Info("Worker stopped")
}
