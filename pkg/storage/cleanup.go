package storage

import (
	"context"
	"time"

	"github.com/feichai0017/document-ingestor/pkg/logger"
)

// RunCleanup removes objects older than retention from s every interval
// until ctx is cancelled. The first sweep runs immediately.
func RunCleanup(ctx context.Context, s Storage, retention, interval time.Duration, log logger.Logger) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		threshold := time.Now().Add(-retention)
		if err := s.CleanupBefore(ctx, threshold); err != nil {
			log.Error("Storage cleanup failed",
				logger.String("bucket", s.Bucket()),
				logger.Error(err),
			)
		} else {
			log.Debug("Storage cleanup completed",
				logger.String("bucket", s.Bucket()),
				logger.Time("threshold", threshold),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
