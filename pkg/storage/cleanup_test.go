package storage

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/feichai0017/document-ingestor/pkg/logger"
)

type sweepRecorder struct {
	mu         sync.Mutex
	thresholds []time.Time
	err        error
}

func (s *sweepRecorder) Store(context.Context, io.Reader, string) (string, error) { return "", nil }
func (s *sweepRecorder) Delete(context.Context, string) error                     { return nil }
func (s *sweepRecorder) Bucket() string                                           { return "documents" }

func (s *sweepRecorder) CleanupBefore(_ context.Context, threshold time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thresholds = append(s.thresholds, threshold)
	return s.err
}

func (s *sweepRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.thresholds)
}

func TestRunCleanup(t *testing.T) {
	rec := &sweepRecorder{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		RunCleanup(ctx, rec, 24*time.Hour, 10*time.Millisecond, logger.NewTestLogger())
		close(done)
	}()

	assert.Eventually(t, func() bool { return rec.count() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	rec.mu.Lock()
	first := rec.thresholds[0]
	rec.mu.Unlock()
	assert.WithinDuration(t, time.Now().Add(-24*time.Hour), first, time.Minute)
}

func TestRunCleanup_LogsFailures(t *testing.T) {
	rec := &sweepRecorder{err: errors.New("list denied")}
	log := logger.NewTestLogger()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	RunCleanup(ctx, rec, time.Hour, time.Hour, log)

	assert.Equal(t, 1, rec.count())
	assert.True(t, log.HasEntry("ERROR", "Storage cleanup failed"))
}
