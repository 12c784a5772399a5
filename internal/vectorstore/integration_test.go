//go:build integration

package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	cfg "github.com/feichai0017/document-ingestor/config"
	"github.com/feichai0017/document-ingestor/internal/models"
	"github.com/feichai0017/document-ingestor/pkg/logger"
)

func startPgvector(t *testing.T) *Store {
	t.Helper()
	return newPgvectorStore(t, startContainer(t))
}

// startContainer runs pgvector and returns its connection string.
func startContainer(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("vectors"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}

// newPgvectorStore opens a Store with its own registry, like a separate process.
func newPgvectorStore(t *testing.T, connStr string) *Store {
	t.Helper()
	tenants := cfg.Tenants{"default": {Host: "container", User: "test", Database: "vectors"}}
	registry := NewRegistry(tenants, logger.NewTestLogger(), WithOpener(func(cfg.TenantConfig) (*sql.DB, error) {
		return sql.Open("postgres", connStr)
	}))
	store := NewStore(registry, logger.NewTestLogger())
	t.Cleanup(func() { _ = store.CloseAll() })
	return store
}

// axis returns a vector whose cosine distance to axis(0) grows with angle.
func axis(angle float32) []float32 {
	v := make([]float32, models.EmbeddingDimension)
	v[0] = 1
	v[1] = angle
	return v
}

func TestIntegration_EnsureSchemaConcurrent(t *testing.T) {
	store := startPgvector(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.EnsureSchema(ctx, "default")
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}

	// a second process sees the existing index
	require.NoError(t, store.CloseAll())
	require.NoError(t, store.EnsureSchema(ctx, "default"))

	db, err := store.registry.DB("default")
	require.NoError(t, err)
	var indexes int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pg_indexes WHERE indexname = $1`, vectorIndexName).Scan(&indexes))
	assert.Equal(t, 1, indexes)
}

func TestIntegration_EnsureSchemaAcrossStores(t *testing.T) {
	connStr := startContainer(t)
	stores := make([]*Store, 4)
	for i := range stores {
		stores[i] = newPgvectorStore(t, connStr)
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, len(stores)*2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = stores[i%len(stores)].EnsureSchema(ctx, "default")
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}

	db, err := stores[0].registry.DB("default")
	require.NoError(t, err)
	var indexes int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pg_indexes WHERE indexname = $1`, vectorIndexName).Scan(&indexes))
	assert.Equal(t, 1, indexes)
}

func TestIntegration_InsertAndSearch(t *testing.T) {
	store := startPgvector(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureSchema(ctx, "default"))

	chunks := make([]string, 5)
	vectors := make([][]float32, 5)
	for i := range chunks {
		chunks[i] = fmt.Sprintf("chunk %d", i)
		vectors[i] = axis(float32(i))
	}

	n, err := store.InsertBatch(ctx, "default", Batch{
		TaskID:  "task-1",
		Pages:   models.PageRange{Start: 0, End: 10},
		Chunks:  chunks,
		Vectors: vectors,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	matches, err := store.Search(ctx, "default", axis(0), 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "chunk 0", matches[0].Text)
	assert.Equal(t, "chunk 1", matches[1].Text)
	assert.Equal(t, "chunk 2", matches[2].Text)
	for i := 1; i < len(matches); i++ {
		assert.LessOrEqual(t, matches[i-1].Distance, matches[i].Distance)
	}

	count, err := store.CountByTask(ctx, "default", "task-1")
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	deleted, err := store.DeleteByTask(ctx, "default", "task-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), deleted)
}

func TestIntegration_InsertBatchAtomic(t *testing.T) {
	store := startPgvector(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureSchema(ctx, "default"))

	// postgres rejects NUL bytes in TEXT, failing the third row
	_, err := store.InsertBatch(ctx, "default", Batch{
		TaskID:  "task-bad",
		Chunks:  []string{"one", "two", "bad\x00row"},
		Vectors: [][]float32{axis(0), axis(1), axis(2)},
	})
	require.ErrorIs(t, err, models.ErrInsertFailed)

	count, err := store.CountByTask(ctx, "default", "task-bad")
	require.NoError(t, err)
	assert.Zero(t, count)
}
