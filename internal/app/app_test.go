package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfg "github.com/feichai0017/document-ingestor/config"
	"github.com/feichai0017/document-ingestor/pkg/logger"
	"github.com/feichai0017/document-ingestor/pkg/storage"
)

const tenantsYAML = `tenants:
  default:
    host: localhost
    user: postgres
    database: vectors
`

func testConfig(t *testing.T) *cfg.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tenants.yaml")
	require.NoError(t, os.WriteFile(path, []byte(tenantsYAML), 0o600))

	return &cfg.Config{
		Ingest: cfg.IngestConfig{
			Mode:             cfg.ModeSync,
			PagesPerRange:    10,
			MaxDownloadBytes: 1 << 20,
			FailurePolicy:    cfg.PolicyAbort,
		},
		Chunk:        cfg.ChunkConfig{MaxChars: 2000, Overlap: 200},
		Embedding:    cfg.EmbeddingConfig{Provider: cfg.ProviderOpenAI, BatchSize: 100},
		Generation:   cfg.GenerationConfig{Provider: cfg.ProviderOpenAI},
		Extractor:    cfg.ExtractorLocal,
		OpenAIAPIKey: "test-key",
		TenantsFile:  path,
	}
}

func TestNew_WiresComponents(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), logger.NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.NotNil(t, a.Ingestor)
	assert.NotNil(t, a.Query)
	assert.Nil(t, a.Archive)
	assert.True(t, a.Store.HasTenant("default"))
	assert.False(t, a.Store.HasTenant("field_job"))
}

func TestNew_MissingTenantsFile(t *testing.T) {
	c := testConfig(t)
	c.TenantsFile = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := New(context.Background(), c, logger.NewTestLogger())
	assert.ErrorContains(t, err, "failed to load tenants")
}

func TestMemoizedStorage_UnsupportedType(t *testing.T) {
	open := memoizedStorage(testConfig(t), logger.NewTestLogger())

	_, err := open(context.Background(), storage.StorageType("ftp"))
	assert.ErrorContains(t, err, "unsupported storage type")
}

func TestNewLogger(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "ingestor.log")
	log, err := NewLogger(cfg.LogConfig{Level: "debug", Encoding: "json", File: file})
	require.NoError(t, err)

	log.Info("hello")
	_ = log.Sync()
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"hello"`)

	_, err = NewLogger(cfg.LogConfig{Level: "loud", Encoding: "json"})
	assert.Error(t, err)
}
