package vectorstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/feichai0017/document-ingestor/internal/models"
)

const (
	tableName       = "document_embeddings"
	vectorIndexName = "documentembedding_embedding_idx"

	// schemaLockKey serializes schema provisioning across processes.
	schemaLockKey int64 = 0x646f6365
)

var (
	createTableSQL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id UUID PRIMARY KEY,
	process_task_id TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	text_chunk TEXT NOT NULL,
	embedding vector(%d) NOT NULL,
	data TEXT
)`, tableName, models.EmbeddingDimension)

	createTaskIndexSQL = fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s_process_task_id_idx ON %s (process_task_id)`, tableName, tableName)

	createVectorIndexSQL = fmt.Sprintf(
		`CREATE INDEX %s ON %s USING hnsw (embedding vector_cosine_ops)`, vectorIndexName, tableName)
)

const (
	advisoryLockSQL    = `SELECT pg_advisory_xact_lock($1)`
	createExtensionSQL = `CREATE EXTENSION IF NOT EXISTS vector`
	indexExistsSQL     = `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE schemaname = current_schema() AND tablename = $1 AND indexname = $2)`
)

// provision creates the extension, table and indexes in one transaction.
func provision(ctx context.Context, db *sql.DB) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, advisoryLockSQL, schemaLockKey); err != nil {
		return fmt.Errorf("failed to acquire schema lock: %w", err)
	}

	for _, stmt := range []string{createExtensionSQL, createTableSQL, createTaskIndexSQL} {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to provision schema: %w", err)
		}
	}

	var exists bool
	if err = tx.QueryRowContext(ctx, indexExistsSQL, tableName, vectorIndexName).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check vector index: %w", err)
	}
	if !exists {
		if _, err = tx.ExecContext(ctx, createVectorIndexSQL); err != nil {
			return fmt.Errorf("failed to create vector index: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}
	return nil
}
