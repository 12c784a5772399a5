package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/singleflight"

	"github.com/feichai0017/document-ingestor/internal/models"
	"github.com/feichai0017/document-ingestor/pkg/logger"
)

var (
	ErrLengthMismatch    = errors.New("chunk and vector counts differ")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

const (
	insertSQL = `INSERT INTO document_embeddings (id, process_task_id, chunk_index, text_chunk, embedding, data)
VALUES ($1, $2, $3, $4, $5, $6)`

	// no tiebreaker: adding one would keep the planner off the HNSW index
	searchSQL = `SELECT id, process_task_id, chunk_index, text_chunk, embedding <=> $1 AS distance
FROM document_embeddings
ORDER BY embedding <=> $1
LIMIT $2`

	countByTaskSQL  = `SELECT COUNT(*) FROM document_embeddings WHERE process_task_id = $1`
	deleteByTaskSQL = `DELETE FROM document_embeddings WHERE process_task_id = $1`
)

// Batch is the output of one page range, stored atomically.
type Batch struct {
	TaskID string
	// BaseIndex is the chunk_index of the first chunk.
	BaseIndex int
	Pages     models.PageRange
	Chunks    []string
	Vectors   [][]float32
}

// Match is one search hit, nearest first.
type Match struct {
	ID         string  `json:"id"`
	TaskID     string  `json:"process_task_id"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text_chunk"`
	Distance   float64 `json:"distance"`
}

// Store persists chunk embeddings in each tenant's pgvector database.
type Store struct {
	registry *Registry
	logger   logger.Logger

	group   singleflight.Group
	mu      sync.Mutex
	ensured map[string]bool
}

func NewStore(registry *Registry, log logger.Logger) *Store {
	return &Store{
		registry: registry,
		logger:   log,
		ensured:  make(map[string]bool),
	}
}

// HasTenant reports whether tenant is configured.
func (s *Store) HasTenant(tenant string) bool {
	return s.registry.Has(tenant)
}

// EnsureSchema provisions the table and indexes of tenant. Concurrent callers
// for the same tenant share one provisioning run.
func (s *Store) EnsureSchema(ctx context.Context, tenant string) error {
	s.mu.Lock()
	done := s.ensured[tenant]
	s.mu.Unlock()
	if done {
		return nil
	}

	// the shared run outlives any single caller's cancellation
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(tenant, func() (any, error) {
		db, err := s.registry.DB(tenant)
		if err != nil {
			return nil, err
		}
		if err := provision(shared, db); err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.ensured[tenant] = true
		s.mu.Unlock()

		s.logger.Info("Vector schema ready", logger.String("tenant", tenant))
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InsertBatch writes all rows of b in one transaction and returns the number
// inserted. On any error nothing from b is persisted.
func (s *Store) InsertBatch(ctx context.Context, tenant string, b Batch) (n int, err error) {
	if len(b.Chunks) != len(b.Vectors) {
		return 0, fmt.Errorf("%w: %w: %d chunks, %d vectors",
			models.ErrInsertFailed, ErrLengthMismatch, len(b.Chunks), len(b.Vectors))
	}
	for i, v := range b.Vectors {
		if len(v) != models.EmbeddingDimension {
			return 0, fmt.Errorf("%w: %w: vector %d has %d components",
				models.ErrInsertFailed, ErrDimensionMismatch, i, len(v))
		}
	}
	if len(b.Chunks) == 0 {
		return 0, nil
	}

	db, err := s.registry.DB(tenant)
	if err != nil {
		return 0, err
	}

	data, err := json.Marshal(b.Pages)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", models.ErrInsertFailed, err)
	}
	provenance := string(data)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to begin transaction: %w", models.ErrInsertFailed, err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Error("Failed to roll back insert",
					logger.String("tenant", tenant),
					logger.String("taskId", b.TaskID),
					logger.Error(rbErr),
				)
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to prepare insert: %w", models.ErrInsertFailed, err)
	}
	defer stmt.Close()

	for i, chunk := range b.Chunks {
		if _, err = stmt.ExecContext(ctx,
			uuid.New(),
			b.TaskID,
			b.BaseIndex+i,
			chunk,
			pgvector.NewVector(b.Vectors[i]),
			provenance,
		); err != nil {
			return 0, fmt.Errorf("%w: chunk %d: %w", models.ErrInsertFailed, b.BaseIndex+i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: failed to commit: %w", models.ErrInsertFailed, err)
	}

	s.logger.Info("Inserted embeddings",
		logger.String("tenant", tenant),
		logger.String("taskId", b.TaskID),
		logger.Int("baseIndex", b.BaseIndex),
		logger.Int("count", len(b.Chunks)),
	)
	return len(b.Chunks), nil
}

// Search returns up to k stored chunks ordered by ascending cosine distance.
// Ties are returned in whatever order the index yields them.
func (s *Store) Search(ctx context.Context, tenant string, query []float32, k int) ([]Match, error) {
	if len(query) != models.EmbeddingDimension {
		return nil, fmt.Errorf("%w: query has %d components", ErrDimensionMismatch, len(query))
	}
	if k <= 0 {
		return []Match{}, nil
	}

	db, err := s.registry.DB(tenant)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, searchSQL, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("failed to search embeddings: %w", err)
	}
	defer rows.Close()

	matches := make([]Match, 0, k)
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.TaskID, &m.ChunkIndex, &m.Text, &m.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate matches: %w", err)
	}
	return matches, nil
}

// CountByTask returns the number of stored records of a task.
func (s *Store) CountByTask(ctx context.Context, tenant, taskID string) (int, error) {
	db, err := s.registry.DB(tenant)
	if err != nil {
		return 0, err
	}

	var count int
	if err := db.QueryRowContext(ctx, countByTaskSQL, taskID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// DeleteByTask removes every record of a task and returns how many were removed.
func (s *Store) DeleteByTask(ctx context.Context, tenant, taskID string) (int64, error) {
	db, err := s.registry.DB(tenant)
	if err != nil {
		return 0, err
	}

	res, err := db.ExecContext(ctx, deleteByTaskSQL, taskID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete records: %w", err)
	}
	return res.RowsAffected()
}

// CloseAll closes every tenant pool and forgets provisioned schemas.
func (s *Store) CloseAll() error {
	s.mu.Lock()
	s.ensured = make(map[string]bool)
	s.mu.Unlock()

	return s.registry.CloseAll()
}
