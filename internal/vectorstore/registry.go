package vectorstore

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"

	cfg "github.com/feichai0017/document-ingestor/config"
	"github.com/feichai0017/document-ingestor/internal/models"
	"github.com/feichai0017/document-ingestor/pkg/logger"
)

// Opener creates the connection pool of one tenant.
type Opener func(tenant cfg.TenantConfig) (*sql.DB, error)

// OpenPostgres opens a lib/pq pool. No connection is made until first use.
func OpenPostgres(tenant cfg.TenantConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", tenant.DSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// Registry maps tenant names to lazily opened connection pools.
type Registry struct {
	mu      sync.Mutex
	tenants cfg.Tenants
	open    Opener
	conns   map[string]*sql.DB
	logger  logger.Logger
}

type RegistryOption func(*Registry)

func WithOpener(open Opener) RegistryOption {
	return func(r *Registry) {
		r.open = open
	}
}

func NewRegistry(tenants cfg.Tenants, log logger.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		tenants: tenants,
		open:    OpenPostgres,
		conns:   make(map[string]*sql.DB),
		logger:  log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Has reports whether tenant is configured.
func (r *Registry) Has(tenant string) bool {
	_, ok := r.tenants[tenant]
	return ok
}

// DB returns the pool for tenant, opening it on first use.
func (r *Registry) DB(tenant string) (*sql.DB, error) {
	tc, ok := r.tenants[tenant]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownTenant, tenant)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if db, ok := r.conns[tenant]; ok {
		return db, nil
	}

	db, err := r.open(tc)
	if err != nil {
		return nil, fmt.Errorf("failed to open database for tenant %q: %w", tenant, err)
	}
	r.conns[tenant] = db

	r.logger.Info("Opened tenant database",
		logger.String("tenant", tenant),
		logger.String("host", tc.Host),
		logger.String("database", tc.Database),
	)
	return db, nil
}

// CloseAll closes every open pool. Pools are reopened on the next DB call.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*sql.DB)
	r.mu.Unlock()

	var errs []error
	for name, db := range conns {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tenant %q: %w", name, err))
		}
	}
	if len(conns) > 0 {
		r.logger.Debug("Closed tenant databases", logger.Int("count", len(conns)))
	}
	return errors.Join(errs...)
}
