package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"crvs/internal/platform/config"
	"crvs/internal/platform/database"
	"crvs/internal/platform/logger"
	platformredis "crvs/internal/platform/redis"
	"crvs/internal/search"
	"crvs/internal/workflow/service"
	wfstore "crvs/internal/workflow/store"
	audit "crvs/pkg/platform/audit"
	"crvs/pkg/platform/audit/publisher"
	auditmemory "crvs/pkg/platform/audit/store/memory"
	auditpostgres "crvs/pkg/platform/audit/store/postgres"
	"crvs/pkg/platform/circuit"
)

// Env is how commands reach configuration and backends.
type Env struct {
	Config func() (config.Server, error)
	Open   Opener
}

// Opener connects the backends named by cfg.
type Opener func(ctx context.Context, cfg config.Server) (*Backends, error)

// Backends are the connected stores a command works against.
type Backends struct {
	DB      *sql.DB // nil without DATABASE_URL
	Records *service.Service
	Stale   search.StaleSet
	Store   string
	Index   string

	closers []func()
}

func (b *Backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// DefaultEnv reads the same environment variables as the server.
func DefaultEnv() Env {
	return Env{Config: config.FromEnv, Open: OpenBackends}
}

// OpenBackends mirrors the server's backend selection. Logs go to stderr so
// --format json output stays parseable.
func OpenBackends(ctx context.Context, cfg config.Server) (b *Backends, err error) {
	log := logger.NewWithWriter(cfg.Log, os.Stderr)
	b = &Backends{Store: "memory", Index: "memory"}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	var (
		store      service.Store  = wfstore.NewInMemoryStore()
		auditStore audit.Store    = auditmemory.NewInMemoryStore()
		index      search.Indexer = search.NewMemoryIndex()
	)
	b.Stale = search.NewMemoryStaleSet()

	if cfg.DB.URL != "" {
		db, err := database.Open(ctx, database.Config{
			URL:             cfg.DB.URL,
			MaxOpenConns:    2,
			ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
		})
		if err != nil {
			return b, err
		}
		b.closers = append(b.closers, func() { _ = db.Close() })
		b.DB = db
		b.Stale = search.NewPostgresStaleSet(db)
		store = wfstore.NewPostgres(db)
		auditStore = auditpostgres.New(db)
		b.Store = "postgres"
	}

	rc, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return b, err
	}
	if rc != nil {
		b.closers = append(b.closers, func() { _ = rc.Close() })
		index = search.NewRedisIndex(rc.Client)
		b.Index = "redis"
	}

	breaker := circuit.New("search-index",
		circuit.WithFailureThreshold(cfg.Index.FailureThreshold),
		circuit.WithSuccessThreshold(cfg.Index.SuccessThreshold),
	)
	b.Records = service.New(store,
		publisher.NewPublisher(auditStore, publisher.WithLogger(log)),
		search.NewGuardedIndexer(index, b.Stale, breaker, search.WithGuardLogger(log)),
		service.WithLogger(log),
	)
	return b, nil
}

func (o *RootOptions) backends(cmd *cobra.Command) (*Backends, error) {
	ctx := cmd.Context()
	cfg, err := o.env.Config()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	b, err := o.env.Open(ctx, cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to connect backends", err)
	}
	if o.Verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "connected: store=%s index=%s\n", b.Store, b.Index)
	}
	return b, nil
}
