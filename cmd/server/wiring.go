package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"crvs/internal/identity"
	"crvs/internal/platform/config"
	"crvs/internal/platform/database"
	"crvs/internal/platform/httpserver"
	"crvs/internal/platform/kafka"
	"crvs/internal/platform/metrics"
	platformredis "crvs/internal/platform/redis"
	rlmiddleware "crvs/internal/ratelimit/middleware"
	rlmodels "crvs/internal/ratelimit/models"
	"crvs/internal/ratelimit/store/bucket"
	"crvs/internal/search"
	"crvs/internal/workflow/handler"
	"crvs/internal/workflow/lock"
	wfmetrics "crvs/internal/workflow/metrics"
	"crvs/internal/workflow/service"
	wfstore "crvs/internal/workflow/store"
	audit "crvs/pkg/platform/audit"
	"crvs/pkg/platform/audit/publisher"
	auditmemory "crvs/pkg/platform/audit/store/memory"
	auditpostgres "crvs/pkg/platform/audit/store/postgres"
	"crvs/pkg/platform/audit/worker"
	"crvs/pkg/platform/circuit"
	"crvs/pkg/platform/middleware/admin"
	"crvs/pkg/platform/middleware/auth"
	"crvs/pkg/platform/middleware/metadata"
	"crvs/pkg/platform/middleware/request"
	"crvs/pkg/platform/middleware/requesttime"
)

type backends struct {
	store string
	index string
}

type app struct {
	router   http.Handler
	relay    *worker.Relay
	backends backends
	closers  []func()
}

// close releases resources in reverse acquisition order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// build selects PostgreSQL, Redis and Kafka backends when configured and
// in-memory implementations otherwise.
func build(ctx context.Context, cfg config.Server, log *slog.Logger) (a *app, err error) {
	a = &app{backends: backends{store: "memory", index: "memory"}}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	checks := map[string]httpserver.Check{}

	var (
		store      service.Store
		stale      search.StaleSet
		auditStore audit.Store
	)
	if cfg.DB.URL != "" {
		db, err := openDatabase(ctx, cfg.DB, log)
		if err != nil {
			return a, err
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		checks["postgres"] = db.PingContext

		pgAudit := auditpostgres.New(db)
		store = wfstore.NewPostgres(db)
		stale = search.NewPostgresStaleSet(db)
		auditStore = pgAudit
		a.backends.store = "postgres"

		if len(cfg.Kafka.Brokers) > 0 {
			producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
			if err != nil {
				return a, err
			}
			a.closers = append(a.closers, producer.Close)
			if err := producer.EnsureTopic(ctx, cfg.Kafka.TopicPartitions, cfg.Kafka.ReplicationFactor); err != nil {
				return a, err
			}
			checks["kafka"] = producer.Ping
			a.relay = worker.NewRelay(pgAudit, producer,
				worker.WithLogger(log),
				worker.WithBatchSize(cfg.Kafka.RelayBatch),
				worker.WithInterval(cfg.Kafka.RelayInterval),
				worker.WithTx(pgAudit),
			)
		}
	} else {
		store = wfstore.NewInMemoryStore()
		stale = search.NewMemoryStaleSet()
		auditStore = auditmemory.NewInMemoryStore()
	}

	var (
		index   search.Indexer           = search.NewMemoryIndex()
		locker  service.Locker           = lock.NewSharded()
		buckets rlmiddleware.BucketStore = bucket.NewInMemoryBucketStore()
	)
	rc, err := platformredis.New(ctx, cfg.Redis, platformredis.WithMetrics(reg))
	if err != nil {
		return a, err
	}
	if rc != nil {
		a.closers = append(a.closers, func() { _ = rc.Close() })
		checks["redis"] = rc.Health
		index = search.NewRedisIndex(rc.Client)
		locker = lock.NewRedis(rc.Client, cfg.Redis.LockTTL)
		buckets = bucket.NewRedisBucketStore(rc.Client)
		a.backends.index = "redis"
	}

	breaker := circuit.New("search-index",
		circuit.WithFailureThreshold(cfg.Index.FailureThreshold),
		circuit.WithSuccessThreshold(cfg.Index.SuccessThreshold),
	)
	guarded := search.NewGuardedIndexer(index, stale, breaker,
		search.WithGuardLogger(log),
		search.WithGuardMetrics(search.NewMetrics(reg)),
	)
	guarded.RefreshGauges(ctx)

	auditor := publisher.NewPublisher(auditStore,
		publisher.WithLogger(log),
		publisher.WithMetrics(publisher.NewMetrics(reg)),
		publisher.WithAsyncBuffer(cfg.Audit.BufferSize),
	)
	a.closers = append(a.closers, func() { _ = auditor.Close() })

	svc := service.New(store, auditor, guarded,
		service.WithLogger(log),
		service.WithMetrics(wfmetrics.New(reg)),
		service.WithLocker(locker),
		service.WithActionTimeout(cfg.ActionTimeout),
	)

	limiter := rlmiddleware.New(buckets, map[rlmodels.EndpointClass]rlmodels.Limit{
		rlmodels.ClassRead:  {Requests: cfg.RateLimit.Read, Window: cfg.RateLimit.Window},
		rlmodels.ClassWrite: {Requests: cfg.RateLimit.Write, Window: cfg.RateLimit.Window},
	}, log,
		rlmiddleware.WithDisabled(cfg.RateLimit.Disabled),
		rlmiddleware.WithMetrics(rlmiddleware.NewMetrics(reg)),
	)

	httpMetrics := metrics.New(reg, reg)
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recover(log))
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(httpMetrics.Middleware)

	r.Get("/healthz", httpserver.Health(checks))
	r.Handle("/metrics", httpMetrics.Handler())
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(identity.NewJWTResolver(cfg.Auth), log))
		r.Use(limiter.ByMethod)
		handler.New(svc, log).Register(r)
	})
	r.Group(func(r chi.Router) {
		r.Use(admin.RequireAdminToken(cfg.Admin.Token, log))
		handler.NewAdmin(svc, stale, cfg.Admin.StaleBatch, log).Register(r)
	})
	a.router = r
	return a, nil
}

func openDatabase(ctx context.Context, cfg config.DBConfig, log *slog.Logger) (*sql.DB, error) {
	db, err := database.Open(ctx, database.Config{
		URL:             cfg.URL,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		n, err := database.Migrate(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
		log.InfoContext(ctx, "schema applied", "statements", n)
	}
	return db, nil
}
