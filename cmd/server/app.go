package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	jwttoken "nexus/internal/jwt_token"
	"nexus/internal/notify"
	"nexus/internal/platform/config"
	"nexus/internal/platform/kafka"
	"nexus/internal/platform/metrics"
	"nexus/internal/platform/postgres"
	platformredis "nexus/internal/platform/redis"
	ratelimitmetrics "nexus/internal/ratelimit/metrics"
	ratelimit "nexus/internal/ratelimit/middleware"
	ratelimitmodels "nexus/internal/ratelimit/models"
	"nexus/internal/ratelimit/store/bucket"
	"nexus/internal/records"
	"nexus/internal/tenant"
	tenantmetrics "nexus/internal/tenant/metrics"
	tenantservice "nexus/internal/tenant/service"
	tenantstore "nexus/internal/tenant/store/tenant"
	"nexus/internal/transfer"
	"nexus/internal/transfer/describer"
	"nexus/internal/transfer/executor"
	transfermetrics "nexus/internal/transfer/metrics"
	"nexus/internal/transfer/models"
	transferservice "nexus/internal/transfer/service"
	transferstore "nexus/internal/transfer/store"
	"nexus/migrations"
	"nexus/pkg/platform/audit"
	auditoutbox "nexus/pkg/platform/audit/outbox"
	auditpublisher "nexus/pkg/platform/audit/publisher"
	auditmemory "nexus/pkg/platform/audit/store/memory"
	auditpostgres "nexus/pkg/platform/audit/store/postgres"
	"nexus/pkg/platform/httputil"
	"nexus/pkg/platform/middleware/auth"
	"nexus/pkg/platform/middleware/metadata"
	"nexus/pkg/platform/middleware/request"
	"nexus/pkg/platform/middleware/requesttime"
	txcontext "nexus/pkg/platform/tx"
)

// app holds the wired process: the router plus whatever must run in the
// background or be closed on shutdown.
type app struct {
	router     http.Handler
	jwt        *jwttoken.JWTService
	background []func(ctx context.Context) error
	closers    []func()

	// Present only in in-memory mode, for demo seeding and tests.
	memTenants *tenantstore.InMemory
	memRecords *records.InMemory
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp wires every dependency from cfg. An empty DATABASE_URL selects the
// in-memory stores; an empty REDIS_URL selects the in-process bus.
func buildApp(ctx context.Context, cfg config.Server, log *slog.Logger) (*app, error) {
	a := &app{jwt: jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)}
	reg := metrics.NewRegistry()

	var (
		db          *sql.DB
		tenantsRepo tenantservice.TenantStore
		recordRepo  describer.RecordFinder
		requests    transferservice.Store
		exec        transferservice.Executor
		auditStore  audit.Store
		runner      txcontext.Runner
	)
	if cfg.DatabaseURL != "" {
		var err error
		db, err = postgres.Open(ctx, cfg.DatabaseURL, postgres.DefaultOptions())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		if err := migrations.Apply(ctx, db); err != nil {
			a.Close()
			return nil, err
		}
		runner = txcontext.NewSQLRunner(db, txcontext.WithTimeout(cfg.Transfer.TxTimeout))
		tenantsRepo = tenantstore.NewPostgres(db)
		recordRepo = records.NewPostgres(db)
		requests = transferstore.NewPostgres(db)
		exec = executor.NewPostgres(runner)
		auditStore = auditpostgres.New(db)
		log.InfoContext(ctx, "using postgres stores")
	} else {
		runner = txcontext.NewShardedRunner(txcontext.WithShardTimeout(cfg.Transfer.TxTimeout))
		a.memTenants = tenantstore.NewInMemory()
		a.memRecords = records.NewInMemory()
		tenantsRepo = a.memTenants
		recordRepo = a.memRecords
		requests = transferstore.NewInMemory()
		exec = executor.NewInMemory(a.memRecords, runner)
		auditStore = auditmemory.NewInMemoryStore()
		log.WarnContext(ctx, "DATABASE_URL not set, using in-memory stores")
	}

	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		a.Close()
		return nil, err
	}
	var (
		bus     notify.Bus
		buckets ratelimit.BucketStore
	)
	if redisClient != nil {
		a.closers = append(a.closers, func() { _ = redisClient.Close() })
		bus = notify.NewRedisBus(redisClient.Client, notify.WithBusLogger(log))
		buckets = bucket.NewRedisBucketStore(redisClient.Client)
	} else {
		log.WarnContext(ctx, "REDIS_URL not set, notifications and rate limits stay within this process")
		bus = notify.NewLocalBus()
		buckets = bucket.NewInMemoryBucketStore()
	}
	limiter := ratelimit.New(buckets,
		ratelimitmodels.Policy{Limit: cfg.RateLimit.WritesPerWindow, Window: cfg.RateLimit.Window},
		log,
		ratelimit.WithMetrics(ratelimitmetrics.New(reg)),
	)

	if db != nil && cfg.Kafka.Enabled() {
		producer, err := kafka.NewProducer(ctx, cfg.Kafka, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, producer.Close)
		relay := auditoutbox.NewRelay(auditoutbox.NewStore(db), producer, runner,
			auditoutbox.WithInterval(cfg.Kafka.OutboxPollInterval),
			auditoutbox.WithBatchSize(cfg.Kafka.OutboxBatchSize),
			auditoutbox.WithLogger(log),
		)
		a.background = append(a.background, relay.Run)
	}

	tenants, err := tenant.NewService(tenantsRepo,
		tenantservice.WithLogger(log),
		tenantservice.WithMetrics(tenantmetrics.New(reg)),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	registry := describer.NewRegistry()
	describer.RegisterRecords(registry, recordRepo)
	for dataType, baseURL := range cfg.Describers.RemoteURLs {
		registry.Register(models.DataType(strings.ToLower(dataType)), describer.NewRemote(baseURL, cfg.Describers.Timeout,
			describer.WithRemoteLogger(log),
		))
		log.InfoContext(ctx, "remote describer configured", "data_type", dataType, "base_url", baseURL)
	}

	transferMetrics := transfermetrics.New(reg)
	publisher := auditpublisher.NewPublisher(auditStore, auditpublisher.WithLogger(log))
	svc, err := transfer.NewService(requests, exec, registry, tenants,
		transferservice.WithLogger(log),
		transferservice.WithTxRunner(runner),
		transferservice.WithAuditPublisher(publisher),
		transferservice.WithMetrics(transferMetrics),
		transferservice.WithNotifier(notify.NewPublisher(bus,
			notify.WithLogger(log),
			notify.WithErrorHook(func(error) { transferMetrics.IncNotificationError() }),
		)),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.router = newRouter(routerDeps{
		logger:     log,
		registry:   reg,
		validator:  jwttoken.NewJWTServiceAdapter(a.jwt),
		trustProxy: cfg.TrustProxyHeaders,
		limiter:    limiter,
		tenants:    tenant.NewHandler(tenants, log),
		transfers:  transfer.NewHandler(svc, notify.NewWebSocketHandler(bus, log), log),
		health:     healthCheck(db, redisClient),
	})
	return a, nil
}

type routerDeps struct {
	logger     *slog.Logger
	registry   *prometheus.Registry
	validator  auth.JWTValidator
	limiter    *ratelimit.Middleware
	trustProxy bool
	tenants    *tenant.Handler
	transfers  *transfer.Handler
	health     func(ctx context.Context) error
}

func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recovery(d.logger))
	r.Use(request.Logger(d.logger))
	r.Use(metadata.ClientMetadata(metadata.TrustForwardedHeaders(d.trustProxy)))
	r.Use(requesttime.Middleware)

	r.Handle("/metrics", metrics.Handler(d.registry))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := d.health(r.Context()); err != nil {
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(d.validator, d.logger))
		r.Use(d.limiter.LimitWrites("transfers"))
		d.tenants.Register(r)
		d.transfers.Register(r)
	})
	return r
}

func healthCheck(db *sql.DB, redisClient *platformredis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
		}
		if redisClient != nil {
			if err := redisClient.Health(ctx); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	}
}
