package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/kindergarten-admission-api/api/swagger"
	"github.com/noah-isme/kindergarten-admission-api/internal/handler"
	"github.com/noah-isme/kindergarten-admission-api/internal/middleware"
	"github.com/noah-isme/kindergarten-admission-api/internal/repository"
	"github.com/noah-isme/kindergarten-admission-api/internal/repository/memory"
	"github.com/noah-isme/kindergarten-admission-api/internal/service"
	"github.com/noah-isme/kindergarten-admission-api/pkg/cache"
	"github.com/noah-isme/kindergarten-admission-api/pkg/config"
	"github.com/noah-isme/kindergarten-admission-api/pkg/database"
	"github.com/noah-isme/kindergarten-admission-api/pkg/jobs"
	"github.com/noah-isme/kindergarten-admission-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/kindergarten-admission-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/kindergarten-admission-api/pkg/middleware/requestid"
)

// @title Kindergarten Admission API
// @version 1.0.0
// @description Admission plans, quota ledger, application workflow and waitlist ranking.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := map[string]handler.ReadinessCheck{}

	repos, closeStore, err := openStore(ctx, cfg, checks)
	if err != nil {
		logr.Fatal("failed to open store", zap.String("driver", cfg.Storage.Driver), zap.Error(err))
	}
	defer closeStore()

	metrics := service.NewMetricsService()

	var (
		cacheSvc  *service.CacheService
		publisher service.EventPublisher
	)
	if cfg.Redis.Enabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Fatal("failed to connect redis", zap.Error(err))
		}
		defer client.Close() //nolint:errcheck
		checks["redis"] = cache.Probe(client)

		cacheRepo := repository.NewCacheRepository(redis.UniversalClient(client), logr)
		cacheSvc = service.NewCacheService(cacheRepo, metrics, cfg.Cache.AvailabilityTTL, logr, cfg.Cache.Enabled)
		publisher = cacheRepo
	}

	events := service.NewEventDispatcher(publisher, cfg.Events.Channel, jobs.QueueConfig{
		Workers:    cfg.Events.Workers,
		BufferSize: cfg.Events.QueueSize,
		MaxRetries: cfg.Events.MaxRetries,
	}, metrics, logr)
	events.Subscribe("", service.LogEvents(logr))
	events.Start(ctx)

	uow := service.NewUnitOfWork(repos.Tx, cacheSvc, events, metrics, logr)
	ledger := service.NewLedger(repos.Quotas, repos.Plans, metrics, logr)
	waitlist := service.NewWaitlistService(repos.Applications, repos.Plans, repos.Quotas, repos.Audit, ledger, uow, logr)
	quotas := service.NewQuotaService(repos.Quotas, repos.Audit, ledger, waitlist, uow, cacheSvc, nil, logr)
	plans := service.NewPlanService(repos.Plans, repos.Quotas, repos.Applications, repos.Audit, ledger, uow, cacheSvc, nil, logr,
		service.PlanServiceConfig{DefaultAllowWaitlist: cfg.Admission.DefaultAllowWaitlist})
	applications := service.NewApplicationService(repos.Applications, repos.Plans, repos.Quotas, repos.Audit, ledger, waitlist, uow, nil, logr,
		service.ApplicationServiceConfig{NumberPrefix: cfg.Admission.ApplicationNumberPrefix})
	exports := service.NewExportService(repos.Plans, repos.Applications, logr, nil, nil)
	auth := service.NewAuthService(logr, service.AuthConfig{AccessTokenSecret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})

	reconciler := service.NewReconciliationService(repos.Plans, repos.Quotas, plans, waitlist, uow, logr)
	if cfg.Reconcile.Enabled {
		if err := reconciler.Start(cfg.Reconcile.Schedule); err != nil {
			logr.Fatal("failed to schedule reconciliation", zap.String("schedule", cfg.Reconcile.Schedule), zap.Error(err))
		}
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.SubmitRPS, cfg.RateLimit.SubmitBurst, logr)
	go sweepVisitors(ctx, limiter)

	metricsHandler := handler.NewMetricsHandler(metrics, checks)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	prefix := cfg.APIPrefix
	if prefix == "" {
		prefix = "/api/v1"
	}
	handler.RegisterRoutes(r.Group(prefix), handler.Routes{
		Auth:         auth,
		SubmitLimit:  limiter.Handler(),
		Plans:        handler.NewPlanHandler(plans, waitlist, exports),
		Quotas:       handler.NewQuotaHandler(quotas),
		Applications: handler.NewApplicationHandler(applications, waitlist),
		Metrics:      metricsHandler,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "storage", cfg.Storage.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	reconciler.Stop()
	events.Stop()
}

// openStore connects the configured backend and registers its readiness check.
func openStore(ctx context.Context, cfg *config.Config, checks map[string]handler.ReadinessCheck) (service.Repositories, func(), error) {
	if cfg.Storage.Driver == config.StorageDriverMemory {
		store := memory.NewStore()
		return service.Repositories{
			Tx:           store,
			Plans:        store.Plans(),
			Quotas:       store.Quotas(),
			Applications: store.Applications(),
			Audit:        store.Audit(),
		}, func() {}, nil
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return service.Repositories{}, nil, err
	}
	checks["database"] = db.PingContext
	return postgresRepositories(db), func() { _ = db.Close() }, nil
}

func postgresRepositories(db *sqlx.DB) service.Repositories {
	return service.Repositories{
		Tx:           repository.NewTxManager(db),
		Plans:        repository.NewPlanRepository(db),
		Quotas:       repository.NewQuotaRepository(db),
		Applications: repository.NewApplicationRepository(db),
		Audit:        repository.NewAuditRepository(db),
	}
}

func sweepVisitors(ctx context.Context, limiter *middleware.RateLimiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Sweep()
		}
	}
}
