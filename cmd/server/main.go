// Command server runs the Xero sync API, its scheduler and webhook intake.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	acctapp "github.com/buildops/backend/internal/application/accounting"
	appsync "github.com/buildops/backend/internal/application/ledgersync"
	"github.com/buildops/backend/internal/domain/ledgersync"
	"github.com/buildops/backend/internal/infrastructure/auth"
	"github.com/buildops/backend/internal/infrastructure/cache"
	"github.com/buildops/backend/internal/infrastructure/config"
	"github.com/buildops/backend/internal/infrastructure/event"
	"github.com/buildops/backend/internal/infrastructure/lock"
	"github.com/buildops/backend/internal/infrastructure/logger"
	"github.com/buildops/backend/internal/infrastructure/persistence"
	"github.com/buildops/backend/internal/infrastructure/ratelimit"
	"github.com/buildops/backend/internal/infrastructure/scheduler"
	"github.com/buildops/backend/internal/infrastructure/storage"
	"github.com/buildops/backend/internal/infrastructure/telemetry"
	"github.com/buildops/backend/internal/infrastructure/xero"
	"github.com/buildops/backend/internal/interfaces/http/handler"
	"github.com/buildops/backend/internal/interfaces/http/middleware"
	"github.com/buildops/backend/internal/interfaces/http/router"
)

const meterName = "github.com/buildops/backend"

// redisPinger adapts a redis client to the health check
type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

//	@title			BuildOps Ledger Sync API
//	@version		1.0
//	@description	Bidirectional sync between local bookkeeping and a Xero organisation

//	@BasePath	/api/v1

//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token authentication. Format: "Bearer {token}"

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	baseLog, err := logger.New(logger.FromAppConfig(cfg))
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	// Telemetry first so the logger can be bridged to OTLP
	providers, err := telemetry.NewProviders(ctx, cfg.Telemetry, baseLog)
	if err != nil {
		baseLog.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	log := providers.Logs.Bridge(baseLog, zapcore.InfoLevel)
	defer func() {
		if err := providers.Shutdown(context.Background()); err != nil {
			log.Error("Error shutting down telemetry", zap.Error(err))
		}
		_ = log.Sync()
	}()

	log.Info("Starting sync service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:         cfg.Telemetry.ProfilingEnabled,
		ServerAddress:   cfg.Telemetry.PyroscopeEndpoint,
		ApplicationName: cfg.Telemetry.ServiceName,
	}, log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}
	defer func() { _ = profiler.Stop() }()
	if cfg.Telemetry.ProfilingEnabled {
		providers.Tracer.EnableSpanProfiles()
	}

	// Database
	db, err := persistence.NewDatabase(&cfg.Database, log, cfg.Log.Level)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	dbTracing := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
	}, log)
	if err := dbTracing.Register(db.DB); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}
	log.Info("Database connected successfully")

	// Redis backs the cache, OAuth states, webhook dedupe and the sync lock
	// when enabled; otherwise all of them are process-local.
	checks := map[string]handler.Pinger{"database": db}
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal("Failed to connect to redis", zap.Error(err))
		}
		checks["redis"] = redisPinger{client: redisClient}
	}
	var store cache.Store
	var locker ledgersync.SyncLocker
	if redisClient != nil {
		store = cache.NewStore(redisClient, cfg.Redis, log)
		locker = lock.NewRedisLocker(redisClient, cfg.Redis.KeyPrefix)
	} else {
		store = cache.NewStore(nil, cfg.Redis, log)
		locker = lock.NewMemoryLocker()
	}
	defer func() { _ = store.Close() }()

	// Repositories
	contactRepo := persistence.NewGormContactRepository(db.DB)
	invoiceRepo := persistence.NewGormInvoiceRepository(db.DB)
	paymentRepo := persistence.NewGormPaymentRepository(db.DB)
	connectionRepo := persistence.NewGormConnectionRepository(db.DB)
	conflictRepo := persistence.NewGormConflictRepository(db.DB)
	runRepo := persistence.NewGormSyncRunRepository(db.DB)
	cursorRepo := persistence.NewGormSyncCursorRepository(db.DB)
	txScope := persistence.NewGormTransactionScope(db.DB)

	// Event bus: audit log and business metrics
	meter := providers.Meter.Meter(meterName)
	syncMetrics, err := telemetry.NewSyncMetrics(meter)
	if err != nil {
		log.Fatal("Failed to create sync metrics", zap.Error(err))
	}
	eventBus := event.NewInMemoryEventBus(log)
	eventBus.Subscribe(appsync.NewEventLogger(log))
	eventBus.Subscribe(event.NewIdempotentHandler(syncMetrics, store, 0, log))
	if err := eventBus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}
	defer func() {
		if err := eventBus.Stop(context.Background()); err != nil {
			log.Error("Error stopping event bus", zap.Error(err))
		}
	}()

	// Xero adapters
	rules, err := ledgersync.NewOwnershipRules(cfg.Sync.Ownership)
	if err != nil {
		log.Fatal("Invalid ownership overrides", zap.Error(err))
	}
	opts := appsync.Options{
		LockTTL:            cfg.Sync.LockTTL,
		PageSize:           cfg.Sync.PageSize,
		TokenRefreshMargin: cfg.Sync.TokenRefreshMargin,
		AuthStateTTL:       cfg.Sync.AuthStateTTL,
		WebhookDedupeTTL:   cfg.Sync.WebhookDedupeTTL,
		Rules:              rules,
	}

	key, err := cfg.Security.EncryptionKey()
	if err != nil {
		log.Fatal("Invalid token encryption key", zap.Error(err))
	}
	cipher, err := auth.NewTokenCipher(key)
	if err != nil {
		log.Fatal("Failed to create token cipher", zap.Error(err))
	}

	apiLimiter := ratelimit.NewKeyedLimiter(ratelimit.PerMinute(cfg.Xero.RateLimitPerMinute), cfg.Xero.RateLimitBurst, 30*time.Minute)
	defer apiLimiter.Close()
	xeroClient := xero.NewClient(cfg.Xero, apiLimiter, log).WithRecorder(syncMetrics)
	ledgerClient := appsync.NewCachedLedgerClient(xeroClient, store, cfg.Sync.CacheTTL, log)

	var archive ledgersync.ReportArchive
	if cfg.Storage.Enabled {
		s3Archive, err := storage.NewS3ReportArchive(ctx, &cfg.Storage,
			storage.WithLogger(log),
			storage.WithPresignExpiration(cfg.Storage.PresignExpiration),
		)
		if err != nil {
			log.Fatal("Failed to create report archive", zap.Error(err))
		}
		if err := s3Archive.EnsureBucket(ctx); err != nil {
			log.Fatal("Failed to ensure report bucket", zap.Error(err))
		}
		archive = s3Archive
		log.Info("Reconciliation archive enabled", zap.String("bucket", s3Archive.Bucket()))
	}

	// Application services
	connectionService := appsync.NewConnectionService(appsync.ConnectionServiceDeps{
		Connections: connectionRepo,
		Runs:        runRepo,
		Conflicts:   conflictRepo,
		Provider:    xero.NewOAuth(cfg.Xero),
		Client:      ledgerClient,
		Cipher:      cipher,
		States:      store,
		Publisher:   eventBus,
		Recorder:    syncMetrics,
	}, opts, log)

	syncService := appsync.NewSyncService(appsync.SyncServiceDeps{
		TxScope:   txScope,
		Contacts:  contactRepo,
		Invoices:  invoiceRepo,
		Payments:  paymentRepo,
		Conflicts: conflictRepo,
		Runs:      runRepo,
		Cursors:   cursorRepo,
		Client:    ledgerClient,
		Tokens:    connectionService,
		Throttle:  ratelimit.NewMinIntervalThrottle(cfg.Sync.MinInterval),
		Locker:    locker,
		Archive:   archive,
		Publisher: eventBus,
	}, opts, log)

	conflictService := appsync.NewConflictService(txScope, conflictRepo, syncService, eventBus, log)
	accountingService := acctapp.NewService(contactRepo, invoiceRepo, paymentRepo, txScope, eventBus, log)

	// Background work: webhook and async syncs run on the scheduler pool
	syncScheduler, err := scheduler.NewSyncScheduler(cfg.Scheduler, syncService, log)
	if err != nil {
		log.Fatal("Invalid scheduler configuration", zap.Error(err))
	}
	if err := syncScheduler.Start(ctx); err != nil {
		log.Fatal("Failed to start sync scheduler", zap.Error(err))
	}
	defer func() {
		if err := syncScheduler.Stop(context.Background()); err != nil {
			log.Error("Error stopping sync scheduler", zap.Error(err))
		}
	}()

	if cfg.Scheduler.Enabled && cfg.Sync.AutoSyncInterval > 0 {
		trigger := scheduler.NewIntervalTrigger(cfg.Sync.AutoSyncInterval, syncScheduler, connectionRepo, log)
		if err := trigger.Start(ctx); err != nil {
			log.Fatal("Failed to start scheduled syncs", zap.Error(err))
		}
		defer func() { _ = trigger.Stop(context.Background()) }()
	}

	webhookService := appsync.NewWebhookService(
		xero.NewWebhookDecoder(cfg.Xero.WebhookKey), connectionRepo, store, syncScheduler, opts, log,
	)

	// HTTP
	xeroHandler := handler.NewXeroHandler(handler.XeroHandlerDeps{
		Connections:         connectionService,
		Sync:                syncService,
		Conflicts:           conflictService,
		Webhooks:            webhookService,
		Jobs:                syncScheduler,
		PostConnectRedirect: cfg.Xero.PostConnectRedirect,
		Logger:              log,
	})
	accountingHandler := handler.NewAccountingHandler(accountingService)
	systemHandler := handler.NewSystemHandler(telemetry.ServiceVersion, checks)

	var clientLimiter *ratelimit.KeyedLimiter
	if cfg.HTTP.RateLimitEnabled {
		clientLimiter = ratelimit.NewKeyedLimiter(
			ratelimit.PerWindow(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow), cfg.HTTP.RateLimitRequests, 10*time.Minute,
		)
		defer clientLimiter.Close()
		log.Info("Rate limiting enabled",
			zap.Int("requests", cfg.HTTP.RateLimitRequests),
			zap.Duration("window", cfg.HTTP.RateLimitWindow),
		)
	}

	tracing := middleware.DefaultTracingConfig()
	tracing.ServiceName = cfg.Telemetry.ServiceName
	tracing.Enabled = cfg.Telemetry.Enabled

	engine, err := router.NewEngine(router.EngineConfig{
		HTTP:        cfg.HTTP,
		Production:  cfg.App.IsProduction(),
		Logger:      log,
		Tracing:     tracing,
		Meter:       meter,
		Profiling:   cfg.Telemetry.ProfilingEnabled,
		RateLimiter: clientLimiter,
		JWTService:  auth.NewJWTService(cfg.JWT),
	}, systemHandler,
		router.XeroRoutes(xeroHandler),
		router.AccountingRoutes(accountingHandler),
	)
	if err != nil {
		log.Fatal("Failed to build HTTP engine", zap.Error(err))
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}
