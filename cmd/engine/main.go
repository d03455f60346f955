package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stackmesh/flowline/internal/config"
	"github.com/stackmesh/flowline/internal/health"
	"github.com/stackmesh/flowline/internal/metrics"
	"github.com/stackmesh/flowline/internal/server"
	"github.com/stackmesh/flowline/internal/service"
	"github.com/stackmesh/flowline/internal/store"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting workflow engine",
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.Int("ops_port", cfg.Server.Port))

	m := metrics.NewMetrics()

	// Stores
	var (
		tenantStore      store.TenantStore
		definitionStore  store.DefinitionStore
		instanceStore    store.InstanceStore
		auditStore       store.AuditStore
		timerStore       store.TimerStore
		idempotencyStore store.IdempotencyStore
		dbPinger         health.Pinger
	)

	switch cfg.Storage.Driver {
	case "postgres":
		pool, err := store.NewPostgresPool(
			cfg.Database.Host,
			cfg.Database.Port,
			cfg.Database.Database,
			cfg.Database.User,
			cfg.Database.Password,
			cfg.Database.MaxConnections,
			cfg.Database.MinConnections,
		)
		if err != nil {
			logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
		}
		defer pool.Close()

		tenantStore = store.NewPostgresTenantStore(pool, logger)
		definitionStore = store.NewPostgresDefinitionStore(pool, logger)
		pgInstances := store.NewPostgresInstanceStore(pool, logger)
		instanceStore = pgInstances
		auditStore = store.NewPostgresAuditStore(pool, logger)
		timerStore = store.NewPostgresTimerStore(pool, logger)
		dbPinger = pgInstances

		redisStore, err := store.NewRedisIdempotencyStore(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			logger,
		)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		idempotencyStore = redisStore

	case "memory":
		memAudit := store.NewMemoryAuditStore()
		tenantStore = store.NewMemoryTenantStore()
		definitionStore = store.NewMemoryDefinitionStore()
		instanceStore = store.NewMemoryInstanceStore(memAudit)
		auditStore = memAudit
		timerStore = store.NewMemoryTimerStore()
		idempotencyStore = store.NewMemoryIdempotencyStore()

	default:
		logger.Fatal("Unknown storage driver", zap.String("driver", cfg.Storage.Driver))
	}
	defer idempotencyStore.Close()

	cache := store.NewInMemoryCache(10000, logger)
	logger.Info("Stores initialized")

	// Services
	tenantService := service.NewTenantService(tenantStore, cache, cfg.Cache.TenantTTL, logger)
	definitionService := service.NewDefinitionService(definitionStore, cache, cfg.Cache.DefinitionTTL, logger)
	actorDirectory := service.NewStaticActorDirectory()
	actorService := service.NewActorService(actorDirectory, cache, cfg.Cache.ActorTTL, logger)
	auditService := service.NewAuditService(auditStore, logger)
	idempotencyService := service.NewIdempotencyService(idempotencyStore, cfg.Engine.IdempotencyTTL, logger)
	conditionEvaluator := service.NewConditionEvaluator(m, logger)
	authorizationService := service.NewAuthorizationService(logger)
	notifier := service.NewLogNotifier(logger)

	eventBus := service.NewEventBus(service.EventBusConfig{
		Workers:     cfg.Engine.EventWorkers,
		QueueSize:   cfg.Engine.EventQueueSize,
		MaxAttempts: cfg.Engine.EventMaxAttempts,
		Backoff:     cfg.Engine.EventBackoff,
	}, []service.EventHandler{
		service.NewNotificationHandler(notifier),
	}, m, logger)

	scheduler := service.NewSchedulerService(timerStore, instanceStore, service.SchedulerConfig{
		PollInterval: cfg.Engine.TimerPollInterval,
		BatchSize:    cfg.Engine.TimerBatchSize,
		Workers:      cfg.Engine.TimerWorkers,
		QueueSize:    cfg.Engine.TimerQueueSize,
	}, m, logger)

	executor := service.NewExecutorService(
		tenantService,
		definitionService,
		actorService,
		instanceStore,
		auditService,
		idempotencyService,
		scheduler,
		conditionEvaluator,
		authorizationService,
		eventBus,
		notifier,
		cfg.Engine.MaxTransitionAttempts,
		m,
		logger,
	)

	escalation := service.NewEscalationService(
		executor,
		definitionService,
		auditService,
		scheduler,
		eventBus,
		notifier,
		service.EscalationConfig{
			MaxAttempts: cfg.Engine.EscalationMaxAttempts,
			Backoff:     cfg.Engine.EscalationBackoff,
		},
		m,
		logger,
	)
	scheduler.SetHandler(escalation)

	logger.Info("All services initialized")

	// Operational HTTP server
	healthChecker := health.NewHealthChecker(map[string]health.Pinger{
		"database":          dbPinger,
		"idempotency_store": idempotencyStore,
	}, logger)

	opsServer := server.NewOpsServer(&server.OpsServerConfig{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsPath:    cfg.Metrics.Path,
	}, healthChecker, logger)

	scheduler.Start()
	opsServer.Start()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received signal", zap.String("signal", sig.String()))

	logger.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	g, _ := errgroup.WithContext(shutdownCtx)
	g.Go(func() error { return opsServer.Stop(cfg.Server.ShutdownTimeout) })
	g.Go(func() error { return scheduler.Stop(cfg.Server.ShutdownTimeout) })
	g.Go(func() error { return eventBus.Stop(cfg.Server.ShutdownTimeout) })
	if err := g.Wait(); err != nil {
		logger.Error("Shutdown error", zap.Error(err))
	}

	logger.Info("Workflow engine stopped")
}

// buildLogger constructs the zap logger per the logging config.
func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = level

	return zapCfg.Build()
}
