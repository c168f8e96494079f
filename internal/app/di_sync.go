package app

import (
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/vitalhome/syncengine/internal/auth"
	"github.com/vitalhome/syncengine/internal/export"
	internalhttp "github.com/vitalhome/syncengine/internal/http"
	"github.com/vitalhome/syncengine/internal/metrics"
	syncHTTP "github.com/vitalhome/syncengine/internal/sync/http"
	"github.com/vitalhome/syncengine/internal/sync/repository"
	"github.com/vitalhome/syncengine/internal/sync/service"
	"github.com/vitalhome/syncengine/internal/sync/transport"
	"github.com/vitalhome/syncengine/internal/sync/usecase"
)

// syncDependencies is the shared sync domain graph. All components are
// built together because they share the same repositories, breaker, and
// tracker instances; wiring two copies of the breaker would split the
// failure count the engine and the status API report.
type syncDependencies struct {
	pendingRepo     *repository.SQLitePendingOperationRepository
	failedRepo      *repository.SQLiteFailedOperationRepository
	optimisticRepo  *repository.SQLiteOptimisticRepository
	idempotencyRepo *repository.SQLiteIdempotencyRepository
	journalRepo     *repository.SQLiteJournalRepository
	lockRepo        *repository.SQLiteLockRepository

	journal    *service.Journal
	applier    service.StepApplier
	tracker    *service.IdempotencyTracker
	backoff    *service.BackoffPolicy
	breaker    *service.CircuitBreaker
	coalescer  *service.Coalescer
	reconciler *service.Reconciler
	lock       *service.ProcessingLock

	dispatcher *transport.Dispatcher
	events     *usecase.EventBus

	engine         *usecase.SyncEngine
	enqueueUseCase usecase.Enqueuer
	statusUseCase  *usecase.StatusUseCase
	exporter       *export.Exporter
}

// syncGraph builds the repositories and services once.
func (c *Container) syncGraph() (*syncDependencies, error) {
	c.syncDepsInit.Do(func() {
		db, err := c.DB()
		if err != nil {
			c.initErrors["syncGraph"] = fmt.Errorf("failed to get database for sync graph: %w", err)
			return
		}

		cfg := c.config
		deps := &c.syncDeps

		deps.pendingRepo = repository.NewSQLitePendingOperationRepository(db)
		deps.failedRepo = repository.NewSQLiteFailedOperationRepository(db)
		deps.optimisticRepo = repository.NewSQLiteOptimisticRepository(db)
		deps.idempotencyRepo = repository.NewSQLiteIdempotencyRepository(db)
		deps.journalRepo = repository.NewSQLiteJournalRepository(db)
		deps.lockRepo = repository.NewSQLiteLockRepository(db)

		deps.journal = service.NewJournal(deps.journalRepo, nil)
		deps.applier = service.NewRepositoryStepApplier(deps.pendingRepo, deps.optimisticRepo, deps.idempotencyRepo)
		deps.tracker = service.NewIdempotencyTracker(deps.idempotencyRepo, cfg.IdempotencyTTL, nil)
		deps.backoff = service.NewBackoffPolicy(
			cfg.BackoffBase.Milliseconds(),
			cfg.BackoffMax.Milliseconds(),
			cfg.MaxAttempts,
			nil,
		)
		deps.breaker = service.NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerWindow, cfg.BreakerCooldown, nil)
		deps.coalescer = service.NewCoalescer(deps.pendingRepo)
		deps.lock = service.NewProcessingLock(deps.lockRepo, lockHolderID(), cfg.LockStaleness, nil)

		httpClient := &http.Client{Timeout: cfg.APIRequestTimeout}
		tokens := auth.NewHTTPTokenProvider(cfg.APIBaseURL, cfg.APIAccessToken, cfg.APIRefreshToken, httpClient)
		deps.dispatcher = transport.NewDispatcher(
			cfg.APIBaseURL,
			httpClient,
			tokens,
			rate.NewLimiter(rate.Limit(cfg.DispatchRatePerSec), cfg.DispatchBurst),
			nil,
			c.Logger(),
		)
		deps.reconciler = service.NewReconciler(deps.dispatcher, deps.optimisticRepo)
		deps.events = usecase.NewEventBus()
	})
	if storedErr, exists := c.initErrors["syncGraph"]; exists {
		return nil, storedErr
	}
	return &c.syncDeps, nil
}

// SyncEngine returns the sync engine instance.
func (c *Container) SyncEngine() (*usecase.SyncEngine, error) {
	c.engineInit.Do(func() {
		deps, err := c.syncGraph()
		if err != nil {
			c.initErrors["syncEngine"] = fmt.Errorf("failed to build sync graph for engine: %w", err)
			return
		}
		txManager, err := c.TxManager()
		if err != nil {
			c.initErrors["syncEngine"] = fmt.Errorf("failed to get tx manager for engine: %w", err)
			return
		}
		syncMetrics, err := c.SyncMetrics()
		if err != nil {
			c.initErrors["syncEngine"] = fmt.Errorf("failed to get sync metrics for engine: %w", err)
			return
		}

		deps.engine = usecase.NewSyncEngine(
			usecase.EngineConfig{
				SyncInterval:      c.config.SyncInterval,
				HeartbeatInterval: c.config.LockHeartbeatInterval,
			},
			txManager,
			deps.pendingRepo,
			deps.failedRepo,
			deps.journal,
			deps.applier,
			deps.tracker,
			deps.backoff,
			deps.breaker,
			deps.coalescer,
			deps.reconciler,
			deps.lock,
			deps.dispatcher,
			deps.events,
			syncMetrics,
			c.Logger(),
			nil,
		)
	})
	if storedErr, exists := c.initErrors["syncEngine"]; exists {
		return nil, storedErr
	}
	return c.syncDeps.engine, nil
}

// EnqueueUseCase returns the enqueue use case wrapped with metrics recording.
func (c *Container) EnqueueUseCase() (usecase.Enqueuer, error) {
	c.enqueueInit.Do(func() {
		deps, err := c.syncGraph()
		if err != nil {
			c.initErrors["enqueueUseCase"] = fmt.Errorf("failed to build sync graph for enqueue use case: %w", err)
			return
		}
		txManager, err := c.TxManager()
		if err != nil {
			c.initErrors["enqueueUseCase"] = fmt.Errorf("failed to get tx manager for enqueue use case: %w", err)
			return
		}
		syncMetrics, err := c.SyncMetrics()
		if err != nil {
			c.initErrors["enqueueUseCase"] = fmt.Errorf("failed to get sync metrics for enqueue use case: %w", err)
			return
		}

		enqueue := usecase.NewEnqueueUseCase(txManager, deps.journal, deps.applier, deps.events, c.Logger(), nil)
		deps.enqueueUseCase = usecase.NewEnqueueWithMetrics(enqueue, syncMetrics)
	})
	if storedErr, exists := c.initErrors["enqueueUseCase"]; exists {
		return nil, storedErr
	}
	return c.syncDeps.enqueueUseCase, nil
}

// StatusUseCase returns the status use case instance.
func (c *Container) StatusUseCase() (*usecase.StatusUseCase, error) {
	c.statusInit.Do(func() {
		deps, err := c.syncGraph()
		if err != nil {
			c.initErrors["statusUseCase"] = fmt.Errorf("failed to build sync graph for status use case: %w", err)
			return
		}
		txManager, err := c.TxManager()
		if err != nil {
			c.initErrors["statusUseCase"] = fmt.Errorf("failed to get tx manager for status use case: %w", err)
			return
		}
		engine, err := c.SyncEngine()
		if err != nil {
			c.initErrors["statusUseCase"] = fmt.Errorf("failed to get engine for status use case: %w", err)
			return
		}

		deps.statusUseCase = usecase.NewStatusUseCase(
			txManager,
			deps.pendingRepo,
			deps.failedRepo,
			deps.optimisticRepo,
			deps.tracker,
			deps.breaker,
			engine,
			c.Logger(),
			nil,
		)
	})
	if storedErr, exists := c.initErrors["statusUseCase"]; exists {
		return nil, storedErr
	}
	return c.syncDeps.statusUseCase, nil
}

// Exporter returns the diagnostics exporter instance.
func (c *Container) Exporter() (*export.Exporter, error) {
	c.exporterInit.Do(func() {
		deps, err := c.syncGraph()
		if err != nil {
			c.initErrors["exporter"] = fmt.Errorf("failed to build sync graph for exporter: %w", err)
			return
		}
		c.syncDeps.exporter = export.NewExporter(deps.pendingRepo, deps.failedRepo, c.Logger(), nil)
	})
	if storedErr, exists := c.initErrors["exporter"]; exists {
		return nil, storedErr
	}
	return c.syncDeps.exporter, nil
}

// initHTTPServer creates the status API server with all its dependencies.
func (c *Container) initHTTPServer() (*internalhttp.Server, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for http server: %w", err)
	}
	enqueueUseCase, err := c.EnqueueUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get enqueue use case for http server: %w", err)
	}
	statusUseCase, err := c.StatusUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get status use case for http server: %w", err)
	}
	engine, err := c.SyncEngine()
	if err != nil {
		return nil, fmt.Errorf("failed to get engine for http server: %w", err)
	}

	logger := c.Logger()
	handler := syncHTTP.NewSyncHandler(enqueueUseCase, statusUseCase, engine, logger)

	var extra []gin.HandlerFunc
	extra = append(extra, internalhttp.CORSMiddleware(c.config.CORSEnabled, c.config.CORSAllowOrigins, logger))
	if provider, err := c.MetricsProvider(); err == nil && provider != nil {
		extra = append(extra, metrics.HTTPMetricsMiddleware(provider.MeterProvider(), c.config.MetricsNamespace))
	}

	server := internalhttp.NewServer(db, c.config.StatusHost, c.config.StatusPort, logger)
	server.SetupRouter(handler, extra...)
	return server, nil
}

// lockHolderID identifies this process for processing-lock ownership.
func lockHolderID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
