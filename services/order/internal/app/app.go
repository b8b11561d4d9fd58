package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"

	"github.com/shopline/commerce/pkg/database"
	"github.com/shopline/commerce/pkg/health"
	"github.com/shopline/commerce/pkg/httpclient"
	pkgkafka "github.com/shopline/commerce/pkg/kafka"
	"github.com/shopline/commerce/pkg/tracing"
	"github.com/shopline/commerce/services/order/internal/catalog"
	"github.com/shopline/commerce/services/order/internal/config"
	"github.com/shopline/commerce/services/order/internal/event"
	handler "github.com/shopline/commerce/services/order/internal/handler/http"
	"github.com/shopline/commerce/services/order/internal/repository/postgres"
	"github.com/shopline/commerce/services/order/internal/service"
	"github.com/shopline/commerce/services/order/migrations"
)

// App wires together all dependencies and runs the order service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	producer       *pkgkafka.Producer
	reconciler     *service.Reconciler
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "order",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres(), logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, "order"); err != nil {
		logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := producer.Ping(pingCtx); err != nil {
		logger.Warn("kafka unreachable, continuing in degraded mode", slog.String("error", err.Error()))
	} else {
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}
	pingCancel()

	breaker := httpclient.NewCircuitBreakerClient(httpclient.New(cfg.CatalogClient()), cfg.CatalogBreaker(), logger)
	ledger := catalog.NewClient(cfg.CatalogURL, breaker, logger)
	logger.Info("catalog client configured",
		slog.String("url", cfg.CatalogURL),
		slog.Duration("timeout", cfg.CatalogTimeout),
		slog.Int("max_retries", cfg.CatalogMaxRetries),
	)

	orderRepo := postgres.NewOrderRepository(pool)
	placementRepo := postgres.NewPlacementRepository(pool)
	eventProducer := event.NewProducer(producer, logger)

	orderService := service.NewOrderService(orderRepo, placementRepo, eventProducer, logger)
	placementService := service.NewPlacementService(orderRepo, placementRepo, ledger, eventProducer, service.PlacementConfig{
		LookupTimeout:  cfg.SagaLookupTimeout,
		AdjustTimeout:  cfg.SagaAdjustTimeout,
		PersistTimeout: cfg.SagaPersistTimeout,
		Compensate:     cfg.SagaCompensate,
	}, logger)

	var reconciler *service.Reconciler
	if cfg.SagaCompensate {
		reconciler = service.NewReconciler(placementRepo, ledger, service.ReconcilerConfig{
			Interval:      cfg.ReconcileInterval,
			BatchSize:     cfg.ReconcileBatchSize,
			AdjustTimeout: cfg.SagaAdjustTimeout,
		}, logger)
	}

	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
		return producer.Ping(ctx)
	})
	healthHandler.RegisterNonCritical("catalog", func(context.Context) error {
		if breaker.State() == gobreaker.StateOpen {
			return httpclient.ErrCircuitOpen
		}
		return nil
	})

	router := handler.NewRouter(orderService, placementService, healthHandler, logger, cfg.RequestTimeout)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		producer:       producer,
		reconciler:     reconciler,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Run starts the HTTP server and, when compensation is enabled, the
// reconciler. It blocks until the context is canceled or a component fails.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if a.reconciler != nil {
		go func() {
			if err := a.reconciler.Run(ctx); err != nil {
				errCh <- fmt.Errorf("reconciler: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("component failed", slog.String("error", err.Error()))
		return errors.Join(err, a.Shutdown())
	}

	return a.Shutdown()
}

// Shutdown stops components in dependency order: HTTP server, tracer,
// producer, postgres.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
