package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/hibiken/asynq"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/internal/jobs"
	"github.com/xenking/storefront/internal/storage/postgres"
	"github.com/xenking/storefront/internal/storage/redis"
	"github.com/xenking/storefront/pkg/health"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the API server.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	return serve(ctx, lg, cfg, m.TracerProvider(), m.MeterProvider())
}

func serve(ctx context.Context, lg *zap.Logger, cfg *Config, tp trace.TracerProvider, mp metric.MeterProvider) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("sequencer", cfg.Orders.Sequencer),
		zap.Bool("redis", cfg.Redis.Enabled()),
		zap.Bool("strict_transitions", cfg.Orders.StrictTransitions),
	)

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Redis is optional: without it numbers come from PostgreSQL and
	// idempotency keys and background jobs are disabled.
	var rdb *goredis.Client
	if cfg.Redis.Enabled() {
		rdb, err = redis.New(ctx, redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				lg.Warn("Redis close", zap.Error(err))
			}
		}()
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	if rdb != nil {
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.RedisCheck(rdb))
	}
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	userRepo := postgres.NewUserRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	deps := order.Deps{
		Products: productRepo,
		Users:    userRepo,
		Orders:   orderRepo,
		Numbers:  postgres.NewOrderCounter(pool),
	}
	if rdb != nil {
		if cfg.Orders.Sequencer == SequencerRedis {
			deps.Numbers = redis.NewSequencer(rdb)
		}
		deps.Idempotency = redis.NewIdempotencyStore(rdb, cfg.Orders.IdempotencyTTL)

		queue := asynq.NewClientFromRedisClient(rdb)
		defer func() {
			if err := queue.Close(); err != nil {
				lg.Warn("Job queue close", zap.Error(err))
			}
		}()
		deps.Events = jobs.NewPublisher(queue)
	}

	loc, err := cfg.Orders.Location()
	if err != nil {
		return err
	}

	// Domain services.
	orderService, err := order.NewService(deps, order.Config{
		NumberPrefix:      cfg.Orders.NumberPrefix,
		Location:          loc,
		StrictTransitions: cfg.Orders.StrictTransitions,
		MeterProvider:     mp,
		TracerProvider:    tp,
	})
	if err != nil {
		return errors.Wrap(err, "create order service")
	}
	catalog := product.NewCatalog(productRepo, userRepo)
	authenticator := auth.NewAuthenticator(apikeyRepo, userRepo, []byte(cfg.APIKeyPepper))

	// HTTP handlers.
	h := handler.New(
		handler.Config{ImageBaseURL: cfg.ImageBaseURL},
		orderService,
		catalog,
		authenticator,
	)

	// Router: health endpoints + API routes on one server.
	router := chi.NewRouter()
	router.Use(httpmiddleware.LogRequests())
	healthSvc.Mount(router)
	router.Mount("/api", h.Routes())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router, serverMiddleware(ctx, cfg, tp, mp)...),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// serverMiddleware is the outer middleware stack, outermost first.
func serverMiddleware(ctx context.Context, cfg *Config, tp trace.TracerProvider, mp metric.MeterProvider) []httpmiddleware.Middleware {
	stack := []httpmiddleware.Middleware{
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Recovery(),
		httpmiddleware.Instrument("storefront-api", tp, mp),
		httpmiddleware.SecureHeaders(httpmiddleware.SecureConfig{
			SSLRedirect: cfg.Secure.SSLRedirect,
			HSTSSeconds: cfg.Secure.HSTSSeconds,
		}),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           24 * time.Hour,
		}),
		httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		}),
	}
	if cfg.RateLimit.PerKey > 0 {
		stack = append(stack, httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
			Max:     cfg.RateLimit.PerKey,
			Window:  cfg.RateLimit.Window,
			KeyFunc: httpmiddleware.KeyByAPIKey(handler.APIKeyHeader, "api_key"),
		}))
	}
	return stack
}

// RunWorker starts the background job worker and blocks until ctx is done.
func RunWorker(ctx context.Context, lg *zap.Logger, cfg *Config) error {
	if !cfg.Redis.Enabled() {
		return errors.New("worker requires redis: set STOREFRONT_REDIS_ADDR or REDIS_URL")
	}
	lg.Info("Initializing worker", zap.Int("concurrency", cfg.Worker.Concurrency))

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	worker, err := jobs.NewWorker(lg, jobs.WorkerConfig{
		Redis: asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		Concurrency: cfg.Worker.Concurrency,
		Handlers:    jobs.NewHandlers(postgres.NewUserRepository(pool)),
	})
	if err != nil {
		return errors.Wrap(err, "create worker")
	}
	return worker.Run(ctx)
}
