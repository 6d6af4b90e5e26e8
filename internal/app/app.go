package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/kart-discounts/internal/domain/discount"
	"github.com/xenking/kart-discounts/internal/handler"
	"github.com/xenking/kart-discounts/internal/storage/codeset"
	"github.com/xenking/kart-discounts/internal/storage/postgres"
	"github.com/xenking/kart-discounts/internal/storage/redis"
	"github.com/xenking/kart-discounts/pkg/health"
	"github.com/xenking/kart-discounts/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	coupons := postgres.NewCouponRepository(pool)
	lookup, err := buildLookup(ctx, lg, cfg, coupons, healthSvc)
	if err != nil {
		return err
	}

	metrics, err := discount.NewMetrics(m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "discount metrics")
	}
	formatters := discount.NewFormatterPool(lookup,
		discount.WithDefaultLabel(cfg.Discounts.DefaultLabel),
		discount.WithMissCaching(cfg.Discounts.CacheMisses),
		discount.WithMetrics(metrics),
		discount.WithTracerProvider(m.TracerProvider()),
	)

	h := handler.NewHandler(postgres.NewCartRepository(pool), formatters)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(
			otelhttp.NewHandler(mux, "discounts",
				otelhttp.WithTracerProvider(m.TracerProvider()),
				otelhttp.WithMeterProvider(m.MeterProvider()),
			),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Recovery(),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.LogRequests(),
		),
	}

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

// buildLookup layers the optional coupon cache and code filter over the
// coupon table: filter -> redis -> postgres.
func buildLookup(
	ctx context.Context,
	lg *zap.Logger,
	cfg *Config,
	coupons *postgres.CouponRepository,
	healthSvc *health.Health,
) (discount.CouponLookup, error) {
	var lookup discount.CouponLookup = coupons

	if cfg.Redis.URL != "" {
		opts, err := goredis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, errors.Wrap(err, "parse redis url")
		}
		client := goredis.NewClient(opts)
		context.AfterFunc(ctx, func() { _ = client.Close() })

		cache := redis.NewCouponCache(client, lookup, cfg.Redis.TTL)
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.PingCheck(cache))
		lookup = cache
		lg.Info("Coupon cache enabled", zap.Duration("ttl", cfg.Redis.TTL))
	}

	if cfg.CodeFilter.Enabled {
		filter := codeset.New(lookup, coupons, cfg.CodeFilter.Capacity, cfg.CodeFilter.FalsePositiveRate)
		go filter.Run(ctx, cfg.CodeFilter.RefreshInterval)
		lookup = filter
		lg.Info("Coupon code filter enabled", zap.Uint("capacity", cfg.CodeFilter.Capacity))
	}

	return lookup, nil
}
