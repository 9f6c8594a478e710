package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-engine/internal/app"
	"github.com/noah-isme/storefront-engine/internal/auth"
	"github.com/noah-isme/storefront-engine/internal/cache"
	"github.com/noah-isme/storefront-engine/internal/cart"
	"github.com/noah-isme/storefront-engine/internal/checkout"
	"github.com/noah-isme/storefront-engine/internal/common"
	"github.com/noah-isme/storefront-engine/internal/config"
	"github.com/noah-isme/storefront-engine/internal/health"
	"github.com/noah-isme/storefront-engine/internal/lock"
	"github.com/noah-isme/storefront-engine/internal/obs"
	"github.com/noah-isme/storefront-engine/internal/pricing"
	"github.com/noah-isme/storefront-engine/internal/promocode"
	"github.com/noah-isme/storefront-engine/internal/ratelimit"
	"github.com/noah-isme/storefront-engine/internal/security"
)

const serviceName = "storefront-api"

func main() {
	cfg, err := config.Load()
	if err == nil {
		err = cfg.RequireAPI()
	}
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(serviceName, cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("env", cfg.AppEnv).Logger()
	obs.MustRegisterDomainMetrics(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Open(ctx, cfg, serviceName, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open dependencies")
	}
	defer deps.Close(context.Background(), logger)

	verifier, err := auth.NewVerifier(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer, Audience: cfg.JWTAudience})
	if err != nil {
		logger.Fatal().Err(err).Msg("init token verifier")
	}

	settings := pricing.NewProvider(
		settingsSource(cfg, logger),
		cache.NewJSON(deps.Redis, cfg.PricingSettingsCacheTTL),
		cfg.PricingFallback,
		logger.With().Str("component", "pricing").Logger(),
	)

	promoRepo := &promocode.PGRepository{DB: deps.DB}
	validator := &promocode.Validator{
		Repo:     promoRepo,
		Usage:    promoRepo,
		Currency: cfg.CurrencyCode,
		Logger:   logger.With().Str("component", "promocode").Logger(),
	}

	cartSvc := &cart.Service{
		Repo:         cart.NewPGRepository(deps.DB),
		Catalog:      &cart.PGCatalog{DB: deps.DB},
		Locker:       lock.Locker{R: deps.Redis, RetryBackoff: cfg.LockRetryBackoff, MaxWait: cfg.LockMaxWait},
		TTL:          cfg.CartTTL,
		LockTTL:      cfg.LockTTL,
		SyncTokenTTL: cfg.SyncTokenTTL,
		ReplayWindow: cfg.SyncReplayWindow,
		Logger:       logger.With().Str("component", "cart").Logger(),
	}

	checkoutSvc := &checkout.Service{
		Settings: settings,
		Promos:   validator,
		Carts:    cartSvc,
		Orders:   &checkout.PGOrders{Pool: deps.DB},
		Logger:   logger.With().Str("component", "checkout").Logger(),
	}

	promoLimiter, err := newPromoLimiter(cfg, deps)
	if err != nil {
		logger.Fatal().Err(err).Msg("init rate limiter")
	}

	r := newRouter(cfg, logger, routerDeps{
		auth:     auth.Middleware{Tokens: verifier},
		cart:     &cart.Handler{Svc: cartSvc},
		checkout: &checkout.Handler{Svc: checkoutSvc},
		health:   health.Handler{Checker: health.Probe{Pool: deps.DB, Redis: deps.Redis}},
		idem:     common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL},
		limiter: ratelimit.Handler{
			Limiter: promoLimiter,
			Key:     ratelimit.ByClientIP,
			OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
		},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-ctx.Done():
		health.SetReady(false)
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}
}

func settingsSource(cfg *config.Config, logger zerolog.Logger) pricing.Source {
	switch {
	case cfg.PricingSettingsURL != "":
		return &pricing.HTTPSource{
			BaseURL: cfg.PricingSettingsURL,
			Client:  app.OutboundClient(cfg.Outbound, "pricing-settings", cfg.Outbound.RetryMaxAttempts, logger),
		}
	case cfg.PricingSettingsFile != "":
		return &pricing.FileSource{Path: cfg.PricingSettingsFile}
	default:
		return nil
	}
}

type routerDeps struct {
	auth     auth.Middleware
	cart     *cart.Handler
	checkout *checkout.Handler
	health   health.Handler
	idem     common.Idem
	limiter  ratelimit.Handler
}

func newRouter(cfg *config.Config, logger zerolog.Logger, d routerDeps) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if cfg.Obs.TracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if cfg.Obs.MetricsEnabled {
		metrics := obs.NewHTTPMetrics("storefront", obs.ParseBucketsCSV(cfg.Obs.MetricsBucketCSV), nil)
		r.Use(obs.HTTPObs{Metrics: metrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: cfg.SecureHeaders, EnableHSTS: cfg.AppEnv == "production"}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", common.IdempotencyHeader},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if cfg.Obs.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Get("/health/live", d.health.Live)
	r.Get("/health/ready", d.health.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(security.BodyLimit{Max: cfg.MaxBodyBytes}.Middleware)

		v.Group(func(pub chi.Router) {
			pub.Use(d.auth.Authenticate)
			pub.With(d.limiter.Middleware).Post("/checkout/promocode/validate", d.checkout.ValidatePromocode)
			pub.Post("/checkout/totals", d.checkout.Totals)
		})

		v.Group(func(authed chi.Router) {
			authed.Use(d.auth.RequireAuth)
			d.cart.Routes(authed)
			authed.With(d.idem.Middleware).Post("/checkout/orders", d.checkout.PlaceOrder)
		})
	})
	return r
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}
