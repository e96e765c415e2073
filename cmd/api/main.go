package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/hostedpay/internal/checkout"
	"github.com/noah-isme/hostedpay/internal/config"
	"github.com/noah-isme/hostedpay/internal/health"
	"github.com/noah-isme/hostedpay/internal/invoice"
	"github.com/noah-isme/hostedpay/internal/lock"
	"github.com/noah-isme/hostedpay/internal/obs"
	"github.com/noah-isme/hostedpay/internal/order"
	"github.com/noah-isme/hostedpay/internal/ratelimit"
	"github.com/noah-isme/hostedpay/internal/session"
	"github.com/noah-isme/hostedpay/internal/signature"
	"github.com/noah-isme/hostedpay/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()
	obs.MustRegisterDomainMetrics("hostedpay", nil)

	shutdownTracer, err := obs.InitTracer(context.Background(), obs.TracingConfig{
		ServiceName:   "hostedpay",
		Endpoint:      cfg.TracingEndpoint,
		SamplingRatio: cfg.TracingRatio,
		Environment:   cfg.AppEnv,
	})
	if err != nil {
		logger.Error().Err(err).Msg("initialise tracing")
	} else {
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				logger.Error().Err(err).Msg("shutdown tracer")
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := order.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("apply migrations")
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() { _ = redisClient.Close() }()
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisotel.InstrumentMetrics(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis metrics")
	}

	orders := &order.PostgresStore{Pool: pool}

	providerClient := &invoice.Client{
		BaseURL:    cfg.ProviderBaseURL,
		PrivateKey: cfg.PrivateKey,
		HTTP: &http.Client{
			Timeout:   cfg.ProviderTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		Logger: logger.With().Str("component", "provider").Logger(),
	}

	sessions := &session.Manager{
		Store:    session.RedisStore{R: redisClient, TTL: cfg.SessionTTL},
		Locks:    lock.Locker{R: redisClient},
		Invoices: providerClient,
		Builder: invoice.Builder{
			ShopID:  cfg.ShopID,
			CMS:     "storefront",
			Module:  "hostedpay",
			Plugin:  "hostedpay-gateway",
			Version: "1.0.0",
		},
		LockTTL: cfg.LockTTL,
		Logger:  logger.With().Str("component", "session").Logger(),
	}

	checkoutHandler := checkout.Handler{Service: &checkout.Service{
		Orders:    orders,
		Sessions:  sessions,
		ScriptURL: cfg.CheckoutScriptURL,
		Form: checkout.FormOptions{
			LogoURL:     cfg.FormLogoURL,
			CompanyName: cfg.FormCompanyName,
			ButtonLabel: cfg.FormButtonLabel,
			Description: cfg.FormDescription,
		},
		Logger: logger.With().Str("component", "checkout").Logger(),
	}}

	reconciler := &webhook.Reconciler{
		Orders:    orders,
		ShopID:    cfg.ShopID,
		PublicKey: signature.NormalizePublicKey(cfg.CallbackPublicKey),
		Logger:    logger.With().Str("component", "webhook").Logger(),
	}

	checkoutLimit := ratelimit.Middleware{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "rl:checkout:"},
		KeyFunc: func(r *http.Request) string {
			return chi.URLParam(r, "orderID") + "|" + r.RemoteAddr
		},
		Window:  cfg.RateLimitWindow,
		Max:     cfg.RateLimitMax,
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
	}

	healthHandler := health.Handler{Checker: health.Probes{DB: pool, Redis: redisClient}}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(checkoutLimit.Handler).Post("/orders/{orderID}/checkout", checkoutHandler.Checkout)
		r.Get("/orders/{orderID}/confirmation", checkoutHandler.Confirm)
		r.Post("/webhooks/invoicing", reconciler.Handler())
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
}
