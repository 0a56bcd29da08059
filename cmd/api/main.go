package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lotline/auction-checkout/internal/audit"
	"github.com/lotline/auction-checkout/internal/billing"
	"github.com/lotline/auction-checkout/internal/common"
	"github.com/lotline/auction-checkout/internal/config"
	"github.com/lotline/auction-checkout/internal/db"
	"github.com/lotline/auction-checkout/internal/events"
	"github.com/lotline/auction-checkout/internal/health"
	"github.com/lotline/auction-checkout/internal/lock"
	"github.com/lotline/auction-checkout/internal/obs"
	"github.com/lotline/auction-checkout/internal/payment"
	"github.com/lotline/auction-checkout/internal/ratelimit"
	"github.com/lotline/auction-checkout/internal/resilience"
	"github.com/lotline/auction-checkout/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)

	tracingEnabled := cfg.TracingEnabled
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "auction-checkout",
			Endpoint:      cfg.TracingEndpoint,
			SamplingRatio: cfg.TracingSampleRate,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "auction-checkout"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	queries := db.New(pool)

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisotel.InstrumentMetrics(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis metrics")
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	tiers, err := billing.ParseTiers(cfg.PremiumTiersJSON)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse premium tiers")
	}
	rates := billing.RateConfig{
		BuyersPremiumRate: &cfg.BuyersPremiumRate,
		TaxRate:           cfg.TaxRate,
		PremiumTiers:      tiers,
	}

	validate := validator.New()
	billingHandler := &billing.Handler{
		Validate: validate,
		Defaults: rates,
		Currency: cfg.CurrencyCode,
	}

	auditSvc := audit.Service{
		Store:        queries,
		Enabled:      cfg.AuditEnabled,
		SamplingRate: cfg.AuditSamplingRate,
	}
	bus := &events.Bus{Store: queries}

	provider := payment.Stripe{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		BaseURL:       cfg.StripeBaseURL,
		HTTPClient:    &http.Client{Timeout: cfg.ProviderTimeout},
	}
	breaker := resilience.NewBreaker(5, 0.5, 30*time.Second).
		WithTarget("stripe").
		WithLogger(logger)
	locker := &lock.Locker{R: redisClient}

	paymentSvc := &payment.Service{
		Q:               payment.NewStore(queries),
		Pool:            pool,
		Provider:        provider,
		Breaker:         breaker,
		Locker:          locker,
		Audit:           auditSvc,
		Events:          bus,
		Rates:           rates,
		Currency:        cfg.CurrencyCode,
		ProviderTimeout: cfg.ProviderTimeout,
		LockTTL:         cfg.ReconcileLockTTL,
		SuccessURL:      cfg.CheckoutSuccessURL,
		CancelURL:       cfg.CheckoutCancelURL,
	}
	paymentHandler := &payment.Handler{Svc: paymentSvc, Validate: validate}
	webhookHandler := payment.Webhook{
		Svc:       paymentSvc,
		Provider:  provider,
		Replay:    redisClient,
		ReplayTTL: cfg.WebhookReplayTTL,
	}

	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}
	pollLimiter := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "ratelimit:"},
		Config: ratelimit.Config{
			Key: func(r *http.Request) string {
				return "reconcile:" + common.ClientIP(r) + ":" + chi.URLParam(r, "sessionID")
			},
			Window: cfg.ReconcilePollWindow,
			Max:    cfg.ReconcilePollMax,
		},
		OnError: func(err error) {
			logger.Warn().Err(err).Msg("rate limiter unavailable")
		},
	}

	httpMetrics := obs.NewHTTPMetrics(cfg.MetricsNamespace, obs.ParseBucketsCSV(cfg.HTTPBucketsCSV), nil)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: cfg.SecurityHeadersEnable, EnableHSTS: cfg.AppEnv == "production"}.Middleware)
	r.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	if cfg.AppEnv != "production" {
		user := strings.TrimSpace(os.Getenv("SECURE_PPROF_BASIC_AUTH_USER"))
		pass := strings.TrimSpace(os.Getenv("SECURE_PPROF_BASIC_AUTH_PASS"))
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker:      readinessChecker{db: pool, redis: redisClient},
		DBTimeout:    500 * time.Millisecond,
		RedisTimeout: 300 * time.Millisecond,
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Post("/invoices/preview", billingHandler.Preview)
		v.Get("/invoices/{invoiceID}", paymentHandler.GetInvoice)

		v.With(idem.Middleware).Post("/checkout/sessions", paymentHandler.CreateSession)

		v.Route("/payments", func(p chi.Router) {
			p.With(pollLimiter.Middleware).Post("/{sessionID}/reconcile", paymentHandler.Reconcile)
			p.Get("/{sessionID}", paymentHandler.GetSession)
		})

		v.Post("/webhooks/stripe", webhookHandler.Handle)
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("server stopped")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

type readinessChecker struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func (c readinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.db == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.Ping(ctx)
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
