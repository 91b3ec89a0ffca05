package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/medqr/medqr/internal/config"
	"github.com/medqr/medqr/internal/domain/emergency"
	"github.com/medqr/medqr/internal/domain/hospital"
	"github.com/medqr/medqr/internal/domain/identity"
	"github.com/medqr/medqr/internal/domain/patient"
	"github.com/medqr/medqr/internal/domain/record"
	"github.com/medqr/medqr/internal/platform/access"
	"github.com/medqr/medqr/internal/platform/apperr"
	"github.com/medqr/medqr/internal/platform/auth"
	"github.com/medqr/medqr/internal/platform/db"
	"github.com/medqr/medqr/internal/platform/events"
	"github.com/medqr/medqr/internal/platform/middleware"
	"github.com/medqr/medqr/internal/platform/reporting"
	"github.com/medqr/medqr/internal/platform/telemetry"
	"github.com/medqr/medqr/internal/platform/view"
)

const (
	version        = "0.1.0"
	requestTimeout = 30 * time.Second
	loginPerMinute = 10
)

type deps struct {
	authz   *access.Authorizer
	events  events.Publisher
	logger  zerolog.Logger
	tokens  *auth.TokenIssuer
	metrics *telemetry.Provider
}

// domain holds the wired services.
type domain struct {
	hospitals *hospital.Service
	patients  *patient.Service
	records   *record.Service
	users     *identity.Service
	emergency *emergency.Service
	proj      *view.Projector
}

func newDomain(pool *pgxpool.Pool, d deps) *domain {
	proj := view.NewProjector(nil)

	hospitals := hospital.NewService(hospital.NewRepo(pool), d.authz)

	patients := patient.NewService(patient.NewRepo(pool), d.authz, hospitals)
	patients.SetEvents(d.events, d.logger)

	records := record.NewService(record.NewRepo(pool), d.authz, patients, hospitals)
	records.SetEvents(d.events, d.logger)

	users := identity.NewService(identity.NewRepo(pool), hospitals, patients, d.tokens)
	users.SetEvents(d.events, d.logger)

	scans := emergency.NewService(patients, records, proj)
	scans.SetEvents(d.events, d.logger)
	if d.metrics != nil {
		scans.SetObserver(d.metrics.ObserveScan)
	}

	return &domain{
		hospitals: hospitals,
		patients:  patients,
		records:   records,
		users:     users,
		emergency: scans,
		proj:      proj,
	}
}

func tokenIssuer(cfg *config.Config) *auth.TokenIssuer {
	return auth.NewTokenIssuer(auth.TokenConfig{
		Secret: []byte(cfg.JWTSecret),
		Issuer: cfg.JWTIssuer,
		TTL:    cfg.JWTTTL,
	})
}

// newPublisher sends events to Kafka when brokers are configured and to the
// log otherwise.
func newPublisher(cfg *config.Config, logger zerolog.Logger) events.Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		return events.NewLogPublisher(logger)
	}
	logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing events to kafka")
	return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
}

// newLimitStore shares rate limit counters through Redis when REDIS_URL is
// set. An unreachable Redis falls back to per-process buckets.
func newLimitStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (middleware.LimitStore, func()) {
	if cfg.RedisURL == "" {
		return middleware.NewMemoryLimitStore(), func() {}
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn().Err(err).Msg("invalid REDIS_URL, using in-memory rate limits")
		return middleware.NewMemoryLimitStore(), func() {}
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis unreachable, using in-memory rate limits")
		client.Close()
		return middleware.NewMemoryLimitStore(), func() {}
	}
	return middleware.NewRedisLimitStore(client), func() { client.Close() }
}

// router carries everything newRouter mounts.
type router struct {
	cfg     *config.Config
	logger  zerolog.Logger
	domain  *domain
	tokens  *auth.TokenIssuer
	authz   *access.Authorizer
	events  events.Publisher
	metrics *telemetry.Provider
	limits  middleware.LimitStore
	db      db.Pinger
	reports reporting.Querier
}

func newRouter(r router) *echo.Echo {
	cfg, logger := r.cfg, r.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.ErrorHandler(logger)

	e.Use(middleware.RequestID())
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.Logger(logger))
	e.Use(r.metrics.Middleware())
	e.Use(middleware.SecurityHeaders(cfg.TLSEnabled))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.Sanitize(logger))
	e.Use(middleware.RequestTimeout(requestTimeout))
	e.Use(middleware.Audit(logger, events.AuditRecorder(r.events)))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(r.db, logger))
	e.GET("/metrics", r.metrics.Handler())

	apiLimit := middleware.RateLimitConfig{Prefix: "api", RequestsPerSecond: cfg.RateLimitRPS, BurstSize: cfg.RateLimitBurst}
	if apiLimit.RequestsPerSecond <= 0 {
		apiLimit = middleware.DefaultRateLimitConfig()
	}

	public := e.Group("/api/v1", middleware.RateLimit(apiLimit, r.limits, logger))
	// Authenticate runs first so authenticated traffic is limited per user.
	api := e.Group("/api/v1", auth.Authenticate(r.tokens, r.domain.users), middleware.RateLimit(apiLimit, r.limits, logger))

	d := r.domain
	identity.NewHandler(d.users).RegisterRoutes(public, api,
		middleware.RateLimit(middleware.PerMinute("login", loginPerMinute), r.limits, logger))
	emergency.NewHandler(d.emergency).RegisterRoutes(public,
		middleware.RateLimit(middleware.PerMinute("qr", cfg.QRRateLimitRPM), r.limits, logger))

	hospital.NewHandler(d.hospitals).RegisterRoutes(api)
	patient.NewHandler(d.patients, d.proj).RegisterRoutes(api)
	record.NewHandler(d.records, d.proj).RegisterRoutes(api)
	reporting.NewHandler(r.reports, r.authz).RegisterRoutes(api)

	return e
}

func runServer(env *env) error {
	cfg, logger := env.cfg, env.logger
	ctx := context.Background()

	metrics := telemetry.New(true)
	if err := metrics.RegisterPool(env.pool); err != nil {
		logger.Warn().Err(err).Msg("pool metrics unavailable")
	}

	pub := events.Observed(newPublisher(cfg, logger), metrics.ObserveEvent)
	defer func() {
		if err := pub.Close(); err != nil {
			logger.Warn().Err(err).Msg("close event publisher")
		}
	}()

	limits, closeLimits := newLimitStore(ctx, cfg, logger)
	defer closeLimits()

	authz := access.NewAuthorizer(metrics.ObserveDecision)
	tokens := tokenIssuer(cfg)
	d := newDomain(env.pool, deps{authz: authz, events: pub, logger: logger, tokens: tokens, metrics: metrics})

	e := newRouter(router{
		cfg:     cfg,
		logger:  logger,
		domain:  d,
		tokens:  tokens,
		authz:   authz,
		events:  pub,
		metrics: metrics,
		limits:  limits,
		db:      env.pool,
		reports: env.pool,
	})

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Str("env", cfg.Env).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
