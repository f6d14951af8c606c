package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gatepass/access-server/internal/auth"
	"github.com/gatepass/access-server/internal/codec"
	"github.com/gatepass/access-server/internal/config"
	"github.com/gatepass/access-server/internal/database"
	"github.com/gatepass/access-server/internal/gate"
	"github.com/gatepass/access-server/internal/handler"
	"github.com/gatepass/access-server/internal/jobs"
	"github.com/gatepass/access-server/internal/middleware"
	"github.com/gatepass/access-server/internal/model"
	"github.com/gatepass/access-server/internal/redis"
	"github.com/gatepass/access-server/internal/repository"
	"github.com/gatepass/access-server/internal/service"
	"github.com/gatepass/access-server/internal/sse"
)

const reconcileBatchSize = 200

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("APP_ENV") == "production"
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	if cfg.RunMigrations {
		if err := database.Migrate(context.Background(), db.DB.DB); err != nil {
			log.Fatal().Err(err).Msg("failed to apply migrations")
		}
		log.Info().Msg("migrations applied")
	}

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	var opener gate.Opener = gate.NoopOpener{}
	if cfg.GateControlEnabled() {
		mqttOpener, closeGate, err := gate.NewMQTTOpener(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to gate broker")
		}
		defer closeGate()
		opener = mqttOpener
	}

	invitationRepo := repository.NewInvitationRepository(db.DB)
	unitRepo := repository.NewUnitRepository(db.DB)
	accessLogRepo := repository.NewAccessLogRepository(db.DB)

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	logQueue := service.NewRedisLogQueue(redisClient)
	invitationService := service.NewInvitationService(invitationRepo, unitRepo, codec.New(cfg.CredentialSecret))
	recorder := service.NewAccessLogRecorder(accessLogRepo)
	authorizer := service.NewAccessAuthorizer(
		invitationService, unitRepo, recorder, logQueue, broker, opener, cfg.ScanTimeout(),
	)

	authMiddleware := middleware.NewAuthMiddleware(auth.NewTokenService(cfg.JWTSecret))
	limiter := middleware.NewRedisRateLimiter(redisClient.Client)
	scanRateLimit := middleware.NewRateLimitMiddleware(limiter, "access", cfg.ScanRateLimitPerMin)
	apiRateLimit := middleware.NewRateLimitMiddleware(limiter, "api", config.DefaultRateLimitPerMin)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	invitationHandler := handler.NewInvitationHandler(invitationService, recorder, cfg.QRImageSize)
	accessHandler := handler.NewAccessHandler(authorizer, recorder)
	eventsHandler := handler.NewEventsHandler(broker, recorder)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(securityHeadersMiddleware.Handler)
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), config.DBPingTimeout)
		defer cancel()

		status, code := "ok", http.StatusOK
		if err := db.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("health check: database unreachable")
			status, code = "degraded", http.StatusServiceUnavailable
		} else if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("health check: redis unreachable")
			status, code = "degraded", http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    status,
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.Handler)

		// SSE streams outlive the request timeout.
		r.With(middleware.RequireRole(model.RoleGuard, model.RoleAdmin)).
			Get("/access/events", eventsHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

			r.Route("/invitations", func(r chi.Router) {
				r.Use(apiRateLimit.Handler)
				r.Mount("/", invitationHandler.Routes())
			})

			r.Route("/access", func(r chi.Router) {
				r.Use(middleware.RequireRole(model.RoleGuard, model.RoleAdmin))
				r.Use(scanRateLimit.Handler)
				r.Mount("/", accessHandler.Routes())
			})
		})
	})

	reconcileJob := jobs.NewReconcileJob(logQueue, recorder, config.ReconcileJobInterval, reconcileBatchSize)
	reconcileJob.Start()
	defer reconcileJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
