package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/coverchain/policy-server-go/internal/config"
	"github.com/coverchain/policy-server-go/internal/database"
	"github.com/coverchain/policy-server-go/internal/handler"
	"github.com/coverchain/policy-server-go/internal/jobs"
	"github.com/coverchain/policy-server-go/internal/metrics"
	"github.com/coverchain/policy-server-go/internal/middleware"
	"github.com/coverchain/policy-server-go/internal/redis"
	"github.com/coverchain/policy-server-go/internal/registry"
	"github.com/coverchain/policy-server-go/internal/repository"
	"github.com/coverchain/policy-server-go/internal/service"
	"github.com/coverchain/policy-server-go/internal/sse"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("failed to read .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)
	if cfg.IsProduction() {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	if err := cfg.Validate(cfg.IsProduction()); err != nil {
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

	if cfg.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), config.MigrationTimeout)
		if err := database.Migrate(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		cancel()
	}

	ctx, cancel = context.WithTimeout(context.Background(), config.DBPingTimeout)
	redisClient, err := redis.NewClient(ctx, cfg.RedisURL)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promRegistry)

	accountRepo := repository.NewAccountRepository(db.DB)
	sessionRepo := repository.NewSessionRepository(db.DB)
	policyRepo := repository.NewPolicyRepository(db.DB)
	purchaseRepo := repository.NewPurchaseRepository(db.DB)
	submissionRepo := repository.NewSubmissionRepository(db.DB)

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	// Left as a nil interface when disabled so the service reports Unavailable.
	var reg registry.Registry
	if cfg.Registry.Enabled() {
		client, err := registry.NewClient(cfg.Registry.RPCURL, cfg.Registry.RPCTimeout(), m.ObserveRegistryRPC)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create registry client")
		}
		reg = registry.New(client, registry.Config{
			ChainID:         cfg.Registry.ChainID,
			UserRegistry:    registry.Address(cfg.Registry.UserRegistryAddress),
			CompanyRegistry: registry.Address(cfg.Registry.CompanyRegistryAddr),
			Insurance:       registry.Address(cfg.Registry.InsuranceAddress),
		})
		log.Info().Uint64("chainId", cfg.Registry.ChainID).Msg("registry enabled")
	} else {
		log.Warn().Msg("REGISTRY_RPC_URL not set: registry features disabled")
	}

	identityService := service.NewIdentityService(accountRepo, sessionRepo, service.IdentityConfig{
		SessionSecret:      cfg.SessionSecret,
		SessionTTL:         cfg.SessionTTL(),
		AdminBootstrapHash: cfg.AdminBootstrapHash,
		BcryptCost:         config.BcryptCost,
	}, m)
	catalogService := service.NewCatalogService(db, policyRepo, purchaseRepo, accountRepo)
	purchaseService := service.NewPurchaseService(db, accountRepo, policyRepo, purchaseRepo, m)
	registryService := service.NewRegistryService(
		reg, db, accountRepo, policyRepo, purchaseRepo, submissionRepo, broker,
		service.RegistryConfig{
			CredentialSecret: cfg.SessionSecret,
			ConfirmTimeout:   cfg.Registry.ConfirmTimeout(),
			OwnerAddress:     registry.Address(cfg.Registry.OwnerAddress),
		}, m,
	)

	rateLimit := cfg.RateLimitPerMin
	if rateLimit <= 0 {
		rateLimit = config.DefaultRateLimitPerMin
	}
	guards := handler.Guards{
		Auth:      middleware.NewAuthMiddleware(identityService),
		RateLimit: middleware.NewRateLimitMiddleware(middleware.NewRedisRateLimiter(redisClient.Client), rateLimit).Handler,
		Login:     middleware.NewLoginRateLimiter().Handler,
		Timeout:   chimiddleware.Timeout(config.ServerRequestTimeout),
	}

	accountHandler := handler.NewAccountHandler(identityService, purchaseService, guards)
	policyHandler := handler.NewPolicyHandler(catalogService, purchaseService, guards)
	purchaseHandler := handler.NewPurchaseHandler(purchaseService, guards)
	registryHandler := handler.NewRegistryHandler(registryService, handler.NewEventsHandler(broker), guards)
	redisPing := handler.PingFunc(func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})
	healthHandler := handler.NewHealthHandler(map[string]handler.Pinger{
		"database": db,
		"redis":    redisPing,
	})

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(m))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.NewSecurityHeadersMiddleware(cfg.IsProduction()).Handler)
	r.Use(middleware.NewBodyLimitMiddleware(0).Handler)

	r.Get("/health", healthHandler.ServeHTTP)
	r.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{Registry: promRegistry}))

	r.Route("/v1", func(r chi.Router) {
		r.Mount("/accounts", accountHandler.Routes())
		r.Mount("/policies", policyHandler.Routes())
		r.Mount("/purchases", purchaseHandler.Routes())
		r.Mount("/registry", registryHandler.Routes())
	})

	cleanupJob := jobs.NewCleanupJob(sessionRepo, purchaseRepo, config.CleanupJobInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	if registryService.Enabled() {
		reconcileJob := jobs.NewReconcileJob(registryService, cfg.Registry.PollInterval())
		reconcileJob.Start()
		defer reconcileJob.Stop()
	}

	server := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     r,
		ReadTimeout: config.ServerReadTimeout,
		// Unbounded so the registry event stream stays open.
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
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}
