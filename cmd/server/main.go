package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/crm-sync-server/internal/config"
	"github.com/openclaw/crm-sync-server/internal/crm"
	"github.com/openclaw/crm-sync-server/internal/database"
	"github.com/openclaw/crm-sync-server/internal/handler"
	"github.com/openclaw/crm-sync-server/internal/jobs"
	"github.com/openclaw/crm-sync-server/internal/middleware"
	"github.com/openclaw/crm-sync-server/internal/redis"
	"github.com/openclaw/crm-sync-server/internal/repository"
	"github.com/openclaw/crm-sync-server/internal/service"
	"github.com/openclaw/crm-sync-server/internal/util"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to read .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("database connected")

	if err := db.Migrate(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	principalRepo := repository.NewPrincipalRepository(db.DB)
	secretBox, err := util.NewSecretBox(cfg.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid ENCRYPTION_KEY")
	}
	credentialRepo := repository.NewCredentialRepository(db.DB, secretBox)
	syncRunRepo := repository.NewSyncRunRepository(db.DB)

	var (
		loginLimiter service.RateLimiter
		syncLocker   service.SyncLocker
	)
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
		redisClient, err := redis.NewClient(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")

		loginLimiter = service.NewRedisRateLimiter(
			redisClient.Client, redis.RateLimitPrefix("login"), cfg.LoginRateLimitPerMin, config.LoginRateLimitWindow,
		)
		syncLocker = service.NewRedisSyncLocker(redisClient.Client, redis.SyncLockKey(), config.SyncLockTTL)
	} else {
		log.Warn().Msg("REDIS_URL not set: login rate limit and sync lock are per instance")
		loginLimiter = service.NewMemoryRateLimiter(cfg.LoginRateLimitPerMin, config.LoginRateLimitWindow)
		syncLocker = service.NewLocalSyncLocker()
	}

	crmClient, err := crm.NewClient(crm.Config{
		AuthURL:       cfg.CRM.AuthURL,
		ClientID:      cfg.CRM.ClientID,
		ClientSecret:  cfg.CRM.ClientSecret,
		Username:      cfg.CRM.Username,
		Password:      cfg.CRM.Password,
		GrantType:     cfg.CRM.GrantType,
		APIVersion:    cfg.CRM.APIVersion,
		Object:        cfg.CRM.Object,
		SyncFlagField: cfg.CRM.SyncFlagField,
	}, &http.Client{Timeout: cfg.CRM.RequestTimeout()})
	if err != nil {
		log.Fatal().Err(err).Msg("invalid CRM configuration")
	}

	sessionService := service.NewSessionService(principalRepo, cfg.SessionTTL())
	authService := service.NewAuthService(principalRepo, sessionService)
	principalService := service.NewPrincipalService(principalRepo)
	credentialCache := service.NewCredentialCache(
		credentialRepo, crmClient, cfg.CRM.CredentialFreshness(), cfg.CRM.RequestTimeout(),
	)
	syncService := service.NewSyncService(
		credentialCache, crmClient, principalRepo, syncRunRepo, syncLocker,
		cfg.CRM.RequestTimeout(), cfg.SyncConcurrency,
	)

	if cfg.AdminPasswordHash != "" {
		if _, err := principalService.EnsureAdmin(context.Background(), cfg.AdminUsername, cfg.AdminPasswordHash); err != nil {
			log.Fatal().Err(err).Msg("failed to provision admin")
		}
	} else {
		log.Warn().Msg("ADMIN_PASSWORD_HASH not set: admin principal not provisioned")
	}

	router := handler.NewRouter(handler.RouterDeps{
		Health:          handler.NewHealthHandler(db),
		Auth:            handler.NewAuthHandler(authService, principalService),
		Users:           handler.NewUsersHandler(principalService),
		Sync:            handler.NewSyncHandler(syncService),
		AuthMiddleware:  middleware.NewAuthMiddleware(sessionService),
		LoginRateLimit:  middleware.NewIPRateLimitMiddleware(loginLimiter),
		SecurityHeaders: middleware.NewSecurityHeadersMiddleware(isProduction),
		BodyLimit:       middleware.NewBodyLimitMiddleware(0),
	})

	if interval := cfg.SyncInterval(); interval > 0 {
		syncJob := jobs.NewScheduledSyncJob(syncService, interval, config.ScheduledSyncTimeout)
		syncJob.Start()
		defer syncJob.Stop()
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
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
