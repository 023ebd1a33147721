package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-exam-api/internal/authz"
	"github.com/noah-isme/gema-exam-api/internal/config"
	"github.com/noah-isme/gema-exam-api/internal/database"
	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/handler"
	"github.com/noah-isme/gema-exam-api/internal/middleware"
	"github.com/noah-isme/gema-exam-api/internal/observability"
	"github.com/noah-isme/gema-exam-api/internal/repository"
	"github.com/noah-isme/gema-exam-api/internal/router"
	"github.com/noah-isme/gema-exam-api/internal/service"
	cloud "github.com/noah-isme/gema-exam-api/pkg/cloudinary"
	"github.com/noah-isme/gema-exam-api/pkg/identity"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()
	if !cfg.IsProduction() {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	observability.RegisterMetrics()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName)
	if err != nil {
		logger.Warn().Err(err).Msg("nats unavailable, result events disabled")
		natsConn = nil
	}
	if natsConn != nil {
		defer natsConn.Drain()
	}

	validate := dto.NewValidator()
	gate := authz.NewGate()

	accountRepo := repository.NewAccountRepository(db)
	refreshRepo := repository.NewRefreshTokenRepository(db)
	examRepo := repository.NewExamRepository(db)
	questionRepo := repository.NewQuestionRepository(db)
	resultRepo := repository.NewResultRepository(db)
	blacklist := repository.NewTokenBlacklist(redisClient)
	oauthStates := repository.NewOAuthStateStore(redisClient)

	hasher := service.NewPasswordHasher(cfg.BcryptCost)
	tokens := service.NewTokenService(service.TokenServiceConfig{
		AccessSecret:  cfg.JWTSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
		Issuer:        cfg.AppName,
	}, blacklist, logger)
	guard := service.NewAccountGuard(cfg.LockoutThreshold, cfg.LockoutDuration)

	authService := service.NewAuthService(accountRepo, refreshRepo, tokens, hasher, guard, validate, logger)
	accountService := service.NewAccountService(accountRepo, refreshRepo, hasher, validate, logger)
	oauthService := service.NewOAuthService(newIdentityProvider(cfg, logger), oauthStates, authService, validate, logger)
	examService := service.NewExamService(examRepo, questionRepo, gate, validate, logger)
	questionService := service.NewQuestionService(questionRepo, gate, newImageStorage(cfg, logger), cfg.UploadMaxSizeMB, validate, logger)
	attemptService := service.NewAttemptService(examRepo, resultRepo, gate, service.NewResultPublisher(natsConn, logger), redisClient, cfg.ResultSummaryCacheTTL, validate, logger)
	seedService := service.NewSeedService(accountRepo, hasher, questionService, service.SeedConfig{
		AdminEmail:    cfg.SeedAdminEmail,
		AdminPassword: cfg.SeedAdminPassword,
		AdminName:     cfg.SeedAdminName,
		Token:         cfg.SeedToken,
	}, logger)

	bootCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if _, err := seedService.SeedAdmin(bootCtx); err != nil {
		logger.Error().Err(err).Msg("failed to seed admin account")
	}
	cancel()

	expose := !cfg.IsProduction()
	limiterStore := repository.NewRateLimitStore(redisClient)
	loginLimiter := middleware.RateLimit("login", cfg.LoginRateLimit, cfg.LoginRateWindow, limiterStore)
	submitLimiter := middleware.RateLimit("submit", cfg.SubmitRateLimit, time.Minute, limiterStore)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    (cfg.UploadMaxSizeMB + 1) * 1024 * 1024,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AllowOrigins: cfg.CORSAllowOrigins})
	router.Register(app, cfg, router.Dependencies{
		Auth:            authService,
		AuthHandler:     handler.NewAuthHandler(authService, oauthService, loginLimiter, expose, logger),
		UserHandler:     handler.NewUserHandler(accountService, gate, expose, logger),
		ExamHandler:     handler.NewExamHandler(examService, attemptService, gate, submitLimiter, expose, logger),
		QuestionHandler: handler.NewQuestionHandler(questionService, gate, expose, logger),
		ResultHandler:   handler.NewResultHandler(attemptService, gate, expose, logger),
		SeedHandler:     handler.NewSeedHandler(seedService, expose, logger),
		HealthProbes: map[string]handler.HealthProbe{
			"postgres": func(ctx context.Context) error { return database.PingPostgres(ctx, db) },
			"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		},
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, logger)
}

// newIdentityProvider returns nil when Google login is not configured so the
// OAuth endpoints report OAUTH_DISABLED.
func newIdentityProvider(cfg config.Config, logger zerolog.Logger) service.IdentityProvider {
	if !cfg.GoogleEnabled() {
		return nil
	}
	google, err := identity.NewGoogle(identity.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	}, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("google login disabled")
		return nil
	}
	return google
}

// newImageStorage returns nil when Cloudinary is not configured, which
// disables question image uploads.
func newImageStorage(cfg config.Config, logger zerolog.Logger) service.FileStorage {
	store, err := cloud.New(cloud.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    cfg.CloudinaryUploadFolder,
	}, logger)
	if err != nil {
		logger.Info().Err(err).Msg("question image uploads disabled")
		return nil
	}
	return store
}

func waitForShutdown(app *fiber.App, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
