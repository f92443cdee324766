package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"

	_ "github.com/scribelink/scribelink-api/api/swagger"
	"github.com/scribelink/scribelink-api/internal/handler"
	"github.com/scribelink/scribelink-api/internal/observability"
	"github.com/scribelink/scribelink-api/internal/repository"
	"github.com/scribelink/scribelink-api/internal/service"
	"github.com/scribelink/scribelink-api/pkg/cache"
	"github.com/scribelink/scribelink-api/pkg/config"
	"github.com/scribelink/scribelink-api/pkg/database"
	"github.com/scribelink/scribelink-api/pkg/jobs"
	"github.com/scribelink/scribelink-api/pkg/logger"
	"github.com/scribelink/scribelink-api/pkg/storage"
)

// @title ScribeLink API
// @version 1.0.0
// @description Marketplace connecting students with disabilities to volunteer scribes for exam assistance
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	flushSentry, err := observability.InitSentry(cfg.Sentry.DSN, cfg.Sentry.Environment, "scribelink-api")
	if err != nil {
		logr.Sugar().Warnw("sentry disabled", "error", err)
	} else {
		defer flushSentry()
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	if err := database.Migrate(db); err != nil {
		logr.Sugar().Fatalw("failed to run migrations", "error", err)
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
	}

	store, err := storage.NewLocalStorage(cfg.Materials.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init material storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Materials.SignedURLSecret, cfg.Materials.SignedURLTTL)

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	volunteerRepo := repository.NewVolunteerRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsService := service.NewMetricsService()

	authService := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})

	notificationService := service.NewNotificationService(notificationRepo, logr, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.BufferSize,
		MaxRetries: cfg.Notifications.MaxRetries,
	})

	matchingService := service.NewMatchingService(volunteerRepo, requestRepo, cacheRepo, cfg.Matching.CacheTTL, logr)
	matchingService.SetMetrics(metricsService)

	requestService := service.NewRequestService(
		requestRepo, studentRepo, volunteerRepo,
		notificationService, matchingService, userRepo,
		store, signer, cfg.Materials, validate, logr,
	)
	requestService.SetMetrics(metricsService)

	studentService := service.NewStudentService(studentRepo, validate, logr)
	volunteerService := service.NewVolunteerService(volunteerRepo, matchingService, validate, logr)
	adminService := service.NewAdminService(userRepo, volunteerRepo, requestRepo, cacheRepo, notificationService, cfg.AdminStats.CacheTTL, logr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notificationService.Start(ctx)
	defer notificationService.Stop()

	router := handler.NewRouter(handler.RouterDeps{
		Config:        cfg,
		Logger:        logr,
		DB:            db,
		Cache:         cacheRepo,
		Metrics:       metricsService,
		Auth:          handler.NewAuthHandler(authService),
		Students:      handler.NewStudentHandler(studentService),
		Volunteers:    handler.NewVolunteerHandler(volunteerService, matchingService),
		Requests:      handler.NewRequestHandler(requestService),
		Notifications: handler.NewNotificationHandler(notificationService),
		Admin:         handler.NewAdminHandler(adminService, metricsService),
		AuthService:   authService,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
