package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meditrust/records-api/config"
	"github.com/meditrust/records-api/internal/handler"
	auditHandler "github.com/meditrust/records-api/internal/handler/audit"
	authHandler "github.com/meditrust/records-api/internal/handler/auth"
	directoryHandler "github.com/meditrust/records-api/internal/handler/directory"
	emergencyHandler "github.com/meditrust/records-api/internal/handler/emergency"
	patientHandler "github.com/meditrust/records-api/internal/handler/patient"
	"github.com/meditrust/records-api/internal/middleware"
	"github.com/meditrust/records-api/internal/repository/postgres"
	"github.com/meditrust/records-api/internal/repository/redisstore"
	"github.com/meditrust/records-api/internal/router"
	accessService "github.com/meditrust/records-api/internal/service/access"
	auditService "github.com/meditrust/records-api/internal/service/audit"
	credentialService "github.com/meditrust/records-api/internal/service/credential"
	directoryService "github.com/meditrust/records-api/internal/service/directory"
	emergencyService "github.com/meditrust/records-api/internal/service/emergency"
	notificationService "github.com/meditrust/records-api/internal/service/notification"
	recordService "github.com/meditrust/records-api/internal/service/record"
	sessionService "github.com/meditrust/records-api/internal/service/session"
	tokenService "github.com/meditrust/records-api/internal/service/token"
	"github.com/meditrust/records-api/pkg/clock"
	"github.com/meditrust/records-api/pkg/logger"
	redisbroker "github.com/meditrust/records-api/pkg/messaging/redis"
	"github.com/meditrust/records-api/pkg/metrics"
	"github.com/meditrust/records-api/pkg/security"
	"github.com/meditrust/records-api/pkg/validator"
	"github.com/meditrust/records-api/pkg/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil)
	clk := clock.New()
	m := metrics.NewMetrics("records_api")

	if err := validator.RegisterCustom(); err != nil {
		appLogger.Fatal(err, "failed to register validations")
	}

	db, err := postgres.NewDB(postgres.DBConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Name:     cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		appLogger.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	broker, err := redisbroker.NewRedisBroker(redisbroker.Config{
		URL: cfg.Redis.URL,
	}, appLogger.Zerolog())
	if err != nil {
		appLogger.Fatal(err, "failed to connect to Redis")
	}
	defer broker.Close()

	// Repositories
	base := postgres.NewBaseRepository(db)
	identityRepo := postgres.NewIdentityRepository(base)
	credentialRepo := postgres.NewCredentialRepository(base)
	biometricRepo := postgres.NewBiometricRepository(base)
	sessionRepo := postgres.NewSessionRepository(base)
	auditRepo := postgres.NewAuditRepository(base)
	recordRepo := postgres.NewRecordRepository(base)
	rateCounter := redisstore.NewRateCounter(broker.Client(), "otp")

	// Services
	auditSvc := auditService.NewService(auditRepo, clk, appLogger, m)
	directorySvc := directoryService.NewService(identityRepo, biometricRepo)
	tokenSvc := tokenService.NewService(tokenService.Config{
		Secret:     cfg.JWT.Secret,
		RegularTTL: cfg.JWT.RegularTTL,
	}, clk)

	smsProvider := notificationService.NewLogSMSProvider(appLogger)
	notifier := notificationService.NewService(smsProvider, notificationService.EmailConfig{
		Host:     cfg.Email.Host,
		Port:     cfg.Email.Port,
		Username: cfg.Email.Username,
		Password: cfg.Email.Password,
		From:     cfg.Email.From,
	}, appLogger, m)

	hasher := security.NewBcryptHasher(cfg.OTP.BcryptCost)
	credentialSvc := credentialService.NewService(
		credentialRepo,
		biometricRepo,
		rateCounter,
		hasher,
		credentialService.NewPlaceholderMatcher(),
		notifier,
		clk,
		credentialService.Config{
			CodeLength:  cfg.OTP.CodeLength,
			CodeTTL:     cfg.OTP.CodeTTL,
			MaxAttempts: cfg.OTP.MaxAttempts,
			RateLimit:   cfg.OTP.RateLimit,
			RateWindow:  cfg.OTP.RateWindow,
		},
		auditSvc,
		m,
		appLogger,
	)

	sessionSvc := sessionService.NewService(
		sessionRepo,
		directorySvc,
		clk,
		sessionService.Config{TTL: cfg.Session.TTL},
		auditSvc,
		m,
		broker,
		appLogger,
	)

	accessSvc := accessService.NewService(tokenSvc, sessionSvc, auditSvc, clk, m)
	emergencySvc := emergencyService.NewService(
		directorySvc,
		credentialSvc,
		sessionSvc,
		tokenSvc,
		auditSvc,
		m,
		broker,
		appLogger,
	)

	key, err := hex.DecodeString(cfg.Encryption.Key)
	if err != nil {
		appLogger.Fatal(err, "encryption key must be hex encoded")
	}
	encryptor, err := security.NewAESEncryptor(key)
	if err != nil {
		appLogger.Fatal(err, "failed to initialize encryptor")
	}
	recordSvc := recordService.NewService(recordRepo, encryptor, clk)

	// Middleware + handlers
	accessMw := middleware.NewAccessMiddleware(tokenSvc, accessSvc)

	h := handler.NewHandler(map[string]handler.Pinger{
		"postgres": db.Ping,
		"redis": func() error {
			return broker.Client().Ping(context.Background()).Err()
		},
	})
	authH := authHandler.NewHandler(credentialSvc, directorySvc, tokenSvc)
	emergencyH := emergencyHandler.NewHandler(emergencySvc, sessionSvc, accessMw)
	patientH := patientHandler.NewHandler(recordSvc, sessionSvc, accessMw, appLogger)
	directoryH := directoryHandler.NewHandler(directorySvc, accessMw)
	auditH := auditHandler.NewHandler(auditSvc, accessMw)

	r := router.NewRouter(authH, emergencyH, patientH, directoryH, auditH, h, router.RouterConfig{
		RateLimitRPS:  cfg.RateLimit.RequestsPerSecond,
		RateBurst:     cfg.RateLimit.Burst,
		Timeout:       cfg.Server.RequestTimeout,
		MetricsPrefix: "records_api_http",
	})
	r.Setup()

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        r.Engine(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	// In-process housekeeping; the standalone worker binary runs the same
	// sweepers for deployments that separate the two.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sweeper := worker.NewSessionSweeper(sessionRepo, broker, clk, cfg.Session.SweepInterval, appLogger, m)
	go sweeper.Start(ctx)

	go func() {
		appLogger.Info("Starting server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal(err, "server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(err, "forced shutdown")
		os.Exit(1)
	}

	appLogger.Info("Server stopped")
}
