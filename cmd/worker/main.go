package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/meditrust/records-api/config"
	"github.com/meditrust/records-api/internal/repository/postgres"
	auditService "github.com/meditrust/records-api/internal/service/audit"
	"github.com/meditrust/records-api/pkg/clock"
	"github.com/meditrust/records-api/pkg/logger"
	redisbroker "github.com/meditrust/records-api/pkg/messaging/redis"
	"github.com/meditrust/records-api/pkg/metrics"
	"github.com/meditrust/records-api/pkg/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil)
	clk := clock.New()
	m := metrics.NewMetrics("records_worker")

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

	base := postgres.NewBaseRepository(db)
	sessionRepo := postgres.NewSessionRepository(base)
	credentialRepo := postgres.NewCredentialRepository(base)
	auditRepo := postgres.NewAuditRepository(base)
	auditSvc := auditService.NewService(auditRepo, clk, appLogger, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessionSweeper := worker.NewSessionSweeper(sessionRepo, broker, clk, cfg.Session.SweepInterval, appLogger, m)
	retentionSweeper := worker.NewRetentionSweeper(auditSvc, credentialRepo, clk, cfg.Audit.Retention, cfg.Audit.PurgeInterval, appLogger, m)

	go sessionSweeper.Start(ctx)
	go retentionSweeper.Start(ctx)

	appLogger.Info("Worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down worker")
	cancel()
}
