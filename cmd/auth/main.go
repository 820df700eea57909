package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/learning-platform/internal/api/http"
	"github.com/spec-kit/learning-platform/internal/api/http/handlers"
	"github.com/spec-kit/learning-platform/internal/config"
	"github.com/spec-kit/learning-platform/internal/messaging"
	"github.com/spec-kit/learning-platform/internal/observability"
	"github.com/spec-kit/learning-platform/internal/persistence"
	"github.com/spec-kit/learning-platform/internal/repository"
	"github.com/spec-kit/learning-platform/internal/service"
	"github.com/spec-kit/learning-platform/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), "migrations/auth", logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	broker := messaging.NewRedisBroker(redis.Client, logger)
	defer broker.Close()

	metrics := observability.NewMetrics()
	accountRepo := repository.NewAccountRepository(pg.PoolHandle())

	authService := service.NewAuthService(*cfg, accountRepo, broker, logger)
	passwordService := service.NewPasswordService(*cfg, accountRepo, broker, logger)

	if err := worker.RegisterAuthConsumers(broker, cfg.Broker, passwordService, logger); err != nil {
		logger.Fatal("failed to register consumers", zap.Error(err))
	}

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterAuthRoutes(app, httptransport.AuthRouteConfig{
		Health: handlers.NewHealthHandler("auth-service", cfg.App.Version, pg, redis),
		Auth:   handlers.NewAuthHandler(authService),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
