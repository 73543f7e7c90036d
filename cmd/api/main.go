package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/mirado/sms-dispatch/internal/broadcast"
	"github.com/mirado/sms-dispatch/internal/config"
	"github.com/mirado/sms-dispatch/internal/gateway"
	"github.com/mirado/sms-dispatch/internal/handler"
	"github.com/mirado/sms-dispatch/internal/infra/postgresql"
	"github.com/mirado/sms-dispatch/internal/infra/postgresql/migrations"
	infraredis "github.com/mirado/sms-dispatch/internal/infra/redis"
	"github.com/mirado/sms-dispatch/internal/observability"
	"github.com/mirado/sms-dispatch/internal/repository"
	"github.com/mirado/sms-dispatch/internal/service"
	"github.com/mirado/sms-dispatch/internal/socketfeed"
	"github.com/mirado/sms-dispatch/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	metrics := observability.NewMetrics()

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	client, err := gateway.NewClient(cfg.GatewayURL, cfg.GatewaySecretID, cfg.GatewayProjectID, logger)
	if err != nil {
		logger.Fatal("gateway client initialization failed", zap.Error(err))
	}
	client.SetRateLimiter(limiter)
	client.SetMetrics(metrics)

	broadcaster, err := broadcast.NewRedisBroadcaster(rdb, logger)
	if err != nil {
		logger.Fatal("broadcaster initialization failed", zap.Error(err))
	}
	broadcaster.SetMetrics(metrics)

	logRepo := repository.NewGormSmsLogRepo(db)
	notificationRepo := repository.NewGormNotificationRepo(db)
	directoryRepo := repository.NewGormDirectoryRepo(db)

	resolver, err := service.NewResolver(directoryRepo, logger)
	if err != nil {
		logger.Fatal("resolver initialization failed", zap.Error(err))
	}

	hub := service.NewConfirmationHub()

	correlator, err := service.NewCorrelator(
		logRepo,
		broadcaster,
		hub,
		time.Duration(cfg.CorrelationWindow)*time.Minute,
		logger,
	)
	if err != nil {
		logger.Fatal("correlator initialization failed", zap.Error(err))
	}
	correlator.SetMetrics(metrics)

	logService, err := service.NewSmsLogService(logRepo, client, broadcaster, cfg.RetryLimit, logger)
	if err != nil {
		logger.Fatal("sms log service initialization failed", zap.Error(err))
	}
	logService.SetMetrics(metrics)

	notificationService, err := service.NewNotificationService(notificationRepo, logger)
	if err != nil {
		logger.Fatal("notification service initialization failed", zap.Error(err))
	}

	dispatcher, err := service.NewDispatcher(
		notificationRepo,
		logRepo,
		resolver,
		client,
		broadcaster,
		hub,
		time.Duration(cfg.SchedulerInterval)*time.Second,
		cfg.DispatchWorkers,
		time.Duration(cfg.ConfirmWait)*time.Second,
		logger,
	)
	if err != nil {
		logger.Fatal("dispatcher initialization failed", zap.Error(err))
	}
	dispatcher.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	if err := handler.RegisterNotificationRoutes(app, notificationService, dispatcher); err != nil {
		logger.Fatal("failed to register notification routes", zap.Error(err))
	}
	if err := handler.RegisterSmsLogRoutes(app, logService); err != nil {
		logger.Fatal("failed to register sms log routes", zap.Error(err))
	}
	if err := handler.RegisterWebhookRoutes(app, correlator, cfg.GatewaySecretID, cfg.GatewayProjectID); err != nil {
		logger.Fatal("failed to register webhook routes", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return dispatcher.Start(gctx)
	})

	if cfg.GatewaySocketURL != "" {
		feed, err := socketfeed.NewFeed(
			cfg.GatewaySocketURL,
			cfg.GatewaySecretID,
			cfg.GatewayProjectID,
			correlator,
			logger,
		)
		if err != nil {
			logger.Fatal("socket feed initialization failed", zap.Error(err))
		}
		g.Go(func() error {
			return feed.Start(gctx)
		})
	}

	g.Go(func() error {
		logger.Info("sms-dispatch api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited with error", zap.Error(err))
	}
}
