package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/coopledger/coopledger/internal/app"
	"github.com/coopledger/coopledger/internal/deliveries"
	"github.com/coopledger/coopledger/internal/loans"
	"github.com/coopledger/coopledger/internal/masterdata"
	"github.com/coopledger/coopledger/internal/observability"
	"github.com/coopledger/coopledger/internal/platform/db"
	"github.com/coopledger/coopledger/internal/settlement"
	"github.com/coopledger/coopledger/internal/shared"
	"github.com/coopledger/coopledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	// Redis backs the group lock and the job queue; the API degrades without
	// it, so a failed ping only warns.
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	masterRepo := masterdata.NewRepository(dbpool)

	deliveryRepo := deliveries.NewRepository(dbpool)
	deliveryService := deliveries.NewService(deliveryRepo, masterRepo)
	deliveryHandler := deliveries.NewHandler(logger, deliveryService)

	loanRepo := loans.NewRepository(dbpool)
	loanService := loans.NewService(loanRepo, masterRepo)
	loanHandler := loans.NewHandler(logger, loanService)

	groupLocker := shared.NewGroupLocker(redisClient, cfg.GroupLockTTL)
	payoutRepo := settlement.NewRepository(dbpool)
	settlementService := settlement.NewService(logger, deliveryRepo, loanRepo, masterRepo, payoutRepo, groupLocker)
	settlementHandler := settlement.NewHandler(logger, settlementService, metrics)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		DeliveriesHandler: deliveryHandler,
		LoansHandler:      loanHandler,
		SettlementHandler: settlementHandler,
		JobsHandler:       jobHandler,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
