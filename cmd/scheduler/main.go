package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"example.com/wearablesync/internal/app"
	"example.com/wearablesync/internal/config"
	"example.com/wearablesync/internal/logging"
	"example.com/wearablesync/internal/scheduler"
	httptransport "example.com/wearablesync/internal/transport/http"
)

const dlqBatchSize = 50

func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("wearable sync scheduler exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	engine, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	sched := scheduler.New(engine.Batch, cfg.SyncSchedule,
		scheduler.WithBudget(cfg.BatchRunBudget),
		scheduler.WithLogger(logger.Named("scheduler")),
	)
	if replayer := engine.Replayer(); replayer != nil {
		err := sched.AddJob("dlq-replay", cfg.DLQSchedule, func(ctx context.Context) error {
			_, err := replayer.RunOnce(ctx, dlqBatchSize)
			return err
		})
		if err != nil {
			return err
		}
	}
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	metrics := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.MetricsAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}, promhttp.Handler())
	return httptransport.Serve(ctx, metrics, 5*time.Second, logger.Named("metrics"))
}
