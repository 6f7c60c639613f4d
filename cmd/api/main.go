package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"example.com/wearablesync/internal/api"
	"example.com/wearablesync/internal/app"
	"example.com/wearablesync/internal/auth"
	"example.com/wearablesync/internal/config"
	"example.com/wearablesync/internal/logging"
	httptransport "example.com/wearablesync/internal/transport/http"
)

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
		logger.Error("wearable sync api exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	engine, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	dispatcher, producer := engine.Dispatcher()
	if dispatcher != nil {
		defer func() {
			if err := producer.Close(); err != nil {
				logger.Warn("close kafka producer", zap.Error(err))
			}
		}()
		go dispatcher.Start(ctx)
	}

	handler := api.NewHandler(api.Dependencies{
		Syncer:    engine.Orchestrator,
		SyncLogs:  engine.Store,
		Connector: engine.Connector,
		Consent:   engine.OAuth,
		Auth:      engine.AuthConfig(),
		Logger:    logger.Named("api"),
	})
	authMiddleware := auth.NewMiddleware(engine.AuthConfig())
	server := httptransport.NewServer(httptransport.APIConfig(cfg.HTTPAddress),
		httptransport.CORS(cfg.CORSOrigin)(authMiddleware.Wrap(handler.Routes())))

	metrics := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.MetricsAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}, promhttp.Handler())
	go func() {
		if err := httptransport.Serve(ctx, metrics, 5*time.Second, logger.Named("metrics")); err != nil {
			logger.Error("metrics listener failed", zap.Error(err))
		}
	}()

	err = httptransport.Serve(ctx, server, 15*time.Second, logger)
	if dispatcher != nil {
		dispatcher.Wait()
	}
	return err
}
