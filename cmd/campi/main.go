package main

import (
	"context"
	"os"
	"time"

	"campi/internal/amqp"
	"campi/internal/backend"
	"campi/internal/cli"
	"campi/internal/dispatch"
	apphttp "campi/internal/http"
	"campi/internal/log"
	"campi/internal/overview"
	"campi/internal/records"
	"campi/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	cfg := cli.LoadAndValidateConfig(logger)
	loc := cfg.Location()

	startupCtx, startupCancel := context.WithTimeout(context.Background(), time.Minute)
	defer startupCancel()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err.Error())
		os.Exit(1)
	}
	store, err := backend.NewFactory(logger).CreateBackend(startupCtx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err.Error(), log.FieldBackend, cfg.DataBackend)
		os.Exit(1)
	}

	opts := []records.Option{
		records.WithLogger(logger),
		records.WithClock(time.Now, loc),
	}

	// Change notifications are optional: a broker that cannot be reached
	// only costs cross-instance cache coherence.
	var amqpClient *amqp.Client
	if cfg.AMQPEnabled() {
		amqpClient, err = amqp.NewClient(startupCtx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without change notifications", log.FieldError, err.Error())
		} else {
			opts = append(opts, records.WithNotifier(amqpClient))
			logger.Info("Initialized AMQP client",
				"exchange", cfg.AMQPExchange,
				"routing_key", cfg.AMQPRoutingKey,
				"instance_id", amqpClient.InstanceID())
		}
	}

	registry := records.NewRegistry(store.Store, opts...)
	agg := overview.New(registry.Plots, registry.Operations, registry.Costs, registry.Harvests).WithClock(time.Now, loc)
	dispatcher := dispatch.New(cfg.APIToken, registry, agg, logger)

	httpCfg := apphttp.DefaultConfig()
	httpCfg.Addr = cfg.Addr()
	httpCfg.RequestsPerMinute = cfg.RateLimitPerMinute
	httpCfg.TrustedProxies = cfg.TrustedProxies
	srv, err := apphttp.NewServer(httpCfg, dispatcher, registry, logger)
	if err != nil {
		logger.Error("Invalid HTTP configuration", log.FieldError, err.Error())
		os.Exit(1)
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err.Error())
		}
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("AMQP close error", log.FieldError, err.Error())
			}
		}
		if err := store.Cleanup(); err != nil {
			logger.Warn("Backend cleanup error", log.FieldError, err.Error())
		}
	})

	if amqpClient != nil && store.Cache != nil {
		sw := worker.NewSyncWorker(amqpClient, store.Cache, amqpClient.InstanceID())
		go sw.Run(ctx)
		logger.Info("Cache sync worker started")
	}

	logger.Info("Starting campi server",
		log.FieldOperation, log.OpStartup,
		"port", cfg.Port,
		log.FieldBackend, cfg.DataBackend,
		"timezone", loc.String(),
		"actions", len(dispatcher.Actions()))
	if err := srv.ListenAndServe(); err != nil && !apphttp.IsClosed(err) {
		logger.Error("Server error", log.FieldError, err.Error(), "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully", log.FieldOperation, log.OpShutdown)
}
