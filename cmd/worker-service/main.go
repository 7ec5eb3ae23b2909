package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/trihoang/offloadq/internal/config"
	"github.com/trihoang/offloadq/internal/queue"
	"github.com/trihoang/offloadq/internal/tasks"
	"github.com/trihoang/offloadq/internal/worker"
	workerstorage "github.com/trihoang/offloadq/internal/worker/storage"
	"github.com/trihoang/offloadq/shared/logger"
	"github.com/trihoang/offloadq/shared/postgresql"
	"github.com/trihoang/offloadq/shared/rabbitmq"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", defaultConfigPath(), "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ValidateWorkerConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	pgClient, err := postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, log.Logger)
	if err != nil {
		log.Error("failed to connect to postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pgClient.Close()

	mqClient, err := rabbitmq.NewClient(&rabbitmq.Config{
		Host:              cfg.RabbitMQ.Host,
		Port:              cfg.RabbitMQ.Port,
		User:              cfg.RabbitMQ.User,
		Password:          cfg.RabbitMQ.Password,
		VHost:             cfg.RabbitMQ.VHost,
		Exchange:          cfg.RabbitMQ.Exchange,
		Queue:             cfg.RabbitMQ.Queue,
		RoutingKey:        cfg.RabbitMQ.RoutingKey,
		RetryAttempts:     cfg.RabbitMQ.Connection.RetryAttempts,
		RetryInterval:     cfg.RabbitMQ.Connection.RetryInterval,
		Heartbeat:         cfg.RabbitMQ.Connection.Heartbeat,
		ConnectionTimeout: cfg.RabbitMQ.Connection.ConnectionTimeout,
	}, log.Logger)
	if err != nil {
		log.Error("failed to connect to rabbitmq", slog.Any("error", err))
		os.Exit(1)
	}
	defer mqClient.Close()

	registry := queue.NewRegistry(cfg.QueueConfigs())
	if err := tasks.RegisterAll(registry, log.Logger); err != nil {
		log.Error("failed to register queue handlers", slog.Any("error", err))
		os.Exit(1)
	}

	broker := workerstorage.NewStorage(pgClient.GetDB(), log.Logger)
	w := worker.New(broker, registry, cfg.Worker, log.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		log.Error("failed to start worker", slog.Any("error", err))
		os.Exit(1)
	}

	deliveries, err := mqClient.Consume(w.ID())
	if err != nil {
		log.Error("failed to consume nudges", slog.Any("error", err))
		os.Exit(1)
	}

	go func() {
		for d := range deliveries {
			var nudge rabbitmq.Nudge
			if err := json.Unmarshal(d.Body, &nudge); err != nil {
				log.Warn("discarding malformed nudge", slog.Any("error", err))
				continue
			}
			w.Wake(nudge.QueueName)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker service")
	cancel()

	if err := w.Stop(); err != nil {
		log.Error("graceful shutdown failed", slog.Any("error", err))
		os.Exit(1)
	}

	log.Info("worker service stopped")
}

func defaultConfigPath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	return "configs/worker-service/config.yaml"
}
