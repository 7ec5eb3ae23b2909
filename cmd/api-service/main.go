package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/trihoang/offloadq/internal/api/handler"
	"github.com/trihoang/offloadq/internal/api/router"
	"github.com/trihoang/offloadq/internal/api/storage"
	"github.com/trihoang/offloadq/internal/config"
	"github.com/trihoang/offloadq/internal/queue"
	"github.com/trihoang/offloadq/internal/ratelimit"
	"github.com/trihoang/offloadq/internal/tasks"
	"github.com/trihoang/offloadq/shared/logger"
	"github.com/trihoang/offloadq/shared/postgresql"
	"github.com/trihoang/offloadq/shared/rabbitmq"
	"github.com/trihoang/offloadq/shared/redis"
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
	if err := cfg.ValidateAPIConfig(); err != nil {
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

	log.Info("starting api service",
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

	redisClient, err := redis.NewClient(&redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, log.Logger)
	if err != nil {
		log.Error("failed to connect to redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer redisClient.Close()

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

	store := storage.NewStorage(pgClient.GetDB(), log.Logger)
	limiter := ratelimit.NewLimiter(redisClient, log.Logger)
	h := handler.NewHandler(store, mqClient, limiter, registry, log.Logger)

	engine := router.SetupRouter(h, log.Logger, cfg.App.Environment)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("http server listening", slog.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down api service")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", slog.Any("error", err))
		os.Exit(1)
	}

	log.Info("api service stopped")
}

func defaultConfigPath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	return "configs/api-service/config.yaml"
}
