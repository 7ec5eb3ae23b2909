package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/trihoang/offloadq/internal/queue"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	App      AppConfig              `yaml:"app"`
	Server   ServerConfig           `yaml:"server"`
	Database DatabaseConfig         `yaml:"database"`
	RabbitMQ RabbitMQConfig         `yaml:"rabbitmq"`
	Redis    RedisConfig            `yaml:"redis"`
	Logging  LoggingConfig          `yaml:"logging"`
	Worker   WorkerConfig           `yaml:"worker"`
	Queues   map[string]QueueConfig `yaml:"queues"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds the nudge exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   string           `yaml:"exchange"`
	Queue      string           `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// RedisConfig holds the connection used by the enqueue rate limiter
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	StallThreshold    time.Duration `yaml:"stall_threshold"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	JanitorInterval   time.Duration `yaml:"janitor_interval"`
	CompletedTTL      time.Duration `yaml:"completed_ttl"`
	DLQRetention      time.Duration `yaml:"dlq_retention"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// QueueConfig holds static per-queue settings
type QueueConfig struct {
	Concurrency       int           `yaml:"concurrency"`
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	RateLimit         int           `yaml:"rate_limit"`
	RateWindow        time.Duration `yaml:"rate_window"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// QueueConfigs converts the queues section into runtime queue configurations,
// ordered by name.
func (c *Config) QueueConfigs() []queue.Config {
	names := make([]string, 0, len(c.Queues))
	for name := range c.Queues {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]queue.Config, 0, len(names))
	for _, name := range names {
		qc := c.Queues[name]
		out = append(out, queue.Config{
			Name:              name,
			Concurrency:       qc.Concurrency,
			MaxAttempts:       qc.MaxAttempts,
			BackoffBase:       qc.BackoffBase,
			BackoffMultiplier: qc.BackoffMultiplier,
			RateLimit:         qc.RateLimit,
			RateWindow:        qc.RateWindow,
			JobTimeout:        qc.JobTimeout,
		})
	}
	return out
}

// ValidateAPIConfig checks the configuration required by the API service
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateShared(); err != nil {
		return err
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}

	return nil
}

// ValidateWorkerConfig checks the configuration required by the worker service
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateShared(); err != nil {
		return err
	}

	if c.Worker.HeartbeatInterval <= 0 {
		return fmt.Errorf("worker heartbeat_interval must be greater than 0")
	}

	if c.Worker.StallThreshold <= c.Worker.HeartbeatInterval {
		return fmt.Errorf("worker stall_threshold must be greater than heartbeat_interval")
	}

	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker poll_interval must be greater than 0")
	}

	if c.Worker.JanitorInterval <= 0 {
		return fmt.Errorf("worker janitor_interval must be greater than 0")
	}

	if c.Worker.DLQRetention <= 0 {
		return fmt.Errorf("worker dlq_retention must be greater than 0")
	}

	if c.Worker.CompletedTTL <= 0 {
		return fmt.Errorf("worker completed_ttl must be greater than 0")
	}

	return nil
}

func (c *Config) validateShared() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	if len(c.Queues) == 0 {
		return fmt.Errorf("at least one queue must be configured")
	}

	for name, qc := range c.Queues {
		if qc.Concurrency <= 0 {
			return fmt.Errorf("queue %q: concurrency must be greater than 0", name)
		}
		if qc.MaxAttempts <= 0 {
			return fmt.Errorf("queue %q: max_attempts must be greater than 0", name)
		}
		if qc.BackoffBase <= 0 {
			return fmt.Errorf("queue %q: backoff_base must be greater than 0", name)
		}
		if qc.BackoffMultiplier < 1 {
			return fmt.Errorf("queue %q: backoff_multiplier must be at least 1", name)
		}
		if qc.RateLimit <= 0 {
			return fmt.Errorf("queue %q: rate_limit must be greater than 0", name)
		}
		if qc.RateWindow <= 0 {
			return fmt.Errorf("queue %q: rate_window must be greater than 0", name)
		}
		if qc.JobTimeout <= 0 {
			return fmt.Errorf("queue %q: job_timeout must be greater than 0", name)
		}
	}

	return nil
}
