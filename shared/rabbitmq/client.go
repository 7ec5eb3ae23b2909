package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config holds RabbitMQ connection and topology configuration.
type Config struct {
	Host              string
	Port              int
	User              string
	Password          string
	VHost             string
	Exchange          string
	Queue             string
	RoutingKey        string
	RetryAttempts     int
	RetryInterval     time.Duration
	Heartbeat         time.Duration
	ConnectionTimeout time.Duration
}

// Nudge tells worker processes that a job became eligible. It is an
// optimization over the bounded poll interval, not the source of truth:
// a lost nudge only delays pickup until the next poll tick.
type Nudge struct {
	JobID     string `json:"job_id"`
	QueueName string `json:"queue_name"`
}

// Client is a RabbitMQ publisher/consumer for nudge messages.
type Client struct {
	config      *Config
	conn        *amqp.Connection
	channel     *amqp.Channel
	logger      *slog.Logger
	isConnected bool
}

// NewClient connects with retries and declares the nudge topology.
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	c := &Client{config: config, logger: logger}
	if err := c.connect(); err != nil {
		return nil, fmt.Errorf("failed to create rabbitmq client: %w", err)
	}
	return c, nil
}

func (c *Client) connect() error {
	dsn := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		c.config.User,
		c.config.Password,
		c.config.Host,
		c.config.Port,
		c.config.VHost,
	)

	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}
	if c.config.ConnectionTimeout > 0 {
		amqpConfig.Dial = amqp.DefaultDial(c.config.ConnectionTimeout)
	}

	attempts := c.config.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		c.logger.Info("connecting to rabbitmq",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		c.conn, err = amqp.DialConfig(dsn, amqpConfig)
		if err == nil {
			break
		}

		c.logger.Error("rabbitmq connection failed",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)
		if attempt < attempts {
			time.Sleep(c.config.RetryInterval)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to connect after %d attempts: %w", attempts, err)
	}

	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := c.setup(); err != nil {
		c.channel.Close()
		c.conn.Close()
		return fmt.Errorf("failed to declare topology: %w", err)
	}

	c.isConnected = true
	c.logger.Info("rabbitmq client initialized",
		slog.String("exchange", c.config.Exchange),
		slog.String("queue", c.config.Queue),
	)
	return nil
}

func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.config.Exchange,
		"direct",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	_, err = c.channel.QueueDeclare(
		c.config.Queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := c.channel.QueueBind(c.config.Queue, c.config.RoutingKey, c.config.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

// PublishNudge publishes a wake-up message for a newly eligible job.
func (c *Client) PublishNudge(ctx context.Context, queueName, jobID string) error {
	if !c.isConnected {
		return fmt.Errorf("not connected to rabbitmq")
	}

	body, err := json.Marshal(Nudge{JobID: jobID, QueueName: queueName})
	if err != nil {
		return fmt.Errorf("failed to encode nudge: %w", err)
	}

	err = c.channel.PublishWithContext(
		ctx,
		c.config.Exchange,
		c.config.RoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish nudge: %w", err)
	}

	c.logger.Debug("nudge published",
		slog.String("queue", queueName),
		slog.String("job_id", jobID),
	)
	return nil
}

// Consume starts consuming nudge deliveries with auto-ack. Nudges are
// advisory, so there is no redelivery contract to honor.
func (c *Client) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	if !c.isConnected {
		return nil, fmt.Errorf("not connected to rabbitmq")
	}

	deliveries, err := c.channel.Consume(
		c.config.Queue,
		consumerTag,
		true,  // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("consuming nudges",
		slog.String("queue", c.config.Queue),
		slog.String("consumer_tag", consumerTag),
	)
	return deliveries, nil
}

// Close closes the RabbitMQ channel and connection.
func (c *Client) Close() error {
	c.logger.Info("closing rabbitmq connection")
	c.isConnected = false

	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.Error("failed to close rabbitmq channel", slog.Any("error", err))
		}
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
