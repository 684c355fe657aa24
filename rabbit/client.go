// Package rabbit ships chat frames and log records to RabbitMQ.
package rabbit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

const LogExchange = "log-default"

var logLevels = []string{
	slog.LevelDebug.String(),
	slog.LevelInfo.String(),
	slog.LevelWarn.String(),
	slog.LevelError.String(),
}

// wrap the amqp conn configured for this package use
type Client struct {
	conn *amqp.Connection
}

func Dial(uri string) (*Client, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("rabbit: dial: %w", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Publisher opens a channel and declares a durable exchange of the given
// kind on it.
func (c *Client) Publisher(exchange, kind string) (*Publisher, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbit: open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange, // name
		kind,     // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("rabbit: declare exchange %s: %w", exchange, err)
	}
	return &Publisher{ch: ch, exchange: exchange}, nil
}

// LogPublisher declares the log exchange and binds one durable queue per
// level, keyed by the level name.
func (c *Client) LogPublisher() (*Publisher, error) {
	pub, err := c.Publisher(LogExchange, amqp.ExchangeDirect)
	if err != nil {
		return nil, err
	}
	for _, key := range logLevels {
		q, err := pub.ch.QueueDeclare(key, true, false, false, false, nil)
		if err != nil {
			pub.Close()
			return nil, fmt.Errorf("rabbit: declare queue %s: %w", key, err)
		}
		if err := pub.ch.QueueBind(q.Name, key, LogExchange, false, nil); err != nil {
			pub.Close()
			return nil, fmt.Errorf("rabbit: bind queue %s: %w", key, err)
		}
	}
	return pub, nil
}

// Publisher

// Publisher is safe for concurrent use; amqp channels are not.
type Publisher struct {
	mu       sync.Mutex
	ch       *amqp.Channel
	exchange string
}

func (pub *Publisher) Close() error {
	return pub.ch.Close()
}

func (pub *Publisher) Publish(ctx context.Context, body []byte, key string) error {
	pub.mu.Lock()
	defer pub.mu.Unlock()

	err := pub.ch.PublishWithContext(ctx, pub.exchange, key, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("rabbit: publish to %s: %w", pub.exchange, err)
	}
	return nil
}
