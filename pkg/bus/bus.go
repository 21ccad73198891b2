// Package bus wraps the AMQP topic exchange shared by the three services.
//
// Delivery contract: a consumer acks only after its handler returns nil.
// Any handler error nacks WITHOUT requeue — an explicit at-most-once choice
// so destructive host actions are never re-run by the broker. Idempotent
// actions plus the cooldown gate make manual reprocessing safe.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Bus holds one AMQP connection plus a publishing channel bound to a durable
// topic exchange.
type Bus struct {
	exchange string
	conn     *amqp.Connection
	ch       *amqp.Channel

	mu     sync.Mutex
	closed bool
}

// Connect dials the broker and declares the durable topic exchange.
func Connect(url, exchange string) (*Bus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}
	slog.Info("Connected to message bus", "exchange", exchange)
	return &Bus{exchange: exchange, conn: conn, ch: ch}, nil
}

// Close shuts the channel and connection down.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if err := b.ch.Close(); err != nil {
		_ = b.conn.Close()
		return err
	}
	return b.conn.Close()
}

// PublishJSON marshals v and publishes it as a persistent
// application/json message under the routing key.
func (b *Bus) PublishJSON(ctx context.Context, routingKey string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message for %s: %w", routingKey, err)
	}
	return b.Publish(ctx, routingKey, body)
}

// Publish sends raw bytes as a persistent application/json message.
func (b *Bus) Publish(ctx context.Context, routingKey string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("publish to %s: bus closed", routingKey)
	}
	err := b.ch.PublishWithContext(ctx, b.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", routingKey, err)
	}
	return nil
}
