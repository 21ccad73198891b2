package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Delivery is the subset of an AMQP delivery a handler sees.
type Delivery struct {
	RoutingKey string
	Body       []byte
}

// Handler processes one delivery. A nil return acks the message; any error
// nacks it without requeue (the message is dropped by design).
type Handler func(ctx context.Context, d Delivery) error

// Consumer binds an exclusive transient queue to the exchange and feeds
// deliveries to a handler, up to prefetch in flight at once.
type Consumer struct {
	bus      *Bus
	name     string
	bindKey  string
	prefetch int
	handler  Handler

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewConsumer creates a consumer for the given binding pattern.
// name appears in logs only; the queue itself is server-named.
func NewConsumer(b *Bus, name, bindKey string, prefetch int, handler Handler) *Consumer {
	return &Consumer{
		bus:      b,
		name:     name,
		bindKey:  bindKey,
		prefetch: prefetch,
		handler:  handler,
		stopCh:   make(chan struct{}),
	}
}

// Start opens a dedicated channel, declares and binds the queue, and begins
// consuming in a goroutine. Handlers for distinct deliveries run serially on
// the consumer goroutine; the prefetch window bounds broker-side buffering.
func (c *Consumer) Start(ctx context.Context) error {
	ch, err := c.bus.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("set prefetch: %w", err)
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, c.bindKey, c.bus.exchange, false, nil); err != nil {
		_ = ch.Close()
		return fmt.Errorf("bind %q to %q: %w", q.Name, c.bindKey, err)
	}

	deliveries, err := ch.Consume(q.Name, c.name, false, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("start consuming: %w", err)
	}

	log := slog.With("consumer", c.name, "bind", c.bindKey)
	log.Info("Consumer started", "queue", q.Name, "prefetch", c.prefetch)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() { _ = ch.Close() }()
		for {
			select {
			case <-c.stopCh:
				log.Info("Consumer shutting down")
				return
			case <-ctx.Done():
				log.Info("Context cancelled, consumer shutting down")
				return
			case d, ok := <-deliveries:
				if !ok {
					log.Warn("Delivery channel closed by broker")
					return
				}
				c.dispatch(ctx, log, d)
			}
		}
	}()
	return nil
}

// dispatch runs the handler for one delivery and settles it.
func (c *Consumer) dispatch(ctx context.Context, log *slog.Logger, d amqp.Delivery) {
	err := c.handler(ctx, Delivery{RoutingKey: d.RoutingKey, Body: d.Body})
	if err != nil {
		log.Error("Handler failed, dropping message", "routing_key", d.RoutingKey, "error", err)
		// requeue=false: redelivering could re-run destructive host actions.
		if nerr := d.Nack(false, false); nerr != nil {
			log.Error("Nack failed", "error", nerr)
		}
		return
	}
	if aerr := d.Ack(false); aerr != nil {
		log.Error("Ack failed", "error", aerr)
	}
}

// Stop signals the consumer loop to exit and waits for it.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}
