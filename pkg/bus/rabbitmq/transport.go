// Package rabbitmq publishes and consumes refresh events through a fanout
// exchange. Every subscriber gets its own exclusive queue, so every process
// sees every event.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nimburion/configdata/pkg/bus"
	"github.com/nimburion/configdata/pkg/observability/logger"
)

// Config holds the settings of the RabbitMQ transport.
type Config struct {
	URL              string
	Exchange         string
	OperationTimeout time.Duration
	ConsumerTag      string
}

type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type connection interface {
	openChannel() (channel, error)
	IsClosed() bool
	Close() error
}

type amqpConnection struct{ *amqp.Connection }

func (c amqpConnection) openChannel() (channel, error) { return c.Channel() }

// Transport implements bus.Transport over a RabbitMQ fanout exchange.
type Transport struct {
	config Config
	log    logger.Logger
	conn   connection
	pubCh  channel

	mu       sync.Mutex
	channels []channel
	closed   bool
}

// New connects to the broker and declares the exchange.
func New(cfg Config, log logger.Logger) (*Transport, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq URL is required")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	t, err := newTransport(cfg, amqpConnection{conn}, log)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return t, nil
}

func newTransport(cfg Config, conn connection, log logger.Logger) (*Transport, error) {
	if cfg.Exchange == "" {
		cfg.Exchange = "configdata.bus"
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = 10 * time.Second
	}

	pubCh, err := conn.openChannel()
	if err != nil {
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if err := pubCh.ExchangeDeclare(cfg.Exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		_ = pubCh.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}

	log.Info("rabbitmq bus initialized", "exchange", cfg.Exchange)
	return &Transport{config: cfg, log: log, conn: conn, pubCh: pubCh}, nil
}

// Publish sends event to the exchange.
func (t *Transport) Publish(ctx context.Context, event bus.Event) error {
	if t.isClosed() {
		return bus.ErrClosed
	}
	payload, err := bus.Encode(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, t.config.OperationTimeout)
	defer cancel()

	publishing := amqp.Publishing{
		MessageId:   event.ID,
		ContentType: bus.ContentType,
		Body:        payload,
		Timestamp:   event.Timestamp,
	}
	if err := t.pubCh.PublishWithContext(ctx, t.config.Exchange, "", false, false, publishing); err != nil {
		return fmt.Errorf("publish to exchange %s: %w", t.config.Exchange, err)
	}
	t.log.Debug("bus event published", "exchange", t.config.Exchange, "event_id", event.ID)
	return nil
}

// Subscribe binds a fresh exclusive queue to the exchange and consumes it.
func (t *Transport) Subscribe(ctx context.Context, handler bus.Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return bus.ErrClosed
	}

	ch, err := t.conn.openChannel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", t.config.Exchange, false, nil); err != nil {
		_ = ch.Close()
		return fmt.Errorf("bind queue: %w", err)
	}
	deliveries, err := ch.Consume(q.Name, t.config.ConsumerTag, false, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("start consumer: %w", err)
	}

	t.channels = append(t.channels, ch)
	go t.consume(ctx, deliveries, handler)
	return nil
}

// consume acks handled and malformed deliveries and requeues the rest.
func (t *Transport) consume(ctx context.Context, deliveries <-chan amqp.Delivery, handler bus.Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			event, err := bus.Decode(d.Body)
			if err != nil {
				t.log.Warn("dropping malformed bus message", "message_id", d.MessageId, "error", err)
				_ = d.Ack(false)
				continue
			}
			if err := handler(ctx, event); err != nil {
				t.log.Error("bus handler failed", "event_id", event.ID, "error", err)
				_ = d.Nack(false, true)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// HealthCheck opens and closes a channel on the connection.
func (t *Transport) HealthCheck(context.Context) error {
	if t.isClosed() {
		return bus.ErrClosed
	}
	if t.conn.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}
	ch, err := t.conn.openChannel()
	if err != nil {
		return fmt.Errorf("rabbitmq health check: %w", err)
	}
	return ch.Close()
}

// Close releases every channel and the connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	var errs []error
	for _, ch := range t.channels {
		if err := ch.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close consumer channel: %w", err))
		}
	}
	t.channels = nil
	if err := t.pubCh.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close publish channel: %w", err))
	}
	if err := t.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close connection: %w", err))
	}
	return errors.Join(errs...)
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
