// Package kafka publishes and consumes refresh events on a Kafka topic.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nimburion/configdata/pkg/bus"
	"github.com/nimburion/configdata/pkg/observability/logger"
)

// Config holds the settings of the Kafka transport.
type Config struct {
	// Brokers is the list of broker addresses, e.g. ["localhost:9092"].
	Brokers []string
	Topic   string
	// GroupID must be unique per process so that every process sees every
	// event.
	GroupID          string
	OperationTimeout time.Duration
	MaxRetries       int
}

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Transport implements bus.Transport over one Kafka topic.
type Transport struct {
	config    Config
	log       logger.Logger
	producer  writer
	newReader func() reader

	mu      sync.Mutex
	readers []reader
	closed  bool
}

// New validates cfg and prepares a producer. Consumers are created on Subscribe.
func New(cfg Config, log logger.Logger) (*Transport, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker address is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("group id is required")
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	producer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		MaxAttempts:            cfg.MaxRetries,
		WriteTimeout:           cfg.OperationTimeout,
		ReadTimeout:            cfg.OperationTimeout,
		AllowAutoTopicCreation: true,
	}

	log.Info("kafka bus initialized", "brokers", cfg.Brokers, "topic", cfg.Topic, "group_id", cfg.GroupID)

	return &Transport{
		config:   cfg,
		log:      log,
		producer: producer,
		newReader: func() reader {
			return kafka.NewReader(kafka.ReaderConfig{
				Brokers:     cfg.Brokers,
				Topic:       cfg.Topic,
				GroupID:     cfg.GroupID,
				MinBytes:    1,
				MaxBytes:    1e6,
				StartOffset: kafka.LastOffset,
				MaxWait:     500 * time.Millisecond,
			})
		},
	}, nil
}

// Publish writes event to the topic, keyed by its destination.
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

	msg := kafka.Message{
		Key:   []byte(event.Destination),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte(bus.ContentType)},
			{Key: "event-id", Value: []byte(event.ID)},
		},
		Time: event.Timestamp,
	}
	if err := t.producer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish to topic %s: %w", t.config.Topic, err)
	}
	t.log.Debug("bus event published", "topic", t.config.Topic, "event_id", event.ID)
	return nil
}

// Subscribe starts a consumer that hands every decoded event to handler.
func (t *Transport) Subscribe(ctx context.Context, handler bus.Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return bus.ErrClosed
	}

	r := t.newReader()
	t.readers = append(t.readers, r)
	go t.consume(ctx, r, handler)
	return nil
}

// consume commits a message once handler accepted it or once it proved
// undecodable; a handler error leaves the offset for redelivery.
func (t *Transport) consume(ctx context.Context, r reader, handler bus.Handler) {
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || t.isClosed() {
				return
			}
			t.log.Error("failed to fetch bus message", "topic", t.config.Topic, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}

		event, err := bus.Decode(msg.Value)
		if err != nil {
			t.log.Warn("dropping malformed bus message", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		} else if err := handler(ctx, event); err != nil {
			t.log.Error("bus handler failed", "event_id", event.ID, "error", err)
			continue
		}

		if err := r.CommitMessages(ctx, msg); err != nil {
			t.log.Error("failed to commit bus message", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
	}
}

// HealthCheck dials the first broker and reads the cluster metadata.
func (t *Transport) HealthCheck(ctx context.Context) error {
	if t.isClosed() {
		return bus.ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, t.config.OperationTimeout)
	defer cancel()

	conn, err := kafka.DialContext(ctx, "tcp", t.config.Brokers[0])
	if err != nil {
		return fmt.Errorf("connect to kafka broker: %w", err)
	}
	defer conn.Close()
	if _, err := conn.Brokers(); err != nil {
		return fmt.Errorf("fetch broker metadata: %w", err)
	}
	return nil
}

// Close stops the producer and every consumer.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	var errs []error
	if err := t.producer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close producer: %w", err))
	}
	for _, r := range t.readers {
		if err := r.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close consumer: %w", err))
		}
	}
	t.readers = nil
	return errors.Join(errs...)
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
