// Package sqs publishes and consumes refresh events on an SQS queue. A queue
// delivers each message to one consumer, so every process needs its own queue
// (typically subscribed to a shared SNS topic outside this package).
package sqs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/nimburion/configdata/pkg/bus"
	"github.com/nimburion/configdata/pkg/observability/logger"
)

// Config holds the settings of the SQS transport.
type Config struct {
	Region           string
	QueueURL         string
	Endpoint         string
	AccessKeyID      string
	SecretAccessKey  string
	OperationTimeout time.Duration
	WaitTimeSeconds  int32
}

type client interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueAttributes(ctx context.Context, in *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Transport implements bus.Transport over one SQS queue.
type Transport struct {
	config Config
	log    logger.Logger
	client client

	mu      sync.Mutex
	cancels []context.CancelFunc
	closed  bool
}

// New loads AWS credentials and builds the SQS client.
func New(ctx context.Context, cfg Config, log logger.Logger) (*Transport, error) {
	if cfg.Region == "" {
		return nil, errors.New("aws region is required")
	}
	if cfg.QueueURL == "" {
		return nil, errors.New("sqs queue URL is required")
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var opts []func(*sqs.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	return newTransport(cfg, sqs.NewFromConfig(awsCfg, opts...), log), nil
}

func newTransport(cfg Config, c client, log logger.Logger) *Transport {
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = 10 * time.Second
	}
	if cfg.WaitTimeSeconds == 0 {
		cfg.WaitTimeSeconds = 10
	}
	log.Info("sqs bus initialized", "queue_url", cfg.QueueURL)
	return &Transport{config: cfg, log: log, client: c}
}

// Publish sends event to the queue.
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

	_, err = t.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(t.config.QueueURL),
		MessageBody: aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event-id": {DataType: aws.String("String"), StringValue: aws.String(event.ID)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish to sqs: %w", err)
	}
	t.log.Debug("bus event published", "queue_url", t.config.QueueURL, "event_id", event.ID)
	return nil
}

// Subscribe long-polls the queue in the background.
func (t *Transport) Subscribe(ctx context.Context, handler bus.Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return bus.ErrClosed
	}
	pollCtx, cancel := context.WithCancel(ctx)
	t.cancels = append(t.cancels, cancel)
	go t.poll(pollCtx, handler)
	return nil
}

// poll deletes a message once handler accepted it or once it proved
// undecodable. Failed messages become visible again after the queue's
// visibility timeout.
func (t *Transport) poll(ctx context.Context, handler bus.Handler) {
	for ctx.Err() == nil {
		recvCtx, cancel := context.WithTimeout(ctx, t.config.OperationTimeout+time.Duration(t.config.WaitTimeSeconds)*time.Second)
		out, err := t.client.ReceiveMessage(recvCtx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(t.config.QueueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     t.config.WaitTimeSeconds,
		})
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.log.Error("sqs receive failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}

		for _, m := range out.Messages {
			event, err := bus.Decode([]byte(aws.ToString(m.Body)))
			if err != nil {
				t.log.Warn("dropping malformed bus message", "message_id", aws.ToString(m.MessageId), "error", err)
			} else if err := handler(ctx, event); err != nil {
				t.log.Error("bus handler failed", "event_id", event.ID, "error", err)
				continue
			}
			if _, err := t.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(t.config.QueueURL),
				ReceiptHandle: m.ReceiptHandle,
			}); err != nil {
				t.log.Error("failed to delete bus message", "message_id", aws.ToString(m.MessageId), "error", err)
			}
		}
	}
}

// HealthCheck reads the queue ARN.
func (t *Transport) HealthCheck(ctx context.Context) error {
	if t.isClosed() {
		return bus.ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, t.config.OperationTimeout)
	defer cancel()
	_, err := t.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(t.config.QueueURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return fmt.Errorf("sqs health check: %w", err)
	}
	return nil
}

// Close stops every poller.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for _, cancel := range t.cancels {
		cancel()
	}
	t.cancels = nil
	return nil
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
