// Package factory builds the bus transport selected by configuration.
package factory

import (
	"context"
	"fmt"
	"strings"

	"github.com/nimburion/configdata/pkg/bus"
	"github.com/nimburion/configdata/pkg/bus/kafka"
	"github.com/nimburion/configdata/pkg/bus/rabbitmq"
	"github.com/nimburion/configdata/pkg/bus/sqs"
	"github.com/nimburion/configdata/pkg/config"
	"github.com/nimburion/configdata/pkg/observability/logger"
)

// NewTransport returns the transport named by cfg.Type. The Kafka consumer
// group defaults to "<service>-<instance>" so that every process gets every
// event.
func NewTransport(ctx context.Context, cfg config.BusConfig, service, instance string, log logger.Logger) (bus.Transport, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "kafka":
		groupID := cfg.GroupID
		if groupID == "" {
			groupID = service + "-" + instance
		}
		return kafka.New(kafka.Config{
			Brokers:          cfg.Brokers,
			Topic:            cfg.Topic,
			GroupID:          groupID,
			OperationTimeout: cfg.OperationTimeout,
		}, log)
	case "rabbitmq":
		return rabbitmq.New(rabbitmq.Config{
			URL:              cfg.URL,
			Exchange:         cfg.Exchange,
			OperationTimeout: cfg.OperationTimeout,
			ConsumerTag:      service + "-" + instance,
		}, log)
	case "sqs":
		return sqs.New(ctx, sqs.Config{
			Region:           cfg.Region,
			QueueURL:         cfg.QueueURL,
			Endpoint:         cfg.Endpoint,
			AccessKeyID:      cfg.AccessKeyID,
			SecretAccessKey:  cfg.SecretAccessKey,
			OperationTimeout: cfg.OperationTimeout,
		}, log)
	default:
		return nil, fmt.Errorf("unsupported bus.type %q (supported: kafka, rabbitmq, sqs)", cfg.Type)
	}
}
