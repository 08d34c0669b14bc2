// Package dynamodb serves configuration imports from DynamoDB items. The
// locator path is table/id: the item whose partition key equals id is read
// with a consistent GetItem, and every other attribute becomes a property.
// Map and list attributes nest like YAML documents do.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/nimburion/configdata/pkg/configdata"
	"github.com/nimburion/configdata/pkg/observability/logger"
)

// Scheme is the locator scheme this backend is registered under.
const Scheme = "dynamodb"

// DefaultPartitionKey names the key attribute when none is configured.
const DefaultPartitionKey = "id"

// Config holds DynamoDB settings.
type Config struct {
	Region           string
	Endpoint         string
	AccessKeyID      string
	SecretAccessKey  string
	SessionToken     string
	PartitionKey     string
	OperationTimeout time.Duration
}

type client interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	ListTables(ctx context.Context, in *dynamodb.ListTablesInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error)
}

// Backend reads configuration items. It implements configdata.Backend.
type Backend struct {
	client       client
	partitionKey string
	timeout      time.Duration
	log          logger.Logger
}

// New loads AWS credentials and builds the DynamoDB client.
func New(ctx context.Context, cfg Config, log logger.Logger) (*Backend, error) {
	if cfg.Region == "" {
		return nil, errors.New("aws region is required")
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	var opts []func(*dynamodb.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	if log == nil {
		log = logger.NewNop()
	}
	log.Info("dynamodb config backend initialized", "region", cfg.Region, "endpoint", cfg.Endpoint)
	return newBackend(dynamodb.NewFromConfig(awsCfg, opts...), cfg, log), nil
}

func newBackend(c client, cfg Config, log logger.Logger) *Backend {
	partitionKey := cfg.PartitionKey
	if partitionKey == "" {
		partitionKey = DefaultPartitionKey
	}
	return &Backend{client: c, partitionKey: partitionKey, timeout: cfg.OperationTimeout, log: log}
}

// Fetch reads the item named by path.
func (b *Backend) Fetch(ctx context.Context, path string) (map[string]any, error) {
	table, id, ok := strings.Cut(strings.Trim(strings.TrimSpace(path), "/"), "/")
	if !ok || table == "" || id == "" {
		return nil, fmt.Errorf("dynamodb: path %q must be table/id", path)
	}
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	out, err := b.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(table),
		Key:            map[string]types.AttributeValue{b.partitionKey: &types.AttributeValueMemberS{Value: id}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		var missingTable *types.ResourceNotFoundException
		if errors.As(err, &missingTable) {
			return nil, fmt.Errorf("dynamodb: table %s: %w", table, configdata.ErrNotFound)
		}
		return nil, fmt.Errorf("dynamodb: get %s: %w", path, err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("dynamodb: %s: %w", path, configdata.ErrNotFound)
	}

	properties := make(map[string]any, len(out.Item))
	for name, value := range out.Item {
		if name == b.partitionKey {
			continue
		}
		properties[name] = attributeValue(value)
	}
	return properties, nil
}

// Ping lists at most one table.
func (b *Backend) Ping(ctx context.Context) error {
	if _, err := b.client.ListTables(ctx, &dynamodb.ListTablesInput{Limit: aws.Int32(1)}); err != nil {
		return fmt.Errorf("dynamodb ping failed: %w", err)
	}
	return nil
}

// attributeValue converts an attribute to the plain values the flattener
// understands. Numbers become int64 when integral, float64 otherwise.
func attributeValue(value types.AttributeValue) any {
	switch v := value.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return number(v.Value)
	case *types.AttributeValueMemberBOOL:
		return v.Value
	case *types.AttributeValueMemberNULL:
		return nil
	case *types.AttributeValueMemberB:
		return string(v.Value)
	case *types.AttributeValueMemberM:
		out := make(map[string]any, len(v.Value))
		for key, item := range v.Value {
			out[key] = attributeValue(item)
		}
		return out
	case *types.AttributeValueMemberL:
		out := make([]any, len(v.Value))
		for i, item := range v.Value {
			out[i] = attributeValue(item)
		}
		return out
	case *types.AttributeValueMemberSS:
		out := make([]any, len(v.Value))
		for i, item := range v.Value {
			out[i] = item
		}
		return out
	case *types.AttributeValueMemberNS:
		out := make([]any, len(v.Value))
		for i, item := range v.Value {
			out[i] = number(item)
		}
		return out
	default:
		return fmt.Sprint(value)
	}
}

func number(raw string) any {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}
