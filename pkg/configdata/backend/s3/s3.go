// Package s3 serves configuration imports from YAML or JSON documents stored
// in S3-compatible object storage. A locator path is "bucket/key".
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awss3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"gopkg.in/yaml.v3"

	"github.com/nimburion/configdata/pkg/configdata"
	"github.com/nimburion/configdata/pkg/observability/logger"
)

// Scheme is the locator scheme this backend is registered under.
const Scheme = "s3"

// maxDocumentSize caps how much of an object is read.
const maxDocumentSize = 4 << 20

// Config defines how to reach the object store.
type Config struct {
	Region           string
	Endpoint         string
	AccessKeyID      string
	SecretAccessKey  string
	SessionToken     string
	UsePathStyle     bool
	OperationTimeout time.Duration
}

type s3API interface {
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, params *awss3.HeadBucketInput, optFns ...func(*awss3.Options)) (*awss3.HeadBucketOutput, error)
}

// Backend reads configuration documents. It implements configdata.Backend.
type Backend struct {
	client  s3API
	log     logger.Logger
	timeout time.Duration
}

// New builds an S3 client from cfg and the default AWS credential chain.
func New(ctx context.Context, cfg Config, log logger.Logger) (*Backend, error) {
	if strings.TrimSpace(cfg.Region) == "" {
		return nil, errors.New("aws region is required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 10 * time.Second
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

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	log.Info("s3 config backend initialized", "region", cfg.Region, "endpoint", cfg.Endpoint)
	return &Backend{client: client, log: log, timeout: cfg.OperationTimeout}, nil
}

// Fetch downloads and decodes the document at "bucket/key".
func (b *Backend) Fetch(ctx context.Context, path string) (map[string]any, error) {
	bucket, key, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	resp, err := b.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *awss3types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("s3: %s: %w", path, configdata.ErrNotFound)
		}
		return nil, fmt.Errorf("s3: get %s: %w", path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("s3: read %s: %w", path, err)
	}
	if len(payload) > maxDocumentSize {
		return nil, fmt.Errorf("s3: %s exceeds %d bytes", path, maxDocumentSize)
	}

	out := map[string]any{}
	if len(strings.TrimSpace(string(payload))) == 0 {
		return out, nil
	}
	if err := yaml.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("s3: %s (%s) is not a YAML or JSON mapping: %w", path, aws.ToString(resp.ContentType), err)
	}
	return out, nil
}

// Ping checks that bucket is reachable with the configured credentials.
func (b *Backend) Ping(ctx context.Context, bucket string) error {
	_, err := b.client.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		return fmt.Errorf("s3 ping failed: %w", err)
	}
	return nil
}

func splitPath(path string) (string, string, error) {
	bucket, key, ok := strings.Cut(strings.Trim(path, "/"), "/")
	if !ok || bucket == "" || strings.Trim(key, "/") == "" {
		return "", "", fmt.Errorf("s3: path %q must be bucket/key", path)
	}
	return bucket, key, nil
}
