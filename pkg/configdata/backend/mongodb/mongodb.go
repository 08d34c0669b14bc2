// Package mongodb serves configuration imports from MongoDB documents. The
// locator path is collection/id; the document whose _id equals id becomes the
// property tree, without its _id.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/nimburion/configdata/pkg/configdata"
	"github.com/nimburion/configdata/pkg/observability/logger"
)

// Scheme is the locator scheme this backend is registered under.
const Scheme = "mongodb"

// Config holds MongoDB settings.
type Config struct {
	URL              string
	Database         string
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
}

type collection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
}

// Backend reads configuration documents. It implements configdata.Backend.
type Backend struct {
	client     *mongo.Client
	collection func(name string) collection
	timeout    time.Duration
	log        logger.Logger
}

// New connects and pings the primary.
func New(ctx context.Context, cfg Config, log logger.Logger) (*Backend, error) {
	if cfg.URL == "" {
		return nil, errors.New("mongodb URL is required")
	}
	if cfg.Database == "" {
		return nil, errors.New("mongodb database is required")
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	log.Info("mongodb config backend connected", "database", cfg.Database)
	db := client.Database(cfg.Database)
	return &Backend{
		client:     client,
		collection: func(name string) collection { return db.Collection(name) },
		timeout:    cfg.OperationTimeout,
		log:        log,
	}, nil
}

// Fetch reads the document named by path.
func (b *Backend) Fetch(ctx context.Context, path string) (map[string]any, error) {
	name, id, ok := strings.Cut(strings.Trim(strings.TrimSpace(path), "/"), "/")
	if !ok || name == "" || id == "" {
		return nil, fmt.Errorf("mongodb: path %q must be collection/id", path)
	}
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	var doc bson.M
	err := b.collection(name).FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("mongodb: %s: %w", path, configdata.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb: find %s: %w", path, err)
	}

	delete(doc, "_id")
	out, _ := plain(doc).(map[string]any)
	return out, nil
}

// Ping checks the primary is reachable.
func (b *Backend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (b *Backend) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to close mongodb connection: %w", err)
	}
	return nil
}

// plain converts BSON container and scalar types to the values the
// flattener understands.
func plain(value any) any {
	switch v := value.(type) {
	case bson.M:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = plain(item)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(v))
		for _, elem := range v {
			out[elem.Key] = plain(elem.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = plain(item)
		}
		return out
	case primitive.ObjectID:
		return v.Hex()
	case primitive.DateTime:
		return v.Time().UTC().Format(time.RFC3339Nano)
	case primitive.Decimal128:
		return v.String()
	case int32:
		return int64(v)
	default:
		return v
	}
}
