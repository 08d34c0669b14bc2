package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nimburion/configdata/pkg/bus"
	busfactory "github.com/nimburion/configdata/pkg/bus/factory"
	"github.com/nimburion/configdata/pkg/config"
	"github.com/nimburion/configdata/pkg/configdata"
	"github.com/nimburion/configdata/pkg/configdata/backend/dynamodb"
	"github.com/nimburion/configdata/pkg/configdata/backend/file"
	"github.com/nimburion/configdata/pkg/configdata/backend/memcached"
	"github.com/nimburion/configdata/pkg/configdata/backend/mongodb"
	"github.com/nimburion/configdata/pkg/configdata/backend/redis"
	"github.com/nimburion/configdata/pkg/configdata/backend/s3"
	sqlbackend "github.com/nimburion/configdata/pkg/configdata/backend/sql"
	"github.com/nimburion/configdata/pkg/configdata/backend/vault"
	"github.com/nimburion/configdata/pkg/health"
	"github.com/nimburion/configdata/pkg/observability/logger"
	"github.com/nimburion/configdata/pkg/observability/metrics"
	"github.com/nimburion/configdata/pkg/observability/tracing"
	"github.com/nimburion/configdata/pkg/version"
)

// ErrBusNotConfigured is returned when a bus operation runs without bus.type.
var ErrBusNotConfigured = errors.New("refresh bus is not configured (set bus.type)")

// Runtime holds everything built from the bootstrap Config: backends, the
// fetcher and resolver, and the observability plumbing around them.
type Runtime struct {
	Config   *config.Config
	Log      logger.Logger
	Fetcher  *configdata.Fetcher
	Resolver *configdata.Resolver
	// Metrics is nil when metrics are disabled.
	Metrics *metrics.Registry
	Tracer  *tracing.TracerProvider
	Health  *health.Registry
	// Bus is nil unless bus.type is set.
	Bus bus.Transport
	// Instance identifies this process on the bus.
	Instance string

	closers []func() error
}

// Extensions are components supplied by the embedding program instead of
// being built from the configuration.
type Extensions struct {
	// Backends are registered after the built-in backends and replace them on
	// a scheme clash.
	Backends map[string]configdata.Backend
	// Bus replaces the transport selected by bus.type.
	Bus bus.Transport
}

// NewRuntime connects the configured backends and builds the resolver.
func NewRuntime(ctx context.Context, cfg *config.Config, log logger.Logger, ext Extensions) (*Runtime, error) {
	rt := &Runtime{
		Config:   cfg,
		Log:      log,
		Health:   health.NewRegistry(),
		Instance: cfg.Bus.InstanceID,
	}
	if rt.Instance == "" {
		rt.Instance = uuid.NewString()
	}
	rt.Health.Register(health.NewLivenessChecker("liveness"))

	tracer, err := tracing.NewTracerProvider(ctx, tracing.TracerConfig{
		Enabled:        cfg.Observability.TracingEnabled,
		ServiceName:    cfg.Service.Name,
		ServiceVersion: version.AppVersion,
		Environment:    cfg.Service.Environment,
		Endpoint:       cfg.Observability.TracingEndpoint,
		SampleRate:     cfg.Observability.TracingSampleRate,
		Insecure:       cfg.Observability.TracingInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("create tracer provider: %w", err)
	}
	rt.Tracer = tracer

	var observer configdata.Observer = configdata.NopObserver{}
	if cfg.Observability.MetricsEnabled {
		rt.Metrics = metrics.NewRegistry()
		observer = metrics.NewResolverMetrics(rt.Metrics)
	}

	backends, err := rt.connectBackends(ctx)
	if err != nil {
		_ = rt.Close(context.Background())
		return nil, err
	}
	for scheme, backend := range ext.Backends {
		backends[scheme] = backend
	}
	if err := rt.connectBus(ctx, ext.Bus); err != nil {
		_ = rt.Close(context.Background())
		return nil, err
	}

	fetcherOpts := []configdata.FetcherOption{
		configdata.WithFetchTimeout(cfg.Resolution.FetchTimeout),
		configdata.WithParallelism(cfg.Resolution.Parallelism),
		configdata.WithFetchLogger(log),
		configdata.WithFetchObserver(observer),
	}
	if cfg.Resolution.BreakerFailures > 0 {
		fetcherOpts = append(fetcherOpts, configdata.WithCircuitBreaker(cfg.Resolution.BreakerFailures, cfg.Resolution.BreakerCooldown))
	}
	for scheme, backend := range backends {
		fetcherOpts = append(fetcherOpts, configdata.WithBackend(scheme, backend))
	}
	rt.Fetcher = configdata.NewFetcher(fetcherOpts...)

	precedence, err := configdata.ParsePrecedence(cfg.Resolution.Precedence)
	if err != nil {
		_ = rt.Close(context.Background())
		return nil, err
	}
	order, err := configdata.ParseImportOrder(cfg.Resolution.ImportOrder)
	if err != nil {
		_ = rt.Close(context.Background())
		return nil, err
	}
	rt.Resolver = configdata.NewResolver(rt.Fetcher,
		configdata.WithPrecedence(precedence),
		configdata.WithImportOrder(order),
		configdata.WithResolveTimeout(cfg.Resolution.Timeout),
		configdata.WithRefreshLimit(cfg.Refresh.MinInterval, cfg.Refresh.Burst),
		configdata.WithLogger(log),
		configdata.WithObserver(observer),
	)

	log.Debug("runtime ready", "schemes", rt.Fetcher.Schemes(), "precedence", precedence, "import_order", order)
	return rt, nil
}

// connectBackends builds every backend whose configuration is present. The
// file backend is always available.
func (rt *Runtime) connectBackends(ctx context.Context) (map[string]configdata.Backend, error) {
	cfg := rt.Config
	backends := map[string]configdata.Backend{
		file.Scheme: file.New(cfg.File.BaseDir),
	}

	if cfg.Vault.Address != "" {
		backend, err := vault.New(ctx, vault.Config{
			Address:      cfg.Vault.Address,
			Namespace:    cfg.Vault.Namespace,
			Token:        cfg.Vault.Token,
			RoleID:       cfg.Vault.RoleID,
			SecretID:     cfg.Vault.SecretID,
			AppRoleMount: cfg.Vault.AppRoleMount,
			KVVersion:    cfg.Vault.KVVersion,
			CACert:       cfg.Vault.CACert,
			SkipVerify:   cfg.Vault.SkipVerify,
			Timeout:      cfg.Vault.Timeout,
		}, vault.WithLogger(rt.Log))
		if err != nil {
			return nil, fmt.Errorf("connect vault: %w", err)
		}
		backends[vault.Scheme] = backend
		rt.Health.Register(health.NewBackendChecker("vault", backend, cfg.Vault.Timeout))
	}

	if cfg.Redis.URL != "" {
		backend, err := redis.New(ctx, redis.Config{
			URL:              cfg.Redis.URL,
			MaxConns:         cfg.Redis.MaxConns,
			OperationTimeout: cfg.Redis.OperationTimeout,
		}, rt.Log)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		backends[redis.Scheme] = backend
		rt.closers = append(rt.closers, backend.Close)
		rt.Health.Register(health.NewBackendChecker("redis", backend, cfg.Redis.OperationTimeout))
	}

	if cfg.S3.Region != "" {
		backend, err := s3.New(ctx, s3.Config{
			Region:           cfg.S3.Region,
			Endpoint:         cfg.S3.Endpoint,
			AccessKeyID:      cfg.S3.AccessKeyID,
			SecretAccessKey:  cfg.S3.SecretAccessKey,
			SessionToken:     cfg.S3.SessionToken,
			UsePathStyle:     cfg.S3.UsePathStyle,
			OperationTimeout: cfg.S3.OperationTimeout,
		}, rt.Log)
		if err != nil {
			return nil, fmt.Errorf("connect s3: %w", err)
		}
		backends[s3.Scheme] = backend
		if bucket := cfg.S3.HealthBucket; bucket != "" {
			rt.Health.Register(health.NewBackendChecker("s3", health.PingFunc(func(ctx context.Context) error {
				return backend.Ping(ctx, bucket)
			}), cfg.S3.OperationTimeout))
		}
	}

	for _, db := range []struct {
		driver  string
		section config.SQLConfig
	}{
		{sqlbackend.DriverPostgres, cfg.Postgres},
		{sqlbackend.DriverMySQL, cfg.MySQL},
	} {
		driver, section := db.driver, db.section
		if section.URL == "" {
			continue
		}
		backend, err := sqlbackend.New(ctx, sqlbackend.Config{
			Driver:          driver,
			URL:             section.URL,
			Table:           section.Table,
			MaxOpenConns:    section.MaxConns,
			ConnMaxLifetime: section.ConnMaxLifetime,
			QueryTimeout:    section.QueryTimeout,
		}, rt.Log)
		if err != nil {
			return nil, fmt.Errorf("connect %s: %w", driver, err)
		}
		backends[driver] = backend
		rt.closers = append(rt.closers, backend.Close)
		rt.Health.Register(health.NewBackendChecker(driver, backend, section.QueryTimeout))
	}

	if cfg.DynamoDB.Region != "" {
		backend, err := dynamodb.New(ctx, dynamodb.Config{
			Region:           cfg.DynamoDB.Region,
			Endpoint:         cfg.DynamoDB.Endpoint,
			AccessKeyID:      cfg.DynamoDB.AccessKeyID,
			SecretAccessKey:  cfg.DynamoDB.SecretAccessKey,
			SessionToken:     cfg.DynamoDB.SessionToken,
			PartitionKey:     cfg.DynamoDB.PartitionKey,
			OperationTimeout: cfg.DynamoDB.OperationTimeout,
		}, rt.Log)
		if err != nil {
			return nil, fmt.Errorf("connect dynamodb: %w", err)
		}
		backends[dynamodb.Scheme] = backend
		rt.Health.Register(health.NewBackendChecker("dynamodb", backend, cfg.DynamoDB.OperationTimeout))
	}

	if cfg.MongoDB.URL != "" {
		backend, err := mongodb.New(ctx, mongodb.Config{
			URL:              cfg.MongoDB.URL,
			Database:         cfg.MongoDB.Database,
			ConnectTimeout:   cfg.MongoDB.ConnectTimeout,
			OperationTimeout: cfg.MongoDB.OperationTimeout,
		}, rt.Log)
		if err != nil {
			return nil, fmt.Errorf("connect mongodb: %w", err)
		}
		backends[mongodb.Scheme] = backend
		rt.closers = append(rt.closers, backend.Close)
		rt.Health.Register(health.NewBackendChecker("mongodb", backend, cfg.MongoDB.OperationTimeout))
	}

	if len(cfg.Memcached.Servers) > 0 {
		backend, err := memcached.New(memcached.Config{
			Servers:          cfg.Memcached.Servers,
			OperationTimeout: cfg.Memcached.OperationTimeout,
		}, rt.Log)
		if err != nil {
			return nil, fmt.Errorf("connect memcached: %w", err)
		}
		backends[memcached.Scheme] = backend
		rt.Health.Register(health.NewBackendChecker("memcached", backend, cfg.Memcached.OperationTimeout))
	}

	return backends, nil
}

// connectBus installs the refresh bus when one is supplied or configured.
func (rt *Runtime) connectBus(ctx context.Context, supplied bus.Transport) error {
	transport := supplied
	if transport == nil {
		if rt.Config.Bus.Type == "" {
			return nil
		}
		var err error
		transport, err = busfactory.NewTransport(ctx, rt.Config.Bus, rt.Config.Service.Name, rt.Instance, rt.Log)
		if err != nil {
			return fmt.Errorf("connect bus: %w", err)
		}
	}
	rt.Bus = transport
	rt.closers = append(rt.closers, transport.Close)
	rt.Health.Register(health.NewBackendChecker("bus", health.PingFunc(transport.HealthCheck), rt.Config.Bus.OperationTimeout))
	return nil
}

// PublishRefresh sends a refresh event for destination on the bus.
func (rt *Runtime) PublishRefresh(ctx context.Context, destination string) (string, error) {
	if rt.Bus == nil {
		return "", ErrBusNotConfigured
	}
	event := bus.NewRefreshEvent(rt.Instance, destination)
	if err := rt.Bus.Publish(ctx, event); err != nil {
		return "", err
	}
	rt.Log.Info("refresh event published", "event_id", event.ID, "destination", destination)
	return event.ID, nil
}

// Resolve resolves the configured imports on top of layers.
func (rt *Runtime) Resolve(ctx context.Context, layers configdata.Layers) (*configdata.Environment, error) {
	return rt.Resolver.Resolve(ctx, rt.Config.Config.Import, layers)
}

// Close flushes traces and releases backend connections.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.Tracer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rt.Tracer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
		}
	}
	for _, closer := range rt.closers {
		if err := closer(); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
