// Package config loads the bootstrap configuration: which imports to resolve,
// how to reach each backend, and how the process observes itself.
package config

import "time"

// Config is the bootstrap configuration.
type Config struct {
	Service       ServiceConfig       `mapstructure:"service"`
	Config        ImportConfig        `mapstructure:"config"`
	Resolution    ResolutionConfig    `mapstructure:"resolution"`
	Refresh       RefreshConfig       `mapstructure:"refresh"`
	Bus           BusConfig           `mapstructure:"bus"`
	Vault         VaultConfig         `mapstructure:"vault"`
	Redis         RedisConfig         `mapstructure:"redis"`
	S3            S3Config            `mapstructure:"s3"`
	Postgres      SQLConfig           `mapstructure:"postgres"`
	MySQL         SQLConfig           `mapstructure:"mysql"`
	DynamoDB      DynamoDBConfig      `mapstructure:"dynamodb"`
	MongoDB       MongoDBConfig       `mapstructure:"mongodb"`
	Memcached     MemcachedConfig     `mapstructure:"memcached"`
	File          FileConfig          `mapstructure:"file"`
	Management    ManagementConfig    `mapstructure:"management"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ServiceConfig configures service identity metadata.
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ImportConfig holds the import directives, e.g. "vault:secret/app".
type ImportConfig struct {
	Import []string `mapstructure:"import"`
}

// ResolutionConfig tunes how imports are fetched and stacked.
type ResolutionConfig struct {
	// Precedence is one of above-local, above-overrides or below-local.
	Precedence string `mapstructure:"precedence"`
	// ImportOrder is first-wins or last-wins.
	ImportOrder string `mapstructure:"import_order"`
	// Timeout bounds a whole resolve or refresh pass.
	Timeout time.Duration `mapstructure:"timeout"`
	// FetchTimeout bounds each backend fetch.
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	// Parallelism caps concurrent fetches within one pass.
	Parallelism int `mapstructure:"parallelism"`
	// BreakerFailures consecutive failures open a scheme's circuit breaker
	// for BreakerCooldown. Zero disables the breaker.
	BreakerFailures int           `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

// RefreshConfig controls when the environment is re-resolved.
type RefreshConfig struct {
	// Interval triggers a periodic refresh. Zero disables it.
	Interval time.Duration `mapstructure:"interval"`
	// MinInterval and Burst throttle refreshes from every trigger; excess
	// requests fail with ErrRefreshThrottled.
	MinInterval time.Duration `mapstructure:"min_interval"`
	Burst       int           `mapstructure:"burst"`
	// OnSignal refreshes on SIGHUP in watch mode.
	OnSignal bool `mapstructure:"on_signal"`
}

// BusConfig configures the refresh bus, which delivers refresh events
// published by other processes. It is enabled when Type is set.
type BusConfig struct {
	// Type is kafka, rabbitmq or sqs.
	Type string `mapstructure:"type"`
	// InstanceID identifies this process on the bus. A random id is used
	// when empty.
	InstanceID string `mapstructure:"instance_id"`

	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`

	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`

	QueueURL        string `mapstructure:"queue_url"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// VaultConfig configures the vault backend. It is enabled when Address is set.
type VaultConfig struct {
	Address      string `mapstructure:"address"`
	Namespace    string `mapstructure:"namespace"`
	Token        string `mapstructure:"token"`
	RoleID       string `mapstructure:"role_id"`
	SecretID     string `mapstructure:"secret_id"`
	AppRoleMount string `mapstructure:"approle_mount"`
	// KVVersion forces the KV engine version; 0 detects it from the mount.
	KVVersion  int           `mapstructure:"kv_version"`
	CACert     string        `mapstructure:"ca_cert"`
	SkipVerify bool          `mapstructure:"skip_verify"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// RedisConfig configures the redis backend. It is enabled when URL is set.
type RedisConfig struct {
	URL              string        `mapstructure:"url"`
	MaxConns         int           `mapstructure:"max_conns"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// S3Config configures the s3 backend. It is enabled when Region is set.
type S3Config struct {
	Region           string        `mapstructure:"region"`
	Endpoint         string        `mapstructure:"endpoint"`
	AccessKeyID      string        `mapstructure:"access_key_id"`
	SecretAccessKey  string        `mapstructure:"secret_access_key"`
	SessionToken     string        `mapstructure:"session_token"`
	UsePathStyle     bool          `mapstructure:"use_path_style"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	// HealthBucket, when set, is checked with HeadBucket by the health check.
	HealthBucket string `mapstructure:"health_bucket"`
}

// SQLConfig configures a relational backend. It is enabled when URL is set.
// For mysql the URL is a go-sql-driver DSN such as user:pass@tcp(host:3306)/db.
type SQLConfig struct {
	URL             string        `mapstructure:"url"`
	Table           string        `mapstructure:"table"`
	MaxConns        int           `mapstructure:"max_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
}

// DynamoDBConfig configures the dynamodb backend. It is enabled when Region is set.
type DynamoDBConfig struct {
	Region           string        `mapstructure:"region"`
	Endpoint         string        `mapstructure:"endpoint"`
	AccessKeyID      string        `mapstructure:"access_key_id"`
	SecretAccessKey  string        `mapstructure:"secret_access_key"`
	SessionToken     string        `mapstructure:"session_token"`
	PartitionKey     string        `mapstructure:"partition_key"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// MongoDBConfig configures the mongodb backend. It is enabled when URL is set.
type MongoDBConfig struct {
	URL              string        `mapstructure:"url"`
	Database         string        `mapstructure:"database"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// MemcachedConfig configures the memcached backend. It is enabled when
// Servers is not empty.
type MemcachedConfig struct {
	Servers          []string      `mapstructure:"servers"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// FileConfig configures the file backend, which is always enabled.
type FileConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// ManagementConfig configures the management HTTP server. It binds to the
// loopback interface unless Address says otherwise.
type ManagementConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Address is the interface to bind; "0.0.0.0" or "" exposes every interface.
	Address         string               `mapstructure:"address"`
	Port            int                  `mapstructure:"port"`
	ReadTimeout     time.Duration        `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration        `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration        `mapstructure:"shutdown_timeout"`
	Auth            ManagementAuthConfig `mapstructure:"auth"`
}

// ManagementAuthConfig enables bearer JWT checks on the property and refresh
// endpoints. Tokens are HMAC-signed with JWTSecret; Issuer and Audience are
// enforced when set.
type ManagementAuthConfig struct {
	// JWTSecret enables authentication when set; at least 32 bytes.
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
	Audience  string `mapstructure:"audience"`
}

// ObservabilityConfig configures logging, metrics and tracing.
type ObservabilityConfig struct {
	// LogLevel is debug, info, warn or error.
	LogLevel string `mapstructure:"log_level"`
	// LogFormat is json or text.
	LogFormat         string  `mapstructure:"log_format"`
	MetricsEnabled    bool    `mapstructure:"metrics_enabled"`
	TracingEnabled    bool    `mapstructure:"tracing_enabled"`
	TracingEndpoint   string  `mapstructure:"tracing_endpoint"`
	TracingSampleRate float64 `mapstructure:"tracing_sample_rate"`
	TracingInsecure   bool    `mapstructure:"tracing_insecure"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "configdata",
			Environment: "development",
		},
		Config: ImportConfig{Import: []string{}},
		Resolution: ResolutionConfig{
			Precedence:      "above-local",
			ImportOrder:     "first-wins",
			Timeout:         30 * time.Second,
			FetchTimeout:    10 * time.Second,
			Parallelism:     4,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Refresh: RefreshConfig{
			MinInterval: 5 * time.Second,
			Burst:       1,
			OnSignal:    true,
		},
		Bus: BusConfig{
			Brokers:          []string{},
			Topic:            "configdata.bus",
			Exchange:         "configdata.bus",
			OperationTimeout: 10 * time.Second,
		},
		Vault: VaultConfig{
			AppRoleMount: "approle",
			Timeout:      10 * time.Second,
		},
		Redis: RedisConfig{
			MaxConns:         4,
			OperationTimeout: 5 * time.Second,
		},
		S3: S3Config{
			OperationTimeout: 10 * time.Second,
		},
		Postgres: SQLConfig{
			Table:        "properties",
			MaxConns:     4,
			QueryTimeout: 5 * time.Second,
		},
		MySQL: SQLConfig{
			Table:        "properties",
			MaxConns:     4,
			QueryTimeout: 5 * time.Second,
		},
		DynamoDB: DynamoDBConfig{
			PartitionKey:     "id",
			OperationTimeout: 10 * time.Second,
		},
		MongoDB: MongoDBConfig{
			Database:         "config",
			ConnectTimeout:   5 * time.Second,
			OperationTimeout: 5 * time.Second,
		},
		Memcached: MemcachedConfig{
			Servers:          []string{},
			OperationTimeout: 500 * time.Millisecond,
		},
		Management: ManagementConfig{
			Enabled:         false,
			Address:         "127.0.0.1",
			Port:            9090,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogFormat:         "json",
			MetricsEnabled:    true,
			TracingSampleRate: 0.1,
			TracingInsecure:   true,
		},
	}
}
